package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewMessage_DefaultsAndValidation(t *testing.T) {
	if _, err := NewMessage(MessageInput{}); err == nil {
		t.Fatalf("expected error for empty title and body")
	}
	if _, err := NewMessage(MessageInput{Title: "x", Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := NewMessage(MessageInput{Title: "x", Actions: []Action{{Label: "open"}}}); err == nil {
		t.Fatalf("expected error for action without url")
	}

	msg, err := NewMessage(MessageInput{Title: " Deploy ", Body: "done"})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if msg.Level() != LevelInfo {
		t.Fatalf("expected default info level, got %q", msg.Level())
	}
	if msg.SourceKind() != SourceSystem {
		t.Fatalf("expected default system source kind, got %q", msg.SourceKind())
	}
	if msg.Title() != "Deploy" {
		t.Fatalf("expected trimmed title, got %q", msg.Title())
	}
	if msg.CreatedAt().IsZero() {
		t.Fatalf("expected created_at to be stamped")
	}
}

func TestNewMessage_IsImmutableAfterConstruction(t *testing.T) {
	fields := []Field{{Key: "k", Value: "v"}}
	overrides := map[ChannelKind]json.RawMessage{ChannelSlack: json.RawMessage(`{"text":"x"}`)}
	msg, err := NewMessage(MessageInput{
		Title:     "alert",
		Level:     LevelError,
		Fields:    fields,
		Overrides: overrides,
	})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}

	fields[0].Value = "mutated"
	overrides[ChannelSlack][2] = 'X'
	returned := msg.Fields()
	returned[0].Key = "changed"

	if got := msg.Fields()[0]; got.Key != "k" || got.Value != "v" {
		t.Fatalf("expected fields to be isolated, got %#v", got)
	}
	raw, ok := msg.Override(ChannelSlack)
	if !ok || string(raw) != `{"text":"x"}` {
		t.Fatalf("expected override to be isolated, got %s", raw)
	}
	if _, ok := msg.Override(ChannelTeams); ok {
		t.Fatalf("expected no teams override")
	}
}

func TestNotificationMessage_JSONRoundTripKeepsOrder(t *testing.T) {
	createdAt := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	msg, err := NewMessage(MessageInput{
		Title:         "build",
		Body:          "failed",
		Level:         LevelCritical,
		Fields:        []Field{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}},
		SourceKind:    SourceWorkflow,
		Source:        "wf_1",
		CorrelationID: "corr_1",
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded NotificationMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fields := decoded.Fields()
	if len(fields) != 2 || fields[0].Key != "b" || fields[1].Key != "a" {
		t.Fatalf("expected field order preserved, got %#v", fields)
	}
	if decoded.Level() != LevelCritical || decoded.SourceKind() != SourceWorkflow {
		t.Fatalf("unexpected decoded message: %#v", decoded.Input())
	}
	if !decoded.CreatedAt().Equal(createdAt) {
		t.Fatalf("expected created_at %s, got %s", createdAt, decoded.CreatedAt())
	}
}

func TestLevel_Ordering(t *testing.T) {
	ordered := []Level{LevelDebug, LevelInfo, LevelSuccess, LevelWarning, LevelError, LevelCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Severity() <= ordered[i-1].Severity() {
			t.Fatalf("expected %s to be more severe than %s", ordered[i], ordered[i-1])
		}
	}
	if !LevelError.AtLeast(LevelWarning) {
		t.Fatalf("expected error >= warning")
	}
	if LevelInfo.AtLeast(LevelWarning) {
		t.Fatalf("expected info < warning")
	}
	if !LevelDebug.AtLeast("") {
		t.Fatalf("expected empty minimum to admit every level")
	}
}

func TestQuietHours_Contains(t *testing.T) {
	overnight := QuietHours{Start: "22:00", End: "07:00"}
	if !overnight.Contains(time.Date(2026, 2, 13, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected 23:30 inside overnight window")
	}
	if !overnight.Contains(time.Date(2026, 2, 13, 6, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected 06:59 inside overnight window")
	}
	if overnight.Contains(time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected noon outside overnight window")
	}
	daytime := QuietHours{Start: "09:00", End: "17:00"}
	if !daytime.Contains(time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected start boundary inside window")
	}
	if daytime.Contains(time.Date(2026, 2, 13, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected end boundary outside window")
	}
	if (QuietHours{}).Contains(time.Now()) {
		t.Fatalf("expected zero window to never match")
	}
}

func TestSendResult_SuccessAndFailures(t *testing.T) {
	result := SendResult{Results: []NotificationResult{
		{ChannelID: "a", Success: true},
		{ChannelID: "b", Success: false, ErrorKind: ErrorKindChannelUnavailable},
	}}
	if result.Success() {
		t.Fatalf("expected partial failure to not be a success")
	}
	failures := result.Failures()
	if len(failures) != 1 || failures[0].ChannelID != "b" {
		t.Fatalf("unexpected failures: %#v", failures)
	}
	if (SendResult{}).Success() {
		t.Fatalf("expected empty result to not be a success")
	}
}

func TestWebhookEndpoint_Validate(t *testing.T) {
	endpoint := WebhookEndpoint{
		ID:         "ep_1",
		Path:       "hooks/x/",
		AuthMethod: AuthHMAC,
		TargetKind: TargetAgent,
		TargetID:   "agent_1",
	}
	if err := endpoint.Validate(); err == nil {
		t.Fatalf("expected missing secret hash error")
	}
	endpoint.SecretHash = "hash"
	if err := endpoint.Validate(); err != nil {
		t.Fatalf("expected valid endpoint: %v", err)
	}
	if got := NormalizePath(endpoint.Path); got != "/hooks/x" {
		t.Fatalf("expected normalized path /hooks/x, got %q", got)
	}
	endpoint.AuthMethod = AuthNone
	endpoint.SecretHash = ""
	if err := endpoint.Validate(); err != nil {
		t.Fatalf("expected none auth without secret to validate: %v", err)
	}
}
