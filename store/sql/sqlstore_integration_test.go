package sqlstore_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/security"
	sqlstore "github.com/goliatone/go-notify/store/sql"
	"github.com/goliatone/go-notify/webhooks"
	persistence "github.com/goliatone/go-persistence-bun"
	"golang.org/x/crypto/bcrypt"
)

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client := newSQLiteClient(t)

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"webhook_event_outcomes",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "webhook_event_outcomes" {
		t.Fatalf("expected webhook_event_outcomes table, got %q", tableName)
	}
}

func TestChannelStore_SealsCredentialsAndUpdatesFlags(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	channels := stores.Channels()

	saved, err := channels.SaveChannel(ctx, core.ChannelConfig{
		ID:          "ops-slack",
		Kind:        core.ChannelSlack,
		Name:        "Ops",
		Credentials: map[string]string{"webhook_url": "https://hooks.slack.test/T000/B000/XXXX"},
		Settings:    map[string]string{"channel": "#ops"},
		Enabled:     true,
		Healthy:     true,
		RateLimit:   core.RateLimitSpec{Permits: 1, Interval: time.Second, Burst: 1},
	})
	if err != nil {
		t.Fatalf("save channel: %v", err)
	}
	if saved.Credentials["webhook_url"] == "" || saved.RateLimit.Interval != time.Second {
		t.Fatalf("unexpected saved channel %#v", saved)
	}

	var raw []byte
	if err := stores.DB().NewRaw("SELECT credentials FROM notify_channels WHERE id = ?", "ops-slack").Scan(ctx, &raw); err != nil {
		t.Fatalf("read raw credentials: %v", err)
	}
	if len(raw) == 0 || string(raw) == `{"webhook_url":"https://hooks.slack.test/T000/B000/XXXX"}` {
		t.Fatalf("expected credentials to be sealed at rest")
	}

	if err := channels.SetChannelEnabled(ctx, "ops-slack", false); err != nil {
		t.Fatalf("disable channel: %v", err)
	}
	if err := channels.SetChannelHealthy(ctx, "ops-slack", false); err != nil {
		t.Fatalf("mark unhealthy: %v", err)
	}
	loaded, err := channels.GetChannel(ctx, "ops-slack")
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if loaded.Enabled || loaded.Healthy {
		t.Fatalf("expected flags to be persisted, got enabled=%v healthy=%v", loaded.Enabled, loaded.Healthy)
	}

	saved.Name = "Operations"
	if _, err := channels.SaveChannel(ctx, saved); err != nil {
		t.Fatalf("resave channel: %v", err)
	}
	if _, err := channels.SaveChannel(ctx, core.ChannelConfig{ID: "alerts-sms", Kind: core.ChannelSMS, Enabled: true, Healthy: true}); err != nil {
		t.Fatalf("save second channel: %v", err)
	}
	list, err := channels.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list channels: %v", err)
	}
	if len(list) != 2 || list[0].ID != "alerts-sms" || list[1].Name != "Operations" {
		t.Fatalf("unexpected channel list %#v", list)
	}

	_, err = channels.GetChannel(ctx, "missing")
	assertHTTPCode(t, err, http.StatusNotFound)
	assertHTTPCode(t, channels.SetChannelEnabled(ctx, "missing", true), http.StatusNotFound)
}

func TestPreferenceStore_UpsertsPerUserChannel(t *testing.T) {
	ctx := context.Background()
	prefs := newStores(t).Preferences()

	if _, err := prefs.SavePreference(ctx, core.UserPreference{UserID: "u-1", ChannelID: "sms", Address: "+15550100", MinLevel: core.LevelError}); err != nil {
		t.Fatalf("save sms preference: %v", err)
	}
	if _, err := prefs.SavePreference(ctx, core.UserPreference{
		UserID:     "u-1",
		ChannelID:  "email",
		Address:    "a@example.test",
		QuietHours: core.QuietHours{Start: "22:00", End: "07:00", Location: "UTC"},
	}); err != nil {
		t.Fatalf("save email preference: %v", err)
	}
	if _, err := prefs.SavePreference(ctx, core.UserPreference{UserID: "u-1", ChannelID: "sms", Address: "+15550199", MinLevel: core.LevelWarning}); err != nil {
		t.Fatalf("update sms preference: %v", err)
	}
	if _, err := prefs.SavePreference(ctx, core.UserPreference{UserID: "u-1", ChannelID: "sms", MinLevel: "loud"}); err == nil {
		t.Fatalf("expected invalid level to be rejected")
	}

	list, err := prefs.ListPreferences(ctx, "u-1")
	if err != nil {
		t.Fatalf("list preferences: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two preferences, got %d", len(list))
	}
	if list[0].ChannelID != "email" || list[0].QuietHours.End != "07:00" {
		t.Fatalf("unexpected email preference %#v", list[0])
	}
	if list[1].Address != "+15550199" || list[1].MinLevel != core.LevelWarning {
		t.Fatalf("expected sms preference to be updated, got %#v", list[1])
	}

	if err := prefs.DeletePreference(ctx, "u-1", "email"); err != nil {
		t.Fatalf("delete preference: %v", err)
	}
	if list, _ := prefs.ListPreferences(ctx, "u-1"); len(list) != 1 {
		t.Fatalf("expected one preference after delete, got %d", len(list))
	}
}

func TestAuditStore_AppendOnlyWithRecentLimit(t *testing.T) {
	ctx := context.Background()
	audit := newStores(t).Audit()
	base := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		status := core.AuditStatusSent
		if i == 1 {
			status = core.AuditStatusFailed
		}
		if err := audit.Append(ctx, core.AuditEntry{
			NotificationID: "n-1",
			ChannelID:      fmt.Sprintf("ch-%d", i),
			Status:         status,
			Attempts:       i + 1,
			Priority:       core.PriorityNormal,
			Level:          core.LevelInfo,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
			FinishedAt:     base.Add(time.Duration(i)*time.Minute + time.Second),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := audit.Append(ctx, core.AuditEntry{ChannelID: "x"}); err == nil {
		t.Fatalf("expected entry without notification id to be rejected")
	}

	recent, err := audit.List(ctx, core.AuditFilter{NotificationID: "n-1", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 2 || recent[0].ChannelID != "ch-1" || recent[1].ChannelID != "ch-2" {
		t.Fatalf("expected the two most recent entries oldest first, got %#v", recent)
	}

	failed, err := audit.List(ctx, core.AuditFilter{Status: core.AuditStatusFailed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 2 {
		t.Fatalf("unexpected failed entries %#v", failed)
	}
}

func TestEventStore_OutcomesAreSeparateRecords(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	events := stores.Events()
	received := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	event := core.WebhookEvent{
		ID:         "evt-1",
		EndpointID: "ep-1",
		EventType:  "build",
		Payload:    []byte(`{"type":"build"}`),
		Headers:    map[string]string{"X-Signature": core.RedactedValue},
		SourceIP:   "10.0.0.1",
		ReceivedAt: received,
		Verified:   true,
		State:      core.StateAccepted,
	}
	if err := events.AppendEvent(ctx, event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := events.AppendEvent(ctx, event); core.KindOf(err) != core.ErrorKindDuplicate {
		t.Fatalf("expected duplicate kind, got %v", err)
	}
	if err := events.AppendEvent(ctx, core.WebhookEvent{ID: "evt-2", EndpointID: "ep-2", EventType: "x", Payload: []byte(`"raw"`), ReceivedAt: received.Add(time.Second), State: core.StateRejected}); err != nil {
		t.Fatalf("append second event: %v", err)
	}

	processed := event
	processed.State = core.StateProcessed
	processed.Processed = true
	processed.ProcessResult = map[string]any{"run": "r-1"}
	if err := events.AppendOutcome(ctx, processed); err != nil {
		t.Fatalf("append outcome: %v", err)
	}
	if err := events.AppendOutcome(ctx, core.WebhookEvent{ID: "missing", State: core.StateProcessed}); err == nil {
		t.Fatalf("expected outcome for unknown event to fail")
	}

	var state string
	if err := stores.DB().NewRaw("SELECT state FROM webhook_events WHERE id = ?", "evt-1").Scan(ctx, &state); err != nil {
		t.Fatalf("read raw event: %v", err)
	}
	if state != string(core.StateAccepted) {
		t.Fatalf("expected stored event row to stay %q, got %q", core.StateAccepted, state)
	}

	all, err := events.ListEvents(ctx, core.WebhookEventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(all) != 2 || all[0].State != core.StateProcessed || !all[0].Processed || all[0].ProcessResult["run"] != "r-1" {
		t.Fatalf("expected latest outcome to be merged, got %#v", all)
	}
	if all[0].Headers["X-Signature"] != core.RedactedValue {
		t.Fatalf("expected headers to round trip")
	}

	rejected, err := events.ListEvents(ctx, core.WebhookEventFilter{State: core.StateRejected})
	if err != nil {
		t.Fatalf("list rejected: %v", err)
	}
	if len(rejected) != 1 || rejected[0].ID != "evt-2" {
		t.Fatalf("unexpected rejected events %#v", rejected)
	}
	byEndpoint, _ := events.ListEvents(ctx, core.WebhookEventFilter{EndpointID: "ep-1", Limit: 1})
	if len(byEndpoint) != 1 || byEndpoint[0].ID != "evt-1" {
		t.Fatalf("unexpected endpoint events %#v", byEndpoint)
	}
}

func TestEndpointStore_BacksReceiverEndToEnd(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	provider, err := security.NewAppKeySecretProvider([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	hasher := security.BcryptHasher{Cost: bcrypt.MinCost}
	hash, sealed, err := webhooks.SealSecret(ctx, provider, hasher, []byte("S"))
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}

	registry := webhooks.NewEndpointRegistry(stores.Endpoints())
	if _, err := registry.Register(ctx, core.WebhookEndpoint{
		ID:           "ep-x",
		Path:         "hooks/x/",
		AuthMethod:   core.AuthHMAC,
		SecretHash:   hash,
		SealedSecret: sealed,
		TargetKind:   core.TargetWorkflow,
		TargetID:     "wf-deploy",
		Active:       true,
	}); err != nil {
		t.Fatalf("register endpoint: %v", err)
	}
	if _, err := stores.Endpoints().SaveEndpoint(ctx, core.WebhookEndpoint{
		ID: "ep-y", Path: "/hooks/x", AuthMethod: core.AuthNone, TargetKind: core.TargetAgent, TargetID: "a", Active: true,
	}); err == nil {
		t.Fatalf("expected database path uniqueness to be enforced")
	}

	// A fresh registry loads what the first one persisted.
	reloaded := webhooks.NewEndpointRegistry(stores.Endpoints())
	if count, err := reloaded.Load(ctx); err != nil || count != 1 {
		t.Fatalf("expected one endpoint to load, got count=%d err=%v", count, err)
	}
	var dispatched int
	consumer := core.EventConsumerFunc(func(context.Context, core.TargetKind, string, core.WebhookEvent) (core.DispatchOutcome, error) {
		dispatched++
		return core.DispatchOutcome{Accepted: true}, nil
	})
	receiver, err := webhooks.NewReceiver(reloaded, consumer,
		webhooks.WithKeyResolver(webhooks.NewKeyResolver(provider, hasher)),
		webhooks.WithEventLog(stores.Events()),
	)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	body := []byte(`{"type":"deploy.finished"}`)
	response := receiver.Receive(ctx, core.InboundRequest{
		Path:    "/hooks/x",
		Method:  http.MethodPost,
		Headers: map[string]string{"X-Signature": security.Sign([]byte("S"), "", body)},
		Body:    body,
	})
	if response.StatusCode != http.StatusOK || response.State != core.StateProcessed {
		t.Fatalf("expected processed delivery, got %#v", response)
	}
	if dispatched != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatched)
	}
	stored, err := stores.Events().ListEvents(ctx, core.WebhookEventFilter{EndpointID: "ep-x"})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(stored) != 1 || stored[0].State != core.StateProcessed || stored[0].EventType != "deploy.finished" {
		t.Fatalf("unexpected stored events %#v", stored)
	}
	if stored[0].Headers["X-Signature"] != core.RedactedValue {
		t.Fatalf("expected signature header to be redacted at rest")
	}

	if err := registry.Deactivate(ctx, "ep-x"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	endpoint, err := stores.Endpoints().GetEndpointByPath(ctx, "/hooks/x")
	if err != nil {
		t.Fatalf("get by path: %v", err)
	}
	if endpoint.Active {
		t.Fatalf("expected deactivation to be persisted")
	}
}

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:notify-test-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	client, err := sqlstore.Open(context.Background(), sqlstore.OpenConfig{
		Driver:  sqlstore.DriverSQLite,
		DSN:     dsn,
		Migrate: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func newStores(t *testing.T) *sqlstore.Stores {
	t.Helper()
	provider, err := security.NewAppKeySecretProvider([]byte("fedcba9876543210fedcba9876543210"))
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	stores, err := sqlstore.NewStoresFromPersistence(newSQLiteClient(t), provider)
	if err != nil {
		t.Fatalf("new stores: %v", err)
	}
	return stores
}

func assertHTTPCode(t *testing.T, err error, code int) {
	t.Helper()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != code {
		t.Fatalf("expected error with code %d, got %v", code, err)
	}
}
