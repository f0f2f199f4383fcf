package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/security"
)

var testNow = time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

type recordingConsumer struct {
	mu      sync.Mutex
	events  []core.WebhookEvent
	targets []string
	err     error
	decline bool
	panics  bool
}

func (c *recordingConsumer) Dispatch(_ context.Context, kind core.TargetKind, targetID string, event core.WebhookEvent) (core.DispatchOutcome, error) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.targets = append(c.targets, string(kind)+"/"+targetID)
	c.mu.Unlock()
	if c.panics {
		panic("workflow crashed")
	}
	if c.err != nil {
		return core.DispatchOutcome{}, c.err
	}
	return core.DispatchOutcome{Accepted: !c.decline, Result: map[string]any{"run_id": "run-1"}}, nil
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type receiverFixture struct {
	receiver *Receiver
	registry *EndpointRegistry
	keys     *KeyResolver
	events   *MemoryEventLog
	clock    *time.Time
}

func newReceiverFixture(t *testing.T, consumer core.EventConsumer) *receiverFixture {
	t.Helper()
	provider, err := security.NewAppKeySecretProvider([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("secret provider: %v", err)
	}
	clock := testNow
	now := func() time.Time { return clock }
	registry := NewEndpointRegistry(nil)
	registry.Now = now
	keys := NewKeyResolver(provider, security.BcryptHasher{Cost: bcrypt.MinCost})
	events := NewMemoryEventLog()
	sequence := 0
	receiver, err := NewReceiver(registry, consumer,
		WithKeyResolver(keys),
		WithEventLog(events),
		WithClock(now),
		WithIDGenerator(func() string {
			sequence++
			return "evt-" + strconv.Itoa(sequence)
		}),
	)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	return &receiverFixture{receiver: receiver, registry: registry, keys: keys, events: events, clock: &clock}
}

func (f *receiverFixture) register(t *testing.T, endpoint core.WebhookEndpoint, secret string) core.WebhookEndpoint {
	t.Helper()
	if secret != "" {
		hash, sealed, err := SealSecret(context.Background(), f.keys.Secrets, f.keys.Hasher, []byte(secret))
		if err != nil {
			t.Fatalf("seal secret: %v", err)
		}
		endpoint.SecretHash = hash
		endpoint.SealedSecret = sealed
	}
	if endpoint.TargetKind == "" {
		endpoint.TargetKind = core.TargetWorkflow
		endpoint.TargetID = "wf-deploy"
	}
	endpoint.Active = true
	registered, err := f.registry.Register(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("register endpoint: %v", err)
	}
	return registered
}

func hmacRequest(path string, secret string, body string) core.InboundRequest {
	return core.InboundRequest{
		Path:     path,
		Method:   http.MethodPost,
		Headers:  map[string]string{"X-Signature": security.Sign([]byte(secret), "", []byte(body))},
		Body:     []byte(body),
		SourceIP: "203.0.113.7",
	}
}

func TestReceiver_HMACAcceptDuplicateReject(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-x", Path: "/hooks/x", AuthMethod: core.AuthHMAC}, "S")
	body := `{"type":"deploy.finished","id":42}`

	first := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "S", body))
	if first.StatusCode != http.StatusOK || !first.Success || first.State != core.StateProcessed {
		t.Fatalf("expected processed delivery, got %#v", first)
	}

	second := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "S", body))
	if second.StatusCode != http.StatusOK || !second.Success || second.State != core.StateDuplicate {
		t.Fatalf("expected idempotent duplicate response, got %#v", second)
	}

	third := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "wrong", body))
	if third.StatusCode != http.StatusUnauthorized || third.Success || third.State != core.StateRejected {
		t.Fatalf("expected rejected delivery, got %#v", third)
	}

	if consumer.count() != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", consumer.count())
	}
	if consumer.targets[0] != "workflow/wf-deploy" {
		t.Fatalf("unexpected dispatch target %q", consumer.targets[0])
	}
	if consumer.events[0].EventType != "deploy.finished" {
		t.Fatalf("expected event type from body, got %q", consumer.events[0].EventType)
	}

	events, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{EndpointID: "ep-x"})
	if len(events) != 3 {
		t.Fatalf("expected three logged events, got %d", len(events))
	}
	if !events[0].Verified || !events[0].Processed || events[0].ProcessResult["run_id"] != "run-1" {
		t.Fatalf("unexpected processed event: %#v", events[0])
	}
	if events[1].State != core.StateDuplicate || events[1].ErrorKind != core.ErrorKindDuplicate {
		t.Fatalf("unexpected duplicate event: %#v", events[1])
	}
	if events[2].Verified || events[2].ErrorKind != core.ErrorKindSignatureInvalid {
		t.Fatalf("expected unverified rejected event, got %#v", events[2])
	}
	if events[0].Headers["X-Signature"] != core.RedactedValue {
		t.Fatalf("expected signature header redacted in the log, got %#v", events[0].Headers)
	}
}

func TestReceiver_ReencodedSignatureIsDuplicate(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-x", Path: "/hooks/x", AuthMethod: core.AuthHMAC}, "S")
	body := `{"type":"build"}`
	signed := security.Sign([]byte("S"), "", []byte(body))
	bare := strings.TrimPrefix(signed, security.SignaturePrefix)

	for i, signature := range []string{signed, bare, strings.ToUpper(bare)} {
		req := hmacRequest("/hooks/x", "S", body)
		req.Headers["X-Signature"] = signature
		response := fixture.receiver.Receive(context.Background(), req)
		want := core.StateDuplicate
		if i == 0 {
			want = core.StateProcessed
		}
		if response.StatusCode != http.StatusOK || response.State != want {
			t.Fatalf("signature %q: expected %s, got %#v", signature, want, response)
		}
	}
	if consumer.count() != 1 {
		t.Fatalf("expected one dispatch for one delivery, got %d", consumer.count())
	}
}

func TestReceiver_RetryAfterDispatchFailureIsProcessed(t *testing.T) {
	consumer := &recordingConsumer{err: errors.New("workflow engine down")}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-x", Path: "/hooks/x", AuthMethod: core.AuthHMAC}, "S")
	body := `{"type":"build"}`

	first := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "S", body))
	if first.StatusCode != http.StatusBadGateway || first.State != core.StateDispatchFailed {
		t.Fatalf("expected dispatch_failed 502, got %#v", first)
	}

	consumer.mu.Lock()
	consumer.err = nil
	consumer.mu.Unlock()

	retry := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "S", body))
	if retry.StatusCode != http.StatusOK || retry.State != core.StateProcessed {
		t.Fatalf("expected the provider retry to be processed, got %#v", retry)
	}
	again := fixture.receiver.Receive(context.Background(), hmacRequest("/hooks/x", "S", body))
	if again.State != core.StateDuplicate {
		t.Fatalf("expected a delivery after success to be a duplicate, got %#v", again)
	}
	if consumer.count() != 2 {
		t.Fatalf("expected two dispatch attempts, got %d", consumer.count())
	}
	processed, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{EndpointID: "ep-x", State: core.StateProcessed})
	if len(processed) != 1 {
		t.Fatalf("expected one processed event, got %d", len(processed))
	}
}

func TestReceiver_UnknownOrInactivePathRecordsNothing(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-off", Path: "/hooks/off", AuthMethod: core.AuthNone}, "")
	if err := fixture.registry.Deactivate(context.Background(), "ep-off"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	for _, path := range []string{"/hooks/missing", "/hooks/off"} {
		response := fixture.receiver.Receive(context.Background(), core.InboundRequest{Path: path, Method: http.MethodPost, Body: []byte(`{}`)})
		if response.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, response.StatusCode)
		}
	}
	events, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{})
	if len(events) != 0 || consumer.count() != 0 {
		t.Fatalf("expected no events and no dispatch, got %d events", len(events))
	}
}

func TestReceiver_TimestampOutsideWindowIsRejected(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-ts", Path: "/hooks/ts", AuthMethod: core.AuthHMAC, TimestampHeader: "X-Timestamp"}, "S")

	body := []byte(`{"type":"ping"}`)
	stale := strconv.FormatInt(testNow.Add(-6*time.Minute).Unix(), 10)
	response := fixture.receiver.Receive(context.Background(), core.InboundRequest{
		Path:   "/hooks/ts",
		Method: http.MethodPost,
		Headers: map[string]string{
			"X-Timestamp": stale,
			"X-Signature": security.Sign([]byte("S"), stale, body),
		},
		Body: body,
	})
	if response.StatusCode != http.StatusUnauthorized || response.State != core.StateRejected {
		t.Fatalf("expected stale timestamp rejection, got %#v", response)
	}
	events, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{})
	if len(events) != 1 || events[0].ErrorKind != core.ErrorKindExpired || !events[0].Verified {
		t.Fatalf("expected verified expired event, got %#v", events)
	}

	fresh := strconv.FormatInt(testNow.Add(-4*time.Minute).Unix(), 10)
	response = fixture.receiver.Receive(context.Background(), core.InboundRequest{
		Path:   "/hooks/ts",
		Method: http.MethodPost,
		Headers: map[string]string{
			"X-Timestamp": fresh,
			"X-Signature": security.Sign([]byte("S"), fresh, body),
		},
		Body: body,
	})
	if response.State != core.StateProcessed {
		t.Fatalf("expected timestamp inside the window to be processed, got %#v", response)
	}
}

func TestReceiver_DispatchFailureIsRecorded(t *testing.T) {
	cases := []struct {
		name     string
		consumer *recordingConsumer
	}{
		{name: "error", consumer: &recordingConsumer{err: errors.New("agent offline")}},
		{name: "declined", consumer: &recordingConsumer{decline: true}},
		{name: "panic", consumer: &recordingConsumer{panics: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fixture := newReceiverFixture(t, tc.consumer)
			fixture.register(t, core.WebhookEndpoint{ID: "ep-a", Path: "/hooks/agent", AuthMethod: core.AuthNone, TargetKind: core.TargetAgent, TargetID: "agent-7"}, "")

			response := fixture.receiver.Receive(context.Background(), core.InboundRequest{Path: "/hooks/agent", Method: http.MethodPost, Body: []byte(`{"event":"alert"}`)})
			if response.StatusCode != http.StatusBadGateway || response.State != core.StateDispatchFailed {
				t.Fatalf("expected dispatch_failed 502, got %#v", response)
			}
			events, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{State: core.StateDispatchFailed})
			if len(events) != 1 || events[0].Processed || events[0].ErrorMessage == "" {
				t.Fatalf("expected one failed event with detail, got %#v", events)
			}
			if tc.consumer.count() != 1 {
				t.Fatalf("expected no automatic retry, got %d dispatches", tc.consumer.count())
			}
		})
	}
}

func TestReceiver_JWTAuthentication(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-jwt", Path: "/hooks/jwt", AuthMethod: core.AuthJWT}, "jwt-secret")

	sign := func(claims jwt.MapClaims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		return token
	}
	send := func(token string) core.WebhookResponse {
		return fixture.receiver.Receive(context.Background(), core.InboundRequest{
			Path:    "/hooks/jwt",
			Method:  http.MethodPost,
			Headers: map[string]string{"Authorization": "Bearer " + token},
			Body:    []byte(`{"type":"job.done"}`),
		})
	}

	valid := sign(jwt.MapClaims{"exp": testNow.Add(time.Minute).Unix(), "iat": testNow.Unix(), "jti": "j-1"}, "jwt-secret")
	if response := send(valid); response.State != core.StateProcessed {
		t.Fatalf("expected valid token to be processed, got %#v", response)
	}
	reissued := sign(jwt.MapClaims{"exp": testNow.Add(2 * time.Minute).Unix(), "iat": testNow.Unix(), "jti": "j-1"}, "jwt-secret")
	if response := send(reissued); response.State != core.StateDuplicate {
		t.Fatalf("expected reused jti to be a duplicate, got %#v", response)
	}
	expired := sign(jwt.MapClaims{"exp": testNow.Add(-time.Minute).Unix(), "jti": "j-2"}, "jwt-secret")
	if response := send(expired); response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected expired token rejection, got %#v", response)
	}
	forged := sign(jwt.MapClaims{"exp": testNow.Add(time.Minute).Unix(), "jti": "j-3"}, "other")
	if response := send(forged); response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected forged token rejection, got %#v", response)
	}

	rejected, _ := fixture.events.ListEvents(context.Background(), core.WebhookEventFilter{State: core.StateRejected})
	if len(rejected) != 2 || rejected[0].ErrorKind != core.ErrorKindExpired || rejected[1].ErrorKind != core.ErrorKindSignatureInvalid {
		t.Fatalf("unexpected rejected events: %#v", rejected)
	}
	if consumer.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", consumer.count())
	}
}

func TestReceiver_APIKeyUsesDeliveryIDForReplay(t *testing.T) {
	consumer := &recordingConsumer{}
	fixture := newReceiverFixture(t, consumer)
	fixture.register(t, core.WebhookEndpoint{ID: "ep-key", Path: "/hooks/key", AuthMethod: core.AuthAPIKey}, "k-123")

	send := func(key string, delivery string) core.WebhookResponse {
		return fixture.receiver.Receive(context.Background(), core.InboundRequest{
			Path:    "/hooks/key",
			Method:  http.MethodPost,
			Headers: map[string]string{"X-API-Key": key, "X-Delivery-Id": delivery},
			Body:    []byte(`{"type":"sync"}`),
		})
	}
	if response := send("k-123", "d-1"); response.State != core.StateProcessed {
		t.Fatalf("expected processed, got %#v", response)
	}
	if response := send("k-123", "d-2"); response.State != core.StateProcessed {
		t.Fatalf("expected a new delivery id to be processed, got %#v", response)
	}
	if response := send("k-123", "d-1"); response.State != core.StateDuplicate {
		t.Fatalf("expected repeated delivery id to be a duplicate, got %#v", response)
	}
	if response := send("nope", "d-3"); response.State != core.StateRejected {
		t.Fatalf("expected wrong key rejection, got %#v", response)
	}
}

func TestEndpointRegistry_PathsAreUnique(t *testing.T) {
	registry := NewEndpointRegistry(nil)
	base := core.WebhookEndpoint{Path: "/hooks/shared/", AuthMethod: core.AuthNone, TargetKind: core.TargetSwarm, TargetID: "swarm-1", Active: true}

	first := base
	first.ID = "ep-1"
	if _, err := registry.Register(context.Background(), first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	second := base
	second.ID = "ep-2"
	_, err := registry.Register(context.Background(), second)
	if core.MapError(err).TextCode != core.ServiceErrorConflict {
		t.Fatalf("expected path conflict, got %v", err)
	}

	moved := first
	moved.Path = "/hooks/moved"
	if _, err := registry.Register(context.Background(), moved); err != nil {
		t.Fatalf("move endpoint: %v", err)
	}
	if _, err := registry.Register(context.Background(), second); err != nil {
		t.Fatalf("expected freed path to be claimable: %v", err)
	}
	if endpoint, ok := registry.Lookup("hooks/shared"); !ok || endpoint.ID != "ep-2" {
		t.Fatalf("expected ep-2 to own the path, got %#v", endpoint)
	}
}

func TestKeyResolver_RejectsSecretNotMatchingHash(t *testing.T) {
	provider, _ := security.NewAppKeySecretProvider([]byte("0123456789abcdef0123456789abcdef"))
	hasher := security.BcryptHasher{Cost: bcrypt.MinCost}
	resolver := NewKeyResolver(provider, hasher)

	hash, _, err := SealSecret(context.Background(), provider, hasher, []byte("right"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, sealedWrong, _ := SealSecret(context.Background(), provider, hasher, []byte("wrong"))
	endpoint := core.WebhookEndpoint{ID: "ep", AuthMethod: core.AuthHMAC, SecretHash: hash, SealedSecret: sealedWrong, UpdatedAt: testNow}
	if _, err := resolver.Resolve(context.Background(), endpoint); err == nil {
		t.Fatalf("expected mismatching sealed secret to fail")
	}

	_, sealedRight, _ := SealSecret(context.Background(), provider, hasher, []byte("right"))
	endpoint.SealedSecret = sealedRight
	secret, err := resolver.Resolve(context.Background(), endpoint)
	if err != nil || string(secret) != "right" {
		t.Fatalf("expected resolved secret, got %q %v", secret, err)
	}
}

func TestReplayGuard_PurgeAndCapacity(t *testing.T) {
	clock := testNow
	guard := NewReplayGuard(core.ReplayConfig{Window: time.Minute, MaxEntries: 2})
	guard.Now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if decision := guard.Check("ep", Verification{Signature: fmt.Sprintf("sig-%d", i)}); decision != ReplayFresh {
			t.Fatalf("signature %d: expected fresh, got %s", i, decision)
		}
		clock = clock.Add(time.Second)
	}
	if guard.Len() != 2 {
		t.Fatalf("expected capacity to bound the ledger, got %d", guard.Len())
	}
	if decision := guard.Check("ep", Verification{Signature: "sig-2"}); decision != ReplayDuplicate {
		t.Fatalf("expected newest signature to still be remembered, got %s", decision)
	}
	if decision := guard.Check("other", Verification{Signature: "sig-2"}); decision != ReplayFresh {
		t.Fatalf("expected keys to be scoped per endpoint, got %s", decision)
	}

	clock = clock.Add(2 * time.Minute)
	if purged := guard.PurgeExpired(context.Background()); purged != 2 {
		t.Fatalf("expected two purged entries, got %d", purged)
	}
	if decision := guard.Check("ep", Verification{Timestamp: clock.Add(-90 * time.Second)}); decision != ReplayExpired {
		t.Fatalf("expected skew beyond the window to expire, got %s", decision)
	}
	if decision := guard.Check("ep", Verification{Timestamp: clock.Add(90 * time.Second)}); decision != ReplayExpired {
		t.Fatalf("expected future skew beyond the window to expire, got %s", decision)
	}
}

func TestApplyPreset_KeepsExplicitHeaders(t *testing.T) {
	endpoint, err := ApplyPreset(core.WebhookEndpoint{EventTypeHeader: "X-Custom-Event"}, "github")
	if err != nil {
		t.Fatalf("apply preset: %v", err)
	}
	if endpoint.AuthMethod != core.AuthHMAC || endpoint.SignatureHeader != "X-Hub-Signature-256" {
		t.Fatalf("expected github conventions, got %#v", endpoint)
	}
	if endpoint.EventTypeHeader != "X-Custom-Event" {
		t.Fatalf("expected explicit header to win, got %q", endpoint.EventTypeHeader)
	}
	if _, err := ApplyPreset(core.WebhookEndpoint{}, "unknown"); err == nil {
		t.Fatalf("expected unknown preset to fail")
	}
}
