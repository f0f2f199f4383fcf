package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-notify/core"
)

type receiverBuilder struct {
	config         core.Config
	configSet      bool
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	keys           *KeyResolver
	verifier       *SignatureVerifier
	replay         *ReplayGuard
	events         core.EventLog
	now            func() time.Time
	newID          func() string
}

type ReceiverOption func(*receiverBuilder)

func WithConfig(cfg core.Config) ReceiverOption {
	return func(b *receiverBuilder) {
		b.config = cfg
		b.configSet = true
	}
}

func WithLogger(logger core.Logger) ReceiverOption {
	return func(b *receiverBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) ReceiverOption {
	return func(b *receiverBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) ReceiverOption {
	return func(b *receiverBuilder) { b.metrics = recorder }
}

func WithKeyResolver(keys *KeyResolver) ReceiverOption {
	return func(b *receiverBuilder) { b.keys = keys }
}

func WithSignatureVerifier(verifier *SignatureVerifier) ReceiverOption {
	return func(b *receiverBuilder) { b.verifier = verifier }
}

func WithReplayGuard(guard *ReplayGuard) ReceiverOption {
	return func(b *receiverBuilder) { b.replay = guard }
}

func WithEventLog(events core.EventLog) ReceiverOption {
	return func(b *receiverBuilder) { b.events = events }
}

func WithClock(now func() time.Time) ReceiverOption {
	return func(b *receiverBuilder) { b.now = now }
}

func WithIDGenerator(newID func() string) ReceiverOption {
	return func(b *receiverBuilder) { b.newID = newID }
}

// Receiver drives one inbound delivery through
// received -> authenticating -> verified|rejected -> deduplicating ->
// accepted|duplicate -> dispatching -> processed|dispatch_failed.
// Every failure is recovered into a WebhookResponse; Receive never panics
// on consumer errors.
//
// A timestamp outside the replay window is answered 401 with state rejected
// and kind expired. Only a repeated nonce or signature inside the window
// answers 200 duplicate. A failed dispatch releases the replay key, so the provider's
// own retry of the same delivery is dispatched again.
type Receiver struct {
	registry     *EndpointRegistry
	consumer     core.EventConsumer
	keys         *KeyResolver
	verifier     *SignatureVerifier
	replay       *ReplayGuard
	events       core.EventLog
	observer     *core.Observer
	maxBodyBytes int64
	now          func() time.Time
	newID        func() string
}

func NewReceiver(registry *EndpointRegistry, consumer core.EventConsumer, opts ...ReceiverOption) (*Receiver, error) {
	if registry == nil {
		return nil, fmt.Errorf("webhooks: endpoint registry is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("webhooks: event consumer is required")
	}
	builder := &receiverBuilder{}
	for _, opt := range opts {
		if opt != nil {
			opt(builder)
		}
	}
	cfg := core.DefaultConfig()
	if builder.configSet {
		cfg = builder.config
	}
	_, logger := glog.Resolve("notify.webhooks", builder.loggerProvider, builder.logger)

	r := &Receiver{
		registry:     registry,
		consumer:     consumer,
		keys:         builder.keys,
		verifier:     builder.verifier,
		replay:       builder.replay,
		events:       builder.events,
		observer:     core.NewObserver("notify", glog.Ensure(logger), builder.metrics, "endpoint_id", "state"),
		maxBodyBytes: cfg.Receiver.MaxBodyBytes,
		now:          builder.now,
		newID:        builder.newID,
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.keys == nil {
		r.keys = NewKeyResolver(nil, nil)
	}
	if r.verifier == nil {
		r.verifier = NewSignatureVerifier(r.now)
	}
	if r.replay == nil {
		r.replay = NewReplayGuard(cfg.Replay)
		r.replay.Now = r.now
	}
	if r.events == nil {
		r.events = NewMemoryEventLog()
	}
	return r, nil
}

func (r *Receiver) Registry() *EndpointRegistry { return r.registry }

func (r *Receiver) EventLog() core.EventLog { return r.events }

func (r *Receiver) ReplayGuard() *ReplayGuard { return r.replay }

func (r *Receiver) Receive(ctx context.Context, req core.InboundRequest) core.WebhookResponse {
	if ctx == nil {
		ctx = context.Background()
	}
	began := time.Now()
	response, event := r.receive(ctx, req)

	var err error
	switch {
	case response.Success:
	case event.ErrorKind != core.ErrorKindNone:
		err = core.NewKindError(event.ErrorKind, event.ErrorMessage)
	default:
		err = fmt.Errorf("webhooks: %s", response.Message)
	}
	r.observer.Observe(ctx, began, "webhook_receive", err, map[string]any{
		"event_id":    event.ID,
		"endpoint_id": event.EndpointID,
		"state":       string(response.State),
		"status_code": response.StatusCode,
		"path":        core.NormalizePath(req.Path),
	})
	return response
}

func (r *Receiver) receive(ctx context.Context, req core.InboundRequest) (core.WebhookResponse, core.WebhookEvent) {
	if method := strings.TrimSpace(req.Method); method != "" && !strings.EqualFold(method, http.MethodPost) {
		return respond(http.StatusMethodNotAllowed, core.StateReceived, false, "", "method not allowed"), core.WebhookEvent{}
	}
	endpoint, ok := r.registry.Lookup(req.Path)
	if !ok || !endpoint.Active {
		return respond(http.StatusNotFound, core.StateReceived, false, "", "endpoint not found"), core.WebhookEvent{}
	}
	if r.maxBodyBytes > 0 && int64(len(req.Body)) > r.maxBodyBytes {
		return respond(http.StatusRequestEntityTooLarge, core.StateReceived, false, "", "payload too large"), core.WebhookEvent{}
	}

	event := core.WebhookEvent{
		ID:         r.newID(),
		EndpointID: endpoint.ID,
		EventType:  eventType(endpoint, req),
		Payload:    payloadJSON(req.Body),
		Headers:    core.RedactHeaders(req.Headers),
		SourceIP:   strings.TrimSpace(req.SourceIP),
		ReceivedAt: r.now(),
		State:      core.StateReceived,
	}

	r.transition(ctx, &event, core.StateAuthenticating)
	secret, err := r.keys.Resolve(ctx, endpoint)
	if err != nil {
		r.reject(ctx, &event, core.ErrorKindInternal, err)
		return respond(http.StatusInternalServerError, event.State, false, event.ID, "endpoint secret unavailable"), event
	}
	verification, err := r.verifier.Verify(ctx, endpoint, secret, req)
	if err != nil {
		kind := core.KindOf(err)
		if kind != core.ErrorKindExpired {
			kind = core.ErrorKindSignatureInvalid
		}
		r.reject(ctx, &event, kind, err)
		return respond(http.StatusUnauthorized, event.State, false, event.ID, "authentication failed"), event
	}
	event.Verified = true
	r.transition(ctx, &event, core.StateVerified)

	r.transition(ctx, &event, core.StateDeduplicating)
	switch r.replay.Check(endpoint.ID, verification) {
	case ReplayExpired:
		r.reject(ctx, &event, core.ErrorKindExpired, fmt.Errorf("webhooks: timestamp outside the %s replay window", r.replay.Window()))
		return respond(http.StatusUnauthorized, event.State, false, event.ID, "timestamp outside replay window"), event
	case ReplayDuplicate:
		event.ErrorKind = core.ErrorKindDuplicate
		event.ErrorMessage = "webhooks: delivery already received"
		r.transition(ctx, &event, core.StateDuplicate)
		r.appendEvent(ctx, event)
		return respond(http.StatusOK, event.State, true, event.ID, "duplicate delivery ignored"), event
	}

	r.transition(ctx, &event, core.StateAccepted)
	r.appendEvent(ctx, event)

	r.transition(ctx, &event, core.StateDispatching)
	outcome, err := r.dispatch(ctx, endpoint, event)
	if err == nil && !outcome.Accepted {
		err = fmt.Errorf("webhooks: consumer declined event")
	}
	event.ProcessResult = outcome.Result
	if err != nil {
		event.ErrorKind = core.ErrorKindDispatchFailed
		event.ErrorMessage = err.Error()
		r.replay.Release(endpoint.ID, verification)
		r.transition(ctx, &event, core.StateDispatchFailed)
		r.appendOutcome(ctx, event)
		return respond(http.StatusBadGateway, event.State, false, event.ID, "dispatch failed"), event
	}
	event.Processed = true
	r.transition(ctx, &event, core.StateProcessed)
	r.appendOutcome(ctx, event)
	return respond(http.StatusOK, event.State, true, event.ID, "processed"), event
}

func (r *Receiver) dispatch(ctx context.Context, endpoint core.WebhookEndpoint, event core.WebhookEvent) (outcome core.DispatchOutcome, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = core.DispatchOutcome{}
			err = fmt.Errorf("webhooks: consumer panic: %v", recovered)
		}
	}()
	return r.consumer.Dispatch(ctx, endpoint.TargetKind, endpoint.TargetID, cloneEvent(event))
}

func (r *Receiver) reject(ctx context.Context, event *core.WebhookEvent, kind core.ErrorKind, err error) {
	event.ErrorKind = kind
	event.ErrorMessage = err.Error()
	r.transition(ctx, event, core.StateRejected)
	r.appendEvent(ctx, *event)
}

func (r *Receiver) transition(ctx context.Context, event *core.WebhookEvent, state core.WebhookState) {
	from := event.State
	event.State = state
	r.observer.Log(ctx, "debug", "webhook state transition", map[string]any{
		"event_id":    event.ID,
		"endpoint_id": event.EndpointID,
		"from":        string(from),
		"to":          string(state),
	})
}

func (r *Receiver) appendEvent(ctx context.Context, event core.WebhookEvent) {
	if err := r.events.AppendEvent(ctx, event); err != nil {
		r.observer.Log(ctx, "error", "webhook event append failed", map[string]any{
			"event_id":    event.ID,
			"endpoint_id": event.EndpointID,
			"state":       string(event.State),
			"error":       err.Error(),
		})
	}
}

func (r *Receiver) appendOutcome(ctx context.Context, event core.WebhookEvent) {
	if err := r.events.AppendOutcome(ctx, event); err != nil {
		r.observer.Log(ctx, "error", "webhook outcome append failed", map[string]any{
			"event_id":    event.ID,
			"endpoint_id": event.EndpointID,
			"state":       string(event.State),
			"error":       err.Error(),
		})
	}
}

func respond(status int, state core.WebhookState, success bool, eventID string, message string) core.WebhookResponse {
	return core.WebhookResponse{
		StatusCode: status,
		State:      state,
		Success:    success,
		EventID:    eventID,
		Message:    message,
	}
}

// eventType reads the endpoint's event type header, falling back to a
// top-level "type" or "event" string in a JSON body.
func eventType(endpoint core.WebhookEndpoint, req core.InboundRequest) string {
	if value := headerValue(req.Headers, headerName(endpoint.EventTypeHeader, DefaultEventTypeHeader)); value != "" {
		return value
	}
	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err == nil {
		for _, key := range []string{"type", "event", "event_type"} {
			if value, ok := body[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	return "unknown"
}

// payloadJSON keeps JSON bodies verbatim and wraps anything else as a JSON
// string.
func payloadJSON(body []byte) json.RawMessage {
	if len(body) > 0 && json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	encoded, _ := json.Marshal(string(body))
	return encoded
}
