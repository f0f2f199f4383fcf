package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// ChannelAdapter translates a NotificationMessage into a provider specific
// send. Send must return errors classified with an ErrorKind so retry and
// health decisions can be made by the caller.
type ChannelAdapter interface {
	Kind() ChannelKind
	Send(ctx context.Context, msg NotificationMessage, target Target) error
	ValidateConfig() error
	RateLimit() RateLimitSpec
}

// AdapterFactory builds an adapter for a channel configuration.
type AdapterFactory interface {
	Build(cfg ChannelConfig) (ChannelAdapter, error)
}

type ChannelStore interface {
	SaveChannel(ctx context.Context, cfg ChannelConfig) (ChannelConfig, error)
	GetChannel(ctx context.Context, id string) (ChannelConfig, error)
	ListChannels(ctx context.Context) ([]ChannelConfig, error)
	SetChannelEnabled(ctx context.Context, id string, enabled bool) error
	SetChannelHealthy(ctx context.Context, id string, healthy bool) error
}

type EndpointStore interface {
	SaveEndpoint(ctx context.Context, endpoint WebhookEndpoint) (WebhookEndpoint, error)
	GetEndpoint(ctx context.Context, id string) (WebhookEndpoint, error)
	GetEndpointByPath(ctx context.Context, path string) (WebhookEndpoint, error)
	ListEndpoints(ctx context.Context) ([]WebhookEndpoint, error)
	SetEndpointActive(ctx context.Context, id string, active bool) error
}

type PreferenceStore interface {
	ListPreferences(ctx context.Context, userID string) ([]UserPreference, error)
}

// AuditLog is append-only. Each Append stores exactly one record.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// EventLog is append-only. Outcomes are recorded as separate records and
// never rewrite the stored event.
type EventLog interface {
	AppendEvent(ctx context.Context, event WebhookEvent) error
	AppendOutcome(ctx context.Context, event WebhookEvent) error
	ListEvents(ctx context.Context, filter WebhookEventFilter) ([]WebhookEvent, error)
}

// EventConsumer is implemented by the orchestration layer that owns agents,
// workflows and swarms.
type EventConsumer interface {
	Dispatch(ctx context.Context, kind TargetKind, targetID string, event WebhookEvent) (DispatchOutcome, error)
}

type EventConsumerFunc func(ctx context.Context, kind TargetKind, targetID string, event WebhookEvent) (DispatchOutcome, error)

func (f EventConsumerFunc) Dispatch(ctx context.Context, kind TargetKind, targetID string, event WebhookEvent) (DispatchOutcome, error) {
	return f(ctx, kind, targetID, event)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// SecretHasher produces and checks the verifiable hashes stored on endpoints.
type SecretHasher interface {
	Hash(secret []byte) (string, error)
	Verify(hash string, secret []byte) bool
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
