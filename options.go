package notify

import (
	"time"

	"github.com/goliatone/go-notify/channels"
	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/inbound"
)

type serviceBuilder struct {
	raw            map[string]any
	runtime        core.Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder

	channelStore  core.ChannelStore
	endpointStore core.EndpointStore
	preferences   core.PreferenceStore
	auditLog      core.AuditLog
	eventLog      core.EventLog

	secrets core.SecretProvider
	hasher  core.SecretHasher

	factory     core.AdapterFactory
	channelDeps channels.Dependencies
	consumer    core.EventConsumer
	claims      inbound.ClaimStore
	handlers    []inbound.Handler
	now         func() time.Time
}

type Option func(*serviceBuilder)

// WithRawConfig supplies the loaded configuration map (for example a parsed
// YAML or JSON document). Missing keys keep their defaults.
func WithRawConfig(raw map[string]any) Option {
	return func(b *serviceBuilder) { b.raw = raw }
}

// WithConfig sets runtime overrides layered on top of the raw config. Zero
// fields do not override.
func WithConfig(cfg core.Config) Option {
	return func(b *serviceBuilder) { b.runtime = cfg }
}

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *serviceBuilder) { b.metrics = recorder }
}

func WithChannelStore(store core.ChannelStore) Option {
	return func(b *serviceBuilder) { b.channelStore = store }
}

func WithEndpointStore(store core.EndpointStore) Option {
	return func(b *serviceBuilder) { b.endpointStore = store }
}

func WithPreferenceStore(store core.PreferenceStore) Option {
	return func(b *serviceBuilder) { b.preferences = store }
}

func WithAuditLog(log core.AuditLog) Option {
	return func(b *serviceBuilder) { b.auditLog = log }
}

func WithEventLog(log core.EventLog) Option {
	return func(b *serviceBuilder) { b.eventLog = log }
}

// WithSecretProvider seals endpoint secrets at rest. Endpoints using hmac,
// jwt or api_key auth cannot be registered without one.
func WithSecretProvider(secrets core.SecretProvider) Option {
	return func(b *serviceBuilder) { b.secrets = secrets }
}

func WithSecretHasher(hasher core.SecretHasher) Option {
	return func(b *serviceBuilder) { b.hasher = hasher }
}

// WithAdapterFactory replaces the built-in channel adapters.
func WithAdapterFactory(factory core.AdapterFactory) Option {
	return func(b *serviceBuilder) { b.factory = factory }
}

// WithChannelDependencies sets the clients used by the built-in adapters.
func WithChannelDependencies(deps channels.Dependencies) Option {
	return func(b *serviceBuilder) { b.channelDeps = deps }
}

// WithEventConsumer hands verified events to consumer instead of the
// built-in inbound router.
func WithEventConsumer(consumer core.EventConsumer) Option {
	return func(b *serviceBuilder) { b.consumer = consumer }
}

// WithHandlers registers target kind handlers on the inbound router.
func WithHandlers(handlers ...inbound.Handler) Option {
	return func(b *serviceBuilder) { b.handlers = append(b.handlers, handlers...) }
}

func WithClaimStore(store inbound.ClaimStore) Option {
	return func(b *serviceBuilder) { b.claims = store }
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) { b.now = now }
}
