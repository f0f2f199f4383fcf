package dispatch

import (
	"time"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/ratelimit"
	"github.com/goliatone/go-notify/retry"
)

type managerBuilder struct {
	config         core.Config
	configSet      bool
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	auditLog       core.AuditLog
	preferences    core.PreferenceStore
	channelStore   core.ChannelStore
	limiter        *ratelimit.Limiter
	retryPolicy    *retry.Policy
	now            func() time.Time
	newID          func() string
}

type Option func(*managerBuilder)

// WithConfig replaces core.DefaultConfig for retry, rate limit and
// concurrency settings.
func WithConfig(cfg core.Config) Option {
	return func(b *managerBuilder) {
		b.config = cfg
		b.configSet = true
	}
}

func WithLogger(logger core.Logger) Option {
	return func(b *managerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *managerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *managerBuilder) {
		b.metrics = recorder
	}
}

func WithAuditLog(log core.AuditLog) Option {
	return func(b *managerBuilder) {
		b.auditLog = log
	}
}

func WithPreferenceStore(store core.PreferenceStore) Option {
	return func(b *managerBuilder) {
		b.preferences = store
	}
}

// WithChannelStore persists registry changes. Without a store the registry
// lives in memory only.
func WithChannelStore(store core.ChannelStore) Option {
	return func(b *managerBuilder) {
		b.channelStore = store
	}
}

func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(b *managerBuilder) {
		b.limiter = limiter
	}
}

func WithRetryPolicy(policy retry.Policy) Option {
	return func(b *managerBuilder) {
		b.retryPolicy = &policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *managerBuilder) {
		b.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *managerBuilder) {
		b.newID = newID
	}
}
