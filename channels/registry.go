package channels

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-notify/core"
	"github.com/goliatone/go-notify/transport"
)

// BuilderFunc constructs an adapter for one channel configuration.
type BuilderFunc func(cfg core.ChannelConfig) (core.ChannelAdapter, error)

// Registry maps channel kinds to adapter builders. Adapters are built when a
// channel is configured, never while a send is in flight.
type Registry struct {
	mu       sync.RWMutex
	builders map[core.ChannelKind]BuilderFunc
}

func NewRegistry() *Registry {
	return &Registry{builders: map[core.ChannelKind]BuilderFunc{}}
}

// Dependencies are the shared clients handed to the built-in builders. Nil
// fields fall back to each adapter's default client.
type Dependencies struct {
	HTTP     *transport.Client
	Mailer   Mailer
	Telegram TelegramSender
}

// NewDefaultRegistry registers every built-in channel kind.
func NewDefaultRegistry(deps Dependencies) *Registry {
	registry := NewRegistry()
	_ = registry.Register(core.ChannelSlack, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewSlackAdapter(cfg, deps.HTTP)
	})
	_ = registry.Register(core.ChannelTeams, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewTeamsAdapter(cfg, deps.HTTP)
	})
	_ = registry.Register(core.ChannelSMS, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewSMSAdapter(cfg, deps.HTTP)
	})
	_ = registry.Register(core.ChannelWebhook, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewWebhookAdapter(cfg, deps.HTTP)
	})
	_ = registry.Register(core.ChannelEmail, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewEmailAdapter(cfg, deps.Mailer)
	})
	_ = registry.Register(core.ChannelTelegram, func(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
		return NewTelegramAdapter(cfg, deps.Telegram)
	})
	return registry
}

func (r *Registry) Register(kind core.ChannelKind, builder BuilderFunc) error {
	if r == nil {
		return fmt.Errorf("channels: registry is nil")
	}
	kind = normalizeKind(kind)
	if kind == "" {
		return fmt.Errorf("channels: channel kind is required")
	}
	if builder == nil {
		return fmt.Errorf("channels: builder is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builders == nil {
		r.builders = map[core.ChannelKind]BuilderFunc{}
	}
	if _, exists := r.builders[kind]; exists {
		return fmt.Errorf("channels: channel kind %q already registered", kind)
	}
	r.builders[kind] = builder
	return nil
}

// Build implements core.AdapterFactory.
func (r *Registry) Build(cfg core.ChannelConfig) (core.ChannelAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("channels: registry is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind := normalizeKind(cfg.Kind)
	r.mu.RLock()
	builder := r.builders[kind]
	r.mu.RUnlock()
	if builder == nil {
		return nil, core.NewKindError(core.ErrorKindChannelUnavailable, fmt.Sprintf("channels: channel kind %q not registered", kind), map[string]any{
			"channel_id":   cfg.ID,
			"channel_kind": string(kind),
		})
	}
	adapter, err := builder(cfg.Clone())
	if err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("channels: builder for %q returned nil adapter", kind)
	}
	return adapter, nil
}

func (r *Registry) Kinds() []core.ChannelKind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]core.ChannelKind, 0, len(r.builders))
	for kind := range r.builders {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func normalizeKind(kind core.ChannelKind) core.ChannelKind {
	return core.ChannelKind(strings.TrimSpace(strings.ToLower(string(kind))))
}

var _ core.AdapterFactory = (*Registry)(nil)
