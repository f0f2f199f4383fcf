package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/goliatone/go-notify/core"
)

type channelEntry struct {
	config  core.ChannelConfig
	adapter core.ChannelAdapter
}

// snapshot is never mutated after it is published. Writers copy the map,
// apply their change and swap the pointer, so a Send holds one consistent
// view of the registry for its whole duration.
type snapshot struct {
	channels map[string]channelEntry
}

func (s *snapshot) lookup(channelID string) (channelEntry, bool) {
	if s == nil {
		return channelEntry{}, false
	}
	entry, ok := s.channels[channelID]
	return entry, ok
}

func (s *snapshot) with(channelID string, entry channelEntry) *snapshot {
	next := &snapshot{channels: make(map[string]channelEntry, len(s.channels)+1)}
	for id, current := range s.channels {
		next.channels[id] = current
	}
	next.channels[channelID] = entry
	return next
}

func (m *Manager) current() *snapshot {
	if snap := m.registry.Load(); snap != nil {
		return snap
	}
	return &snapshot{channels: map[string]channelEntry{}}
}

// ConfigureChannel builds the adapter for cfg and publishes it. Configuring a
// channel resets its health flag. The rate limit comes from cfg, then from
// the adapter's own default, then from the rate_limit config section.
func (m *Manager) ConfigureChannel(ctx context.Context, cfg core.ChannelConfig) (core.ChannelConfig, error) {
	cfg.ID = strings.TrimSpace(cfg.ID)
	if err := cfg.Validate(); err != nil {
		return core.ChannelConfig{}, badRequest(err.Error())
	}
	cfg.Healthy = true
	now := m.now()
	if cfg.CreatedAt.IsZero() {
		if existing, ok := m.current().lookup(cfg.ID); ok {
			cfg.CreatedAt = existing.config.CreatedAt
		} else {
			cfg.CreatedAt = now
		}
	}
	cfg.UpdatedAt = now

	adapter, err := m.factory.Build(cfg)
	if err != nil {
		return core.ChannelConfig{}, err
	}
	if err := adapter.ValidateConfig(); err != nil {
		return core.ChannelConfig{}, err
	}
	if m.channelStore != nil {
		saved, err := m.channelStore.SaveChannel(ctx, cfg)
		if err != nil {
			return core.ChannelConfig{}, err
		}
		saved.Credentials = core.CloneStringMap(cfg.Credentials)
		cfg = saved
	}
	m.install(cfg, adapter)
	m.observer.Log(ctx, "info", "channel configured", map[string]any{
		"channel_id":   cfg.ID,
		"channel_kind": string(cfg.Kind),
		"enabled":      cfg.Enabled,
	})
	return cfg.Clone(), nil
}

func (m *Manager) install(cfg core.ChannelConfig, adapter core.ChannelAdapter) {
	spec := cfg.RateLimit
	if spec.IsZero() {
		spec = adapter.RateLimit()
	}
	if spec.IsZero() {
		spec = m.config.RateLimit.DefaultSpec()
	}
	m.limiter.Configure(cfg.ID, spec)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.registry.Store(m.current().with(cfg.ID, channelEntry{config: cfg.Clone(), adapter: adapter}))
}

// DisableChannel soft-deactivates a channel. Its configuration is kept. The
// store is written before the in-memory snapshot, so a store failure leaves
// both unchanged.
func (m *Manager) DisableChannel(ctx context.Context, channelID string) error {
	return m.setEnabled(ctx, channelID, false)
}

func (m *Manager) EnableChannel(ctx context.Context, channelID string) error {
	return m.setEnabled(ctx, channelID, true)
}

func (m *Manager) setEnabled(ctx context.Context, channelID string, enabled bool) error {
	channelID = strings.TrimSpace(channelID)
	if _, ok := m.current().lookup(channelID); !ok {
		return channelNotFound(channelID)
	}
	if m.channelStore != nil {
		if err := m.channelStore.SetChannelEnabled(ctx, channelID, enabled); err != nil {
			return err
		}
	}
	if err := m.update(channelID, func(cfg *core.ChannelConfig) { cfg.Enabled = enabled }); err != nil {
		return err
	}
	m.observer.Log(ctx, "info", "channel enabled state changed", map[string]any{
		"channel_id": channelID,
		"enabled":    enabled,
	})
	return nil
}

// MarkUnhealthy takes a channel out of rotation until it is reconfigured or
// MarkHealthy is called.
func (m *Manager) MarkUnhealthy(ctx context.Context, channelID string, reason string) error {
	return m.setHealthy(ctx, channelID, false, reason)
}

func (m *Manager) MarkHealthy(ctx context.Context, channelID string) error {
	return m.setHealthy(ctx, channelID, true, "")
}

func (m *Manager) setHealthy(ctx context.Context, channelID string, healthy bool, reason string) error {
	channelID = strings.TrimSpace(channelID)
	if _, ok := m.current().lookup(channelID); !ok {
		return channelNotFound(channelID)
	}
	if m.channelStore != nil {
		if err := m.channelStore.SetChannelHealthy(ctx, channelID, healthy); err != nil {
			return err
		}
	}
	if err := m.update(channelID, func(cfg *core.ChannelConfig) { cfg.Healthy = healthy }); err != nil {
		return err
	}
	level := "info"
	if !healthy {
		level = "warn"
	}
	m.observer.Log(ctx, level, "channel health changed", map[string]any{
		"channel_id": channelID,
		"healthy":    healthy,
		"reason":     reason,
	})
	return nil
}

func (m *Manager) update(channelID string, mutate func(*core.ChannelConfig)) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	snap := m.current()
	entry, ok := snap.lookup(channelID)
	if !ok {
		return channelNotFound(channelID)
	}
	cfg := entry.config.Clone()
	mutate(&cfg)
	cfg.UpdatedAt = m.now()
	m.registry.Store(snap.with(channelID, channelEntry{config: cfg, adapter: entry.adapter}))
	return nil
}

// Channel returns the registered configuration for channelID.
func (m *Manager) Channel(channelID string) (core.ChannelConfig, bool) {
	entry, ok := m.current().lookup(strings.TrimSpace(channelID))
	if !ok {
		return core.ChannelConfig{}, false
	}
	return entry.config.Clone(), true
}

func (m *Manager) Channels() []core.ChannelConfig {
	snap := m.current()
	out := make([]core.ChannelConfig, 0, len(snap.channels))
	for _, entry := range snap.channels {
		out = append(out, entry.config.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadChannels installs every channel held by store without writing back to
// it. Channels whose adapter cannot be built are skipped and reported in the
// joined error; the rest stay usable.
func (m *Manager) LoadChannels(ctx context.Context, store core.ChannelStore) (int, error) {
	if store == nil {
		return 0, badRequest("dispatch: channel store is required")
	}
	configs, err := store.ListChannels(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	var errs []error
	for _, cfg := range configs {
		adapter, err := m.factory.Build(cfg)
		if err == nil {
			err = adapter.ValidateConfig()
		}
		if err != nil {
			errs = append(errs, err)
			m.observer.Log(ctx, "warn", "channel skipped during load", map[string]any{
				"channel_id":   cfg.ID,
				"channel_kind": string(cfg.Kind),
				"error":        err.Error(),
			})
			continue
		}
		m.install(cfg, adapter)
		loaded++
	}
	return loaded, errors.Join(errs...)
}
