package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// StaticRawConfigLoader serves a fixed raw map, typically decoded from a file
// by the host application.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults < loaded < runtime, where only non-zero
// values of the upper layers override.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig resolves configuration from a raw map layered over defaults and
// runtime overrides.
func LoadConfig(ctx context.Context, raw map[string]any, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(StaticRawConfigLoader{Values: raw}).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	retry := map[string]any{}
	putInt(retry, "max_attempts", cfg.Retry.MaxAttempts, includeZero)
	putAny(retry, "base_delay", cfg.Retry.BaseDelay, includeZero || cfg.Retry.BaseDelay > 0)
	putAny(retry, "max_delay", cfg.Retry.MaxDelay, includeZero || cfg.Retry.MaxDelay > 0)
	putAny(retry, "factor", cfg.Retry.Factor, includeZero || cfg.Retry.Factor > 0)
	putAny(retry, "jitter", cfg.Retry.Jitter, includeZero || cfg.Retry.Jitter > 0)
	putSection(layer, "retry", retry)

	rateLimit := map[string]any{}
	putInt(rateLimit, "default_permits", cfg.RateLimit.DefaultPermits, includeZero)
	putAny(rateLimit, "default_interval", cfg.RateLimit.DefaultInterval, includeZero || cfg.RateLimit.DefaultInterval > 0)
	putInt(rateLimit, "default_burst", cfg.RateLimit.DefaultBurst, includeZero)
	putAny(rateLimit, "acquire_timeout", cfg.RateLimit.AcquireTimeout, includeZero || cfg.RateLimit.AcquireTimeout > 0)
	putSection(layer, "rate_limit", rateLimit)

	replay := map[string]any{}
	putAny(replay, "window", cfg.Replay.Window, includeZero || cfg.Replay.Window > 0)
	putInt(replay, "max_entries", cfg.Replay.MaxEntries, includeZero)
	putSection(layer, "replay", replay)

	receiver := map[string]any{}
	putAny(receiver, "max_body_bytes", cfg.Receiver.MaxBodyBytes, includeZero || cfg.Receiver.MaxBodyBytes > 0)
	putInt(receiver, "requests_per_minute", cfg.Receiver.RequestsPerMinute, includeZero)
	putSection(layer, "receiver", receiver)

	dispatch := map[string]any{}
	putInt(dispatch, "max_concurrency", cfg.Dispatch.MaxConcurrency, includeZero)
	putSection(layer, "dispatch", dispatch)
	return layer
}

func putInt(target map[string]any, key string, value int, includeZero bool) {
	putAny(target, key, value, includeZero || value != 0)
}

func putAny(target map[string]any, key string, value any, include bool) {
	if include {
		target[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}
