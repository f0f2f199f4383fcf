package core

import (
	"fmt"
	"strings"
	"time"
)

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	Factor      float64       `koanf:"factor" mapstructure:"factor"`
	Jitter      float64       `koanf:"jitter" mapstructure:"jitter"`
}

type RateLimitConfig struct {
	DefaultPermits  int           `koanf:"default_permits" mapstructure:"default_permits"`
	DefaultInterval time.Duration `koanf:"default_interval" mapstructure:"default_interval"`
	DefaultBurst    int           `koanf:"default_burst" mapstructure:"default_burst"`
	AcquireTimeout  time.Duration `koanf:"acquire_timeout" mapstructure:"acquire_timeout"`
}

func (c RateLimitConfig) DefaultSpec() RateLimitSpec {
	return RateLimitSpec{
		Permits:  c.DefaultPermits,
		Interval: c.DefaultInterval,
		Burst:    c.DefaultBurst,
	}
}

type ReplayConfig struct {
	// Window bounds the accepted clock skew in both directions and the time a
	// nonce or signature is remembered.
	Window     time.Duration `koanf:"window" mapstructure:"window"`
	MaxEntries int           `koanf:"max_entries" mapstructure:"max_entries"`
}

type ReceiverConfig struct {
	MaxBodyBytes      int64 `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestsPerMinute int   `koanf:"requests_per_minute" mapstructure:"requests_per_minute"`
}

type DispatchConfig struct {
	MaxConcurrency int `koanf:"max_concurrency" mapstructure:"max_concurrency"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Retry       RetryConfig     `koanf:"retry" mapstructure:"retry"`
	RateLimit   RateLimitConfig `koanf:"rate_limit" mapstructure:"rate_limit"`
	Replay      ReplayConfig    `koanf:"replay" mapstructure:"replay"`
	Receiver    ReceiverConfig  `koanf:"receiver" mapstructure:"receiver"`
	Dispatch    DispatchConfig  `koanf:"dispatch" mapstructure:"dispatch"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "notify",
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    30 * time.Second,
			Factor:      2,
			Jitter:      0.1,
		},
		RateLimit: RateLimitConfig{
			DefaultPermits:  1,
			DefaultInterval: time.Second,
			DefaultBurst:    5,
			AcquireTimeout:  2 * time.Second,
		},
		Replay: ReplayConfig{
			Window:     5 * time.Minute,
			MaxEntries: 8192,
		},
		Receiver: ReceiverConfig{
			MaxBodyBytes:      1 << 20,
			RequestsPerMinute: 600,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency: 16,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("core: retry.base_delay must not exceed retry.max_delay")
	}
	if c.Retry.Factor != 0 && c.Retry.Factor < 1 {
		return fmt.Errorf("core: retry.factor must be at least 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("core: retry.jitter must be within [0,1]")
	}
	if c.RateLimit.AcquireTimeout < 0 {
		return fmt.Errorf("core: rate_limit.acquire_timeout must not be negative")
	}
	if c.Replay.Window <= 0 {
		return fmt.Errorf("core: replay.window must be positive")
	}
	if c.Receiver.MaxBodyBytes < 0 {
		return fmt.Errorf("core: receiver.max_body_bytes must not be negative")
	}
	return nil
}
