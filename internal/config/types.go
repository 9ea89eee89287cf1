package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campaignkit/analytics/internal/analytics"
)

// Config holds every server-level option for the analytics engine service.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the service lifecycle.
type ServerConfig struct {
	Listen    ListenConfig    `koanf:"listen"`
	Logging   LoggingConfig   `koanf:"logging"`
	Analytics AnalyticsConfig `koanf:"analytics"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AnalyticsConfig shapes the computation-and-caching engine.
type AnalyticsConfig struct {
	Cache CacheConfig `koanf:"cache"`

	// MinTTLSeconds and MaxTTLSeconds clamp adaptive TTL adjustment.
	MinTTLSeconds int `koanf:"minTtlSeconds"`
	MaxTTLSeconds int `koanf:"maxTtlSeconds"`

	// DefaultTimeoutMs bounds computations whose request carries no timeout.
	DefaultTimeoutMs int `koanf:"defaultTimeoutMs"`

	// MaxConcurrentOperations caps simultaneous domain computations during
	// multi-domain loads.
	MaxConcurrentOperations int `koanf:"maxConcurrentOperations"`

	// Parallel switches multi-domain loads between chunked fan-out and the
	// strictly sequential fallback.
	Parallel bool `koanf:"parallel"`

	// TrackerResetMinutes is the performance counter window.
	TrackerResetMinutes int `koanf:"trackerResetMinutes"`

	// TTLOverrides layers operator-tuned base lifetimes (in seconds) over the
	// built-in per-domain/operation table. Outer key: domain; inner: operation.
	TTLOverrides map[string]map[string]int `koanf:"ttlOverrides"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend string           `koanf:"backend"`
	Redis   RedisCacheConfig `koanf:"redis"`
}

// RedisCacheConfig carries redis backend connection settings.
type RedisCacheConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      RedisTLSCacheConfig `koanf:"tls"`
}

// RedisTLSCacheConfig enables TLS towards the redis backend.
type RedisTLSCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// DefaultConfig returns the effective settings before files or env apply.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Analytics: AnalyticsConfig{
				Cache: CacheConfig{
					Backend: "memory",
				},
				MinTTLSeconds:           30,
				MaxTTLSeconds:           86400,
				DefaultTimeoutMs:        30000,
				MaxConcurrentOperations: 3,
				Parallel:                true,
				TrackerResetMinutes:     60,
			},
		},
	}
}

// Validate enforces invariants that keep the engine predictable before it
// serves traffic.
func (c *Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}

	switch strings.ToLower(c.Server.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unsupported log level %q", c.Server.Logging.Level)
	}
	switch strings.ToLower(c.Server.Logging.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: unsupported log format %q", c.Server.Logging.Format)
	}

	a := c.Server.Analytics
	switch strings.ToLower(a.Cache.Backend) {
	case "", "memory":
	case "redis":
		if a.Cache.Redis.Address == "" {
			return errors.New("config: redis backend requires an address")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", a.Cache.Backend)
	}

	if a.MinTTLSeconds < 0 || a.MaxTTLSeconds < 0 {
		return errors.New("config: ttl bounds must not be negative")
	}
	if a.MaxTTLSeconds > 0 && a.MinTTLSeconds > a.MaxTTLSeconds {
		return fmt.Errorf("config: minTtlSeconds %d exceeds maxTtlSeconds %d", a.MinTTLSeconds, a.MaxTTLSeconds)
	}
	if a.DefaultTimeoutMs < 0 {
		return errors.New("config: defaultTimeoutMs must not be negative")
	}
	if a.MaxConcurrentOperations < 1 {
		return errors.New("config: maxConcurrentOperations must be at least 1")
	}
	if a.TrackerResetMinutes < 0 {
		return errors.New("config: trackerResetMinutes must not be negative")
	}

	for domain, ops := range a.TTLOverrides {
		if _, err := analytics.ParseDomain(domain); err != nil {
			return fmt.Errorf("config: ttlOverrides: %w", err)
		}
		for op, seconds := range ops {
			if strings.TrimSpace(op) == "" {
				return fmt.Errorf("config: ttlOverrides for %s name an empty operation", domain)
			}
			if seconds <= 0 {
				return fmt.Errorf("config: ttlOverrides %s/%s must be positive, got %d", domain, op, seconds)
			}
		}
	}
	return nil
}

// TTLTable converts the configured overrides into the engine's table,
// layered on the defaults.
func (a AnalyticsConfig) TTLTable() analytics.TTLTable {
	overrides := make(map[analytics.Domain]map[string]time.Duration, len(a.TTLOverrides))
	for domain, ops := range a.TTLOverrides {
		d, err := analytics.ParseDomain(domain)
		if err != nil {
			continue
		}
		converted := make(map[string]time.Duration, len(ops))
		for op, seconds := range ops {
			converted[op] = time.Duration(seconds) * time.Second
		}
		overrides[d] = converted
	}
	return analytics.DefaultTTLTable().Merge(overrides)
}

// TTLPolicy converts the configured bounds into the engine's clamp policy.
func (a AnalyticsConfig) TTLPolicy() analytics.TTLPolicy {
	policy := analytics.DefaultTTLPolicy()
	if a.MinTTLSeconds > 0 {
		policy.Min = time.Duration(a.MinTTLSeconds) * time.Second
	}
	if a.MaxTTLSeconds > 0 {
		policy.Max = time.Duration(a.MaxTTLSeconds) * time.Second
	}
	return policy
}
