package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting
// env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.analytics.minttlseconds":           "server.analytics.minTtlSeconds",
			"server.analytics.maxttlseconds":           "server.analytics.maxTtlSeconds",
			"server.analytics.defaulttimeoutms":        "server.analytics.defaultTimeoutMs",
			"server.analytics.maxconcurrentoperations": "server.analytics.maxConcurrentOperations",
			"server.analytics.trackerresetminutes":     "server.analytics.trackerResetMinutes",
			"server.analytics.cache.redis.tls.cafile":  "server.analytics.cache.redis.tls.caFile",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into
			// listenport when callers skip the double-underscore nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"analytics": map[string]any{
				"minTtlSeconds":           cfg.Server.Analytics.MinTTLSeconds,
				"maxTtlSeconds":           cfg.Server.Analytics.MaxTTLSeconds,
				"defaultTimeoutMs":        cfg.Server.Analytics.DefaultTimeoutMs,
				"maxConcurrentOperations": cfg.Server.Analytics.MaxConcurrentOperations,
				"parallel":                cfg.Server.Analytics.Parallel,
				"trackerResetMinutes":     cfg.Server.Analytics.TrackerResetMinutes,
				"cache": map[string]any{
					"backend": cfg.Server.Analytics.Cache.Backend,
					"redis": map[string]any{
						"address":  cfg.Server.Analytics.Cache.Redis.Address,
						"username": cfg.Server.Analytics.Cache.Redis.Username,
						"password": cfg.Server.Analytics.Cache.Redis.Password,
						"db":       cfg.Server.Analytics.Cache.Redis.DB,
						"tls": map[string]any{
							"enabled": cfg.Server.Analytics.Cache.Redis.TLS.Enabled,
							"caFile":  cfg.Server.Analytics.Cache.Redis.TLS.CAFile,
						},
					},
				},
			},
		},
	}
}
