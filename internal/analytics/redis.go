package analytics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// RedisTLSConfig enables TLS towards the cache server, optionally pinning a CA.
type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

// RedisConfig carries the connection settings for a redis-protocol backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisStore struct {
	client valkey.Client
}

// NewRedisStore connects to a redis-compatible server and verifies it with a
// ping before handing the backend to the engine.
func NewRedisStore(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("analytics: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("analytics: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("analytics: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("analytics: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("analytics: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("analytics: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("analytics: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("analytics: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Store(ctx context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || !entry.ExpiresAt.After(entry.StoredAt) {
		return errors.New("analytics: redis entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("analytics: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("analytics: redis set: %w", err)
	}
	return nil
}

func (s *redisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, nil
	}
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(prefix + "*").Count(256).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("analytics: redis scan: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cmd := s.client.B().Del().Key(keys...).Build()
	removed, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("analytics: redis del: %w", err)
	}
	return removed, nil
}

func (s *redisStore) Stats(ctx context.Context) (StoreStats, error) {
	size, err := s.client.Do(ctx, s.client.B().Dbsize().Build()).AsInt64()
	if err != nil {
		return StoreStats{}, fmt.Errorf("analytics: redis dbsize: %w", err)
	}
	return StoreStats{Backend: "redis", Entries: size}, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
