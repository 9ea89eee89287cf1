package analytics

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached aggregate plus the lifetime it was stored with. The
// engine never inspects the payload beyond deserializing it on read.
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the entry's window has elapsed at the given time.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// StoreStats is the coarse observability surface a backend exposes.
type StoreStats struct {
	Backend string `json:"backend"`
	Entries int64  `json:"entries"`
}

// Store is the externally-owned key/value cache the engine writes through.
// Implementations must be safe for concurrent use, including concurrent
// writers in other processes; the engine treats every backend failure as a
// miss rather than an error.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	// Scan returns the stored keys sharing a prefix; invalidation composes it
	// with Delete so entity-scoped matching can happen engine-side.
	Scan(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close(ctx context.Context) error
}
