package analytics

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	sweepEvery time.Duration

	mu      sync.RWMutex
	entries map[string]Entry

	done chan struct{}
	once sync.Once
}

// NewMemoryStore builds the default in-process backend: a mutex-guarded map
// with lazy expiry on read and a periodic sweep so abandoned keys do not
// accumulate between reads. sweepEvery <= 0 picks a minutely sweep.
func NewMemoryStore(sweepEvery time.Duration) Store {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	s := &memoryStore{
		sweepEvery: sweepEvery,
		entries:    make(map[string]Entry),
		done:       make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(time.Now()) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *memoryStore) Store(_ context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || !entry.ExpiresAt.After(entry.StoredAt) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
	return nil
}

func (s *memoryStore) Scan(_ context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, nil
	}
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) && !entry.Expired(now) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.entries[key]; ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryStore) Stats(_ context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{Backend: "memory", Entries: int64(len(s.entries))}, nil
}

func (s *memoryStore) Close(context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *memoryStore) sweep() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.Expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
