package analytics

import (
	"sync"
	"time"
)

// DefaultTrackerWindow is how often hit/miss counters are cleared so the
// exposed summary reflects a recent window rather than a lifetime total.
const DefaultTrackerWindow = time.Hour

type trackerKey struct {
	domain    Domain
	operation string
}

type trackerCounters struct {
	hits         int64
	misses       int64
	totalLatency time.Duration
}

// Summary is the on-demand aggregation of tracker counters. It is computed
// from the raw counts at read time, never stored pre-aggregated.
type Summary struct {
	HitRate       float64       `json:"hitRate"`
	MissRate      float64       `json:"missRate"`
	TotalRequests int64         `json:"totalRequests"`
	AvgLatency    time.Duration `json:"avgLatency"`
}

// Tracker counts cache hits, misses, and lookup latency per
// (domain, operation) pair. Recording never fails or panics; a nil tracker is
// a no-op so instrumentation stays optional.
type Tracker struct {
	mu     sync.Mutex
	window map[trackerKey]*trackerCounters

	done chan struct{}
	once sync.Once
}

// NewTracker builds a tracker whose counters reset every resetEvery so data
// stays recent. resetEvery <= 0 picks the hourly default. Close stops the
// reset goroutine.
func NewTracker(resetEvery time.Duration) *Tracker {
	if resetEvery <= 0 {
		resetEvery = DefaultTrackerWindow
	}
	t := &Tracker{
		window: make(map[trackerKey]*trackerCounters),
		done:   make(chan struct{}),
	}
	go t.resetLoop(resetEvery)
	return t
}

// Record counts one cache lookup outcome and its latency.
func (t *Tracker) Record(domain Domain, operation string, hit bool, elapsed time.Duration) {
	if t == nil {
		return
	}
	key := trackerKey{domain: domain, operation: operation}
	t.mu.Lock()
	defer t.mu.Unlock()
	counters, ok := t.window[key]
	if !ok {
		counters = &trackerCounters{}
		t.window[key] = counters
	}
	if hit {
		counters.hits++
	} else {
		counters.misses++
	}
	if elapsed > 0 {
		counters.totalLatency += elapsed
	}
}

// Summary aggregates the current window. With no arguments it covers every
// domain; otherwise only the named ones.
func (t *Tracker) Summary(domains ...Domain) Summary {
	if t == nil {
		return Summary{}
	}
	include := func(Domain) bool { return true }
	if len(domains) > 0 {
		wanted := make(map[Domain]struct{}, len(domains))
		for _, d := range domains {
			wanted[d] = struct{}{}
		}
		include = func(d Domain) bool {
			_, ok := wanted[d]
			return ok
		}
	}

	var hits, misses int64
	var latency time.Duration
	t.mu.Lock()
	for key, counters := range t.window {
		if !include(key.domain) {
			continue
		}
		hits += counters.hits
		misses += counters.misses
		latency += counters.totalLatency
	}
	t.mu.Unlock()

	total := hits + misses
	summary := Summary{TotalRequests: total}
	if total > 0 {
		summary.HitRate = float64(hits) / float64(total)
		summary.MissRate = float64(misses) / float64(total)
		summary.AvgLatency = latency / time.Duration(total)
	}
	return summary
}

// Reset clears every counter immediately, independent of the timer.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.window = make(map[trackerKey]*trackerCounters)
	t.mu.Unlock()
}

// Close stops the periodic reset. Safe to call more than once.
func (t *Tracker) Close() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
}

func (t *Tracker) resetLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.Reset()
		}
	}
}
