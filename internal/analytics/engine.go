package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campaignkit/analytics/internal/metrics"
)

// DefaultComputeTimeout bounds computations whose request does not set one.
const DefaultComputeTimeout = 30 * time.Second

// ComputeFunc produces one aggregate. The engine never introspects it; it is
// run at most once per logical request no matter how many callers ask
// concurrently.
type ComputeFunc func(ctx context.Context) (any, error)

// FetchFunc produces one domain's aggregate during a multi-domain load.
type FetchFunc func(ctx context.Context, domain Domain) (any, error)

// Request names the aggregate a caller wants.
type Request struct {
	Domain    Domain
	Operation string
	EntityIDs []string
	Filters   Filters
	// Timeout bounds the computation; zero uses the engine default.
	Timeout time.Duration
	// TTLOverride wins over the TTL table when positive.
	TTLOverride time.Duration
}

// Result is one settled aggregate plus where it came from.
type Result struct {
	Data      json.RawMessage `json:"data"`
	FromCache bool            `json:"fromCache"`
	// Shared marks results delivered to more than one concurrent caller by
	// the in-flight registry.
	Shared    bool   `json:"shared"`
	Domain    Domain `json:"domain"`
	Operation string `json:"operation"`
}

// MultiResult carries the mixed outcome of a multi-domain load. The call as a
// whole always succeeds; each domain lands in exactly one of the two maps.
type MultiResult struct {
	Results   map[Domain]json.RawMessage `json:"results"`
	Errors    map[Domain]error           `json:"-"`
	CacheHits int                        `json:"cacheHits"`
	Elapsed   time.Duration              `json:"elapsed"`
}

// Options configures an Engine. Zero fields fall back to defaults.
type Options struct {
	Store      Store
	TTLTable   TTLTable
	TTLPolicy  TTLPolicy
	Strategies map[Domain]Strategy
	Recorder   *metrics.Recorder

	// MaxConcurrentOperations caps how many domains compute at once during a
	// multi-domain load.
	MaxConcurrentOperations int
	// Parallel disables chunked fan-out when false; loads then run strictly
	// one domain at a time with an identical caller contract.
	Parallel bool
	// DefaultTimeout applies to requests without their own.
	DefaultTimeout time.Duration
	// TrackerWindow is how often performance counters reset.
	TrackerWindow time.Duration
}

// Engine is the computation-and-caching entry point. It is constructed
// explicitly and passed to request handlers; all shared state inside is safe
// for concurrent use.
type Engine struct {
	store       Store
	keys        *KeyBuilder
	policy      TTLPolicy
	tracker     *Tracker
	invalidator *Invalidator
	recorder    *metrics.Recorder
	logger      *slog.Logger

	flight singleflight.Group

	maxConcurrent  int
	parallel       bool
	defaultTimeout time.Duration
}

// New assembles an engine over the supplied store. A nil store gets the
// in-process memory backend.
func New(logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore(0)
	}
	policy := opts.TTLPolicy
	if policy.Min == 0 && policy.Max == 0 {
		policy = DefaultTTLPolicy()
	}
	maxConcurrent := opts.MaxConcurrentOperations
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	defaultTimeout := opts.DefaultTimeout
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultComputeTimeout
	}
	return &Engine{
		store:          store,
		keys:           NewKeyBuilder(opts.TTLTable),
		policy:         policy,
		tracker:        NewTracker(opts.TrackerWindow),
		invalidator:    NewInvalidator(store, opts.Strategies, logger, opts.Recorder),
		recorder:       opts.Recorder,
		logger:         logger.With(slog.String("component", "engine")),
		maxConcurrent:  maxConcurrent,
		parallel:       opts.Parallel,
		defaultTimeout: defaultTimeout,
	}
}

// Execute resolves one aggregate: cache probe, in-flight join, or a fresh
// computation under a hard timeout. Concurrent callers with the same logical
// request share a single computation and observe the same result or error.
func (e *Engine) Execute(ctx context.Context, req Request, compute ComputeFunc) (Result, error) {
	if compute == nil {
		return Result{}, ErrNilCompute
	}
	key, err := e.keys.Build(req.Domain, req.Operation, req.EntityIDs, req.Filters, req.TTLOverride)
	if err != nil {
		return Result{}, err
	}

	id := computationID(req.Domain, req.Operation, req.EntityIDs, req.Filters)
	v, err, shared := e.flight.Do(id, func() (any, error) {
		return e.executeOnce(ctx, req, key, compute)
	})
	if err != nil {
		if shared {
			e.recorder.ObserveComputation(string(req.Domain), req.Operation, metrics.ComputationShared, 0)
		}
		return Result{}, err
	}
	result := v.(Result)
	result.Shared = shared
	if shared && !result.FromCache {
		e.recorder.ObserveComputation(string(req.Domain), req.Operation, metrics.ComputationShared, 0)
	}
	return result, nil
}

// executeOnce is the single source of truth for one in-flight computation.
// The registry entry holding it is dropped by singleflight the moment it
// settles, success or failure, so a dead computation never blocks retries.
func (e *Engine) executeOnce(ctx context.Context, req Request, key StructuredKey, compute ComputeFunc) (Result, error) {
	if entry, ok := e.lookupTracked(ctx, key); ok {
		return Result{
			Data:      entry.Payload,
			FromCache: true,
			Domain:    req.Domain,
			Operation: req.Operation,
		}, nil
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	started := time.Now()
	data, err := e.compute(ctx, req, compute, timeout)
	elapsed := time.Since(started)
	if err != nil {
		outcome := metrics.ComputationError
		if errors.Is(err, ErrComputationTimeout) {
			outcome = metrics.ComputationTimeout
		}
		e.recorder.ObserveComputation(string(req.Domain), req.Operation, outcome, elapsed)
		return Result{}, err
	}
	e.recorder.ObserveComputation(string(req.Domain), req.Operation, metrics.ComputationFresh, elapsed)

	payload, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("analytics: marshal %s/%s result: %w", req.Domain, req.Operation, err)
	}

	e.storeTracked(ctx, key, req.Filters, payload)

	return Result{
		Data:      payload,
		Domain:    req.Domain,
		Operation: req.Operation,
	}, nil
}

// compute runs the caller's function under a hard deadline. The deadline
// error is a distinct kind from a computation failure. The function itself is
// not interrupted beyond context cancellation; the engine simply stops
// waiting.
func (e *Engine) compute(ctx context.Context, req Request, compute ComputeFunc, timeout time.Duration) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data any
		err  error
	}
	settled := make(chan outcome, 1)
	go func() {
		data, err := compute(cctx)
		settled <- outcome{data: data, err: err}
	}()

	select {
	case out := <-settled:
		if out.err != nil {
			return nil, fmt.Errorf("analytics: compute %s/%s: %w", req.Domain, req.Operation, out.err)
		}
		return out.data, nil
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s/%s after %s", ErrComputationTimeout, req.Domain, req.Operation, timeout)
		}
		return nil, cctx.Err()
	}
}

// lookupTracked probes the store, failing open: a backend error is logged,
// counted as a miss, and never surfaced to the caller.
func (e *Engine) lookupTracked(ctx context.Context, key StructuredKey) (Entry, bool) {
	started := time.Now()
	entry, ok, err := e.store.Lookup(ctx, key.String())
	elapsed := time.Since(started)

	if err != nil {
		e.logger.Warn("cache lookup failed, treating as miss",
			slog.String("key", key.String()), slog.Any("error", err))
		e.tracker.Record(key.Domain, key.Operation, false, elapsed)
		e.recorder.ObserveLookup(string(key.Domain), key.Operation, metrics.LookupError, elapsed)
		return Entry{}, false
	}
	if ok && entry.Expired(time.Now()) {
		ok = false
	}
	e.tracker.Record(key.Domain, key.Operation, ok, elapsed)
	outcome := metrics.LookupMiss
	if ok {
		outcome = metrics.LookupHit
	}
	e.recorder.ObserveLookup(string(key.Domain), key.Operation, outcome, elapsed)
	return entry, ok
}

// storeTracked writes the computed payload back through the adaptive TTL
// policy. Failures degrade to recompute-on-next-request.
func (e *Engine) storeTracked(ctx context.Context, key StructuredKey, filters Filters, payload []byte) {
	ttl := e.policy.Adjust(key.TTL, key, filters, len(payload))
	now := time.Now().UTC()
	entry := Entry{
		Payload:   payload,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	started := time.Now()
	err := e.store.Store(ctx, key.String(), entry)
	elapsed := time.Since(started)
	if err != nil {
		e.logger.Warn("cache store failed",
			slog.String("key", key.String()), slog.Any("error", err))
		e.recorder.ObserveStore(string(key.Domain), key.Operation, metrics.StoreError, elapsed)
		return
	}
	e.recorder.ObserveStore(string(key.Domain), key.Operation, metrics.StoreStored, elapsed)
}

// LoadMany resolves one operation across several domains. Every domain runs
// to completion regardless of its siblings: failures land in Errors, values
// in Results, and the call itself only errors on malformed input.
func (e *Engine) LoadMany(ctx context.Context, domains []Domain, operation string, filters Filters, fetch FetchFunc) (MultiResult, error) {
	if fetch == nil {
		return MultiResult{}, ErrNilCompute
	}
	if err := validateOperation(operation); err != nil {
		return MultiResult{}, err
	}

	out := MultiResult{
		Results: make(map[Domain]json.RawMessage, len(domains)),
		Errors:  make(map[Domain]error),
	}
	started := time.Now()

	if e.parallel {
		e.loadChunked(ctx, domains, operation, filters, fetch, &out)
	} else {
		var mu sync.Mutex
		for _, domain := range domains {
			e.loadDomain(ctx, domain, operation, filters, fetch, &out, &mu)
		}
	}

	out.Elapsed = time.Since(started)
	return out, nil
}

// loadChunked processes domains in chunks of at most maxConcurrent. Chunks
// run one after another while domains within a chunk run concurrently,
// capping simultaneous expensive computations regardless of how many domains
// were requested.
func (e *Engine) loadChunked(ctx context.Context, domains []Domain, operation string, filters Filters, fetch FetchFunc, out *MultiResult) {
	var mu sync.Mutex
	for start := 0; start < len(domains); start += e.maxConcurrent {
		end := start + e.maxConcurrent
		if end > len(domains) {
			end = len(domains)
		}
		var wg sync.WaitGroup
		for _, domain := range domains[start:end] {
			wg.Add(1)
			go func(d Domain) {
				defer wg.Done()
				e.loadDomain(ctx, d, operation, filters, fetch, out, &mu)
			}(domain)
		}
		wg.Wait()
	}
}

func (e *Engine) loadDomain(ctx context.Context, domain Domain, operation string, filters Filters, fetch FetchFunc, out *MultiResult, mu *sync.Mutex) {
	result, err := e.Execute(ctx, Request{
		Domain:    domain,
		Operation: operation,
		Filters:   filters,
	}, func(ctx context.Context) (any, error) {
		return fetch(ctx, domain)
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		out.Errors[domain] = err
		return
	}
	out.Results[domain] = result.Data
	if result.FromCache {
		out.CacheHits++
	}
}

// Invalidate applies the domain's cascade strategy for a trigger fired by a
// mutation handler.
func (e *Engine) Invalidate(ctx context.Context, domain Domain, trigger string, ictx InvalidationContext) (InvalidationResult, error) {
	return e.invalidator.Invalidate(ctx, domain, trigger, ictx)
}

// MetricsSnapshot aggregates the tracker's current window, optionally scoped
// to the named domains.
func (e *Engine) MetricsSnapshot(domains ...Domain) Summary {
	return e.tracker.Summary(domains...)
}

// StoreStats surfaces the backend's coarse statistics for dashboards.
func (e *Engine) StoreStats(ctx context.Context) (StoreStats, error) {
	return e.store.Stats(ctx)
}

// Flush removes every engine-owned entry, across all domains. Configuration
// reloads use it so stale TTL decisions never outlive the settings that made
// them.
func (e *Engine) Flush(ctx context.Context) (int64, error) {
	keys, err := e.store.Scan(ctx, keyPrefix+":")
	if err != nil {
		return 0, fmt.Errorf("analytics: flush scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	removed, err := e.store.Delete(ctx, keys...)
	if err != nil {
		return removed, fmt.Errorf("analytics: flush delete: %w", err)
	}
	return removed, nil
}

// Close stops the tracker's reset timer and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	e.tracker.Close()
	return e.store.Close(ctx)
}
