package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupOutcome captures the result of a cache lookup.
type LookupOutcome string

const (
	// LookupHit indicates the lookup reused a cached aggregate.
	LookupHit LookupOutcome = "hit"
	// LookupMiss indicates no cached aggregate was present.
	LookupMiss LookupOutcome = "miss"
	// LookupError indicates the lookup failed and degraded to a miss.
	LookupError LookupOutcome = "error"
)

// StoreOutcome captures the result of a cache write attempt.
type StoreOutcome string

const (
	// StoreStored indicates the aggregate was persisted.
	StoreStored StoreOutcome = "stored"
	// StoreError indicates the write failed.
	StoreError StoreOutcome = "error"
)

// ComputationOutcome captures how a computation settled.
type ComputationOutcome string

const (
	// ComputationFresh indicates the computation ran to completion.
	ComputationFresh ComputationOutcome = "fresh"
	// ComputationShared indicates the caller joined an in-flight computation.
	ComputationShared ComputationOutcome = "shared"
	// ComputationTimeout indicates the computation exceeded its deadline.
	ComputationTimeout ComputationOutcome = "timeout"
	// ComputationError indicates the computation function failed.
	ComputationError ComputationOutcome = "error"
)

// Recorder publishes Prometheus metrics for engine activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	computations       *prometheus.CounterVec
	computationLatency *prometheus.HistogramVec

	invalidations   *prometheus.CounterVec
	invalidatedKeys *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analytics",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed by the analytics engine.",
	}, []string{"domain", "operation", "method", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "analytics",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"domain", "operation", "method"})

	computations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analytics",
		Subsystem: "compute",
		Name:      "computations_total",
		Help:      "Aggregate computations settled by the engine.",
	}, []string{"domain", "operation", "outcome"})

	computationLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "analytics",
		Subsystem: "compute",
		Name:      "computation_duration_seconds",
		Help:      "Latency distribution for aggregate computations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"domain", "operation", "outcome"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analytics",
		Subsystem: "invalidation",
		Name:      "triggers_total",
		Help:      "Invalidation triggers processed per originating domain.",
	}, []string{"domain", "trigger"})

	invalidatedKeys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "analytics",
		Subsystem: "invalidation",
		Name:      "keys_total",
		Help:      "Cache keys removed by invalidation, per affected domain.",
	}, []string{"domain"})

	reg.MustRegister(cacheOperations, cacheLatency, computations, computationLatency, invalidations, invalidatedKeys)

	return &Recorder{
		gatherer:           reg,
		handler:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheOperations:    cacheOperations,
		cacheLatency:       cacheLatency,
		computations:       computations,
		computationLatency: computationLatency,
		invalidations:      invalidations,
		invalidatedKeys:    invalidatedKeys,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveLookup records the result of a cache lookup.
func (r *Recorder) ObserveLookup(domain, operation string, result LookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(LookupMiss)
	}
	r.observeCache(domain, operation, "lookup", resultLabel, duration)
}

// ObserveStore records the result of a cache write attempt.
func (r *Recorder) ObserveStore(domain, operation string, result StoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(StoreError)
	}
	r.observeCache(domain, operation, "store", resultLabel, duration)
}

// ObserveComputation records how one settled computation turned out.
func (r *Recorder) ObserveComputation(domain, operation string, outcome ComputationOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	domainLabel := normalizeLabel(domain)
	operationLabel := normalizeLabel(operation)
	outcomeLabel := string(outcome)
	if outcomeLabel == "" {
		outcomeLabel = string(ComputationError)
	}
	r.computations.WithLabelValues(domainLabel, operationLabel, outcomeLabel).Inc()
	r.computationLatency.WithLabelValues(domainLabel, operationLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveInvalidation records one processed trigger and the keys it removed
// from an affected domain.
func (r *Recorder) ObserveInvalidation(originDomain, trigger, affectedDomain string, keysRemoved int64) {
	if r == nil {
		return
	}
	r.invalidations.WithLabelValues(normalizeLabel(originDomain), normalizeLabel(trigger)).Inc()
	if keysRemoved > 0 {
		r.invalidatedKeys.WithLabelValues(normalizeLabel(affectedDomain)).Add(float64(keysRemoved))
	}
}

func (r *Recorder) observeCache(domain, operation, method, result string, duration time.Duration) {
	domainLabel := normalizeLabel(domain)
	operationLabel := normalizeLabel(operation)
	r.cacheOperations.WithLabelValues(domainLabel, operationLabel, method, result).Inc()
	r.cacheLatency.WithLabelValues(domainLabel, operationLabel, method).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
