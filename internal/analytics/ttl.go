package analytics

import "time"

// Adaptive TTL thresholds. Broad, heavy, or historical aggregates are cached
// longer because recomputing them is expensive and their inputs rarely move;
// narrow and recent ones stay short so dashboards track fresh data.
const (
	largePayloadBytes = 100_000
	smallPayloadBytes = 1_000
	broadEntityCount  = 10
	historicalDays    = 90
	recentDays        = 7
)

// TTLPolicy adapts a base TTL to the shape of the value being written. It
// applies on the write path only; reads honor whatever TTL the entry was
// stored with.
type TTLPolicy struct {
	Min time.Duration
	Max time.Duration
}

// DefaultTTLPolicy clamps adjusted lifetimes between a realtime floor and a
// historical-data ceiling.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Min: 30 * time.Second, Max: 24 * time.Hour}
}

// Adjust derives the final TTL for a write from the base TTL, the key's
// breadth, the filters the payload was computed under, and the serialized
// payload size. Multipliers compound before clamping.
func (p TTLPolicy) Adjust(base time.Duration, key StructuredKey, filters Filters, payloadSize int) time.Duration {
	ttl := base

	switch {
	case payloadSize > largePayloadBytes:
		ttl *= 2
	case payloadSize > 0 && payloadSize < smallPayloadBytes:
		ttl /= 2
	}

	if len(key.EntityIDs) > broadEntityCount {
		ttl = ttl * 3 / 2
	}

	if filters.hasDateRange() {
		switch days := filters.rangeDays(); {
		case days > historicalDays:
			ttl *= 2
		case days <= recentDays:
			ttl /= 2
		}
	}

	return p.clamp(ttl)
}

func (p TTLPolicy) clamp(ttl time.Duration) time.Duration {
	if p.Min > 0 && ttl < p.Min {
		return p.Min
	}
	if p.Max > 0 && ttl > p.Max {
		return p.Max
	}
	return ttl
}
