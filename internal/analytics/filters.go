package analytics

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DateRange bounds a report query in time. Zero values mean unbounded.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the span of the range in whole days, rounding partial days up.
func (r DateRange) Days() int {
	if r.Start.IsZero() || r.End.IsZero() || !r.End.After(r.Start) {
		return 0
	}
	span := r.End.Sub(r.Start)
	days := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// IsZero reports whether no range was supplied.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Filters carries the query constraints an aggregate is computed under. Only
// the canonical subset (date range, entity-id filters, declared extras)
// participates in cache key hashing; presentation fields such as pagination
// never cause a distinct cache entry.
type Filters struct {
	DateRange *DateRange        `json:"dateRange,omitempty"`
	EntityIDs []string          `json:"entityIds,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`

	// Page and PageSize shape the response, not the underlying aggregate,
	// and are excluded from the canonical hash.
	Page     int `json:"page,omitempty"`
	PageSize int `json:"pageSize,omitempty"`
}

// Hash computes a stable digest of the canonical filter subset. Identical
// constraints always hash identically regardless of map ordering or entity id
// ordering.
func (f Filters) Hash() string {
	h := xxhash.New()
	if f.DateRange != nil && !f.DateRange.IsZero() {
		_, _ = h.WriteString(f.DateRange.Start.UTC().Format(time.RFC3339))
		_, _ = h.WriteString("..")
		_, _ = h.WriteString(f.DateRange.End.UTC().Format(time.RFC3339))
	}
	_, _ = h.WriteString("|")
	for _, id := range normalizeEntityIDs(f.EntityIDs) {
		_, _ = h.WriteString(id)
		_, _ = h.WriteString(",")
	}
	_, _ = h.WriteString("|")
	if len(f.Extra) > 0 {
		keys := make([]string, 0, len(f.Extra))
		for k := range f.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = h.WriteString(k)
			_, _ = h.WriteString("=")
			_, _ = h.WriteString(f.Extra[k])
			_, _ = h.WriteString("|")
		}
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// rangeDays returns the filter's date range span, or 0 when absent.
func (f Filters) rangeDays() int {
	if f.DateRange == nil {
		return 0
	}
	return f.DateRange.Days()
}

func (f Filters) hasDateRange() bool {
	return f.DateRange != nil && !f.DateRange.IsZero()
}

// normalizeEntityIDs removes duplicates and sorts lexically so key generation
// is independent of caller ordering.
func normalizeEntityIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
