package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// keyPrefix namespaces every engine-owned entry in the shared store.
const keyPrefix = "analytics"

// TTL tiers assigned to operations without an explicit table entry, matched
// by name: realtime feeds churn fastest, historical rollups slowest.
const (
	ttlTierRealtime = 60 * time.Second
	ttlTierRecent   = 5 * time.Minute
	ttlTierDaily    = time.Hour
	ttlTierDefault  = 30 * time.Minute
)

// StructuredKey is the deterministic composite identifier for one cached
// aggregate. TimeBucket rounds the build instant down to the start of its TTL
// window, so all requests within one window share a key and keys rotate on
// their own once the window elapses.
type StructuredKey struct {
	Domain     Domain
	Operation  string
	EntityIDs  []string
	FilterHash string
	TimeBucket int64
	TTL        time.Duration
}

// String renders the key for storage. Every field participates, and the
// separator is rejected from operations and entity ids at build time, so two
// distinct field tuples never render identically within one window.
func (k StructuredKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d:%d",
		keyPrefix, k.Domain, k.Operation, strings.Join(k.EntityIDs, ","),
		k.FilterHash, k.TimeBucket, int64(k.TTL/time.Second))
}

// TTLTable maps (domain, operation) pairs to their base cache lifetime.
// Operations absent from the table fall back to a name-heuristic tier.
type TTLTable map[Domain]map[string]time.Duration

// DefaultTTLTable returns the hand-tuned base lifetimes for known aggregate
// operations. Overrides from configuration are merged on top.
func DefaultTTLTable() TTLTable {
	return TTLTable{
		DomainCampaigns: {
			"performance": 5 * time.Minute,
			"summary":     10 * time.Minute,
			"list":        30 * time.Minute,
		},
		DomainDomains: {
			"verification": time.Hour,
			"reputation":   30 * time.Minute,
		},
		DomainMailboxes: {
			"health":      5 * time.Minute,
			"warmup":      15 * time.Minute,
			"performance": 5 * time.Minute,
		},
		DomainLeads: {
			"engagement": 10 * time.Minute,
			"counts":     30 * time.Minute,
		},
		DomainTemplates: {
			"usage": time.Hour,
		},
		DomainBilling: {
			"usage":    time.Hour,
			"invoices": 6 * time.Hour,
		},
		DomainCrossDomain: {
			"overview": 10 * time.Minute,
		},
	}
}

// Lookup resolves the base TTL for an operation, falling back by name when
// the table has no entry.
func (t TTLTable) Lookup(domain Domain, operation string) time.Duration {
	if ops, ok := t[domain]; ok {
		if ttl, ok := ops[operation]; ok && ttl > 0 {
			return ttl
		}
	}
	name := strings.ToLower(operation)
	switch {
	case strings.Contains(name, "realtime"), strings.Contains(name, "live"):
		return ttlTierRealtime
	case strings.Contains(name, "recent"), strings.Contains(name, "current"):
		return ttlTierRecent
	case strings.Contains(name, "daily"):
		return ttlTierDaily
	default:
		return ttlTierDefault
	}
}

// Merge overlays per-operation overrides onto the table, returning t for
// chaining. Zero or negative overrides are ignored.
func (t TTLTable) Merge(overrides map[Domain]map[string]time.Duration) TTLTable {
	for domain, ops := range overrides {
		if _, ok := t[domain]; !ok {
			t[domain] = make(map[string]time.Duration, len(ops))
		}
		for op, ttl := range ops {
			if ttl > 0 {
				t[domain][op] = ttl
			}
		}
	}
	return t
}

// KeyBuilder turns request coordinates into structured cache keys. The clock
// is injectable so window-rotation behavior stays testable.
type KeyBuilder struct {
	ttls TTLTable
	now  func() time.Time
}

// NewKeyBuilder constructs a builder over the supplied TTL table; a nil table
// uses the defaults.
func NewKeyBuilder(table TTLTable) *KeyBuilder {
	if table == nil {
		table = DefaultTTLTable()
	}
	return &KeyBuilder{ttls: table, now: time.Now}
}

// Build produces the structured key for one request. ttlOverride, when
// positive, wins over the table; otherwise the per-domain/operation table and
// its name heuristics decide. Validation runs before any hashing so malformed
// requests never reach the store.
func (b *KeyBuilder) Build(domain Domain, operation string, entityIDs []string, filters Filters, ttlOverride time.Duration) (StructuredKey, error) {
	if !domain.Valid() {
		return StructuredKey{}, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	if err := validateOperation(operation); err != nil {
		return StructuredKey{}, err
	}
	ids := normalizeEntityIDs(entityIDs)
	for _, id := range ids {
		if strings.ContainsAny(id, ":,") {
			return StructuredKey{}, fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
		}
	}

	ttl := ttlOverride
	if ttl <= 0 {
		ttl = b.ttls.Lookup(domain, operation)
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
		ttl = time.Second
	}

	return StructuredKey{
		Domain:     domain,
		Operation:  operation,
		EntityIDs:  ids,
		FilterHash: filters.Hash(),
		TimeBucket: b.now().Unix() / ttlSeconds * ttlSeconds,
		TTL:        ttl,
	}, nil
}

func validateOperation(operation string) error {
	if strings.TrimSpace(operation) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOperation)
	}
	if strings.Contains(operation, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidOperation, operation)
	}
	return nil
}

// domainPrefix is the scan prefix covering every key in one domain.
func domainPrefix(domain Domain) string {
	return keyPrefix + ":" + string(domain) + ":"
}

// computationID hashes the logical request identity for de-duplication. It is
// deliberately independent from the storage key: in-flight joining must work
// even across a TTL window boundary mid-computation.
func computationID(domain Domain, operation string, entityIDs []string, filters Filters) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(domain))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(operation)
	_, _ = h.WriteString("|")
	for _, id := range normalizeEntityIDs(entityIDs) {
		_, _ = h.WriteString(id)
		_, _ = h.WriteString(",")
	}
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(filters.Hash())
	return fmt.Sprintf("%016x", h.Sum64())
}

// keyEntityIDs extracts the entity id segment from a rendered key. It is used
// by entity-scoped invalidation to match stored keys without a reverse index.
func keyEntityIDs(key string) []string {
	parts := strings.Split(key, ":")
	if len(parts) != 7 || parts[3] == "" {
		return nil
	}
	return strings.Split(parts[3], ",")
}
