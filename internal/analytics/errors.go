package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidDomain rejects requests naming a domain outside the closed set.
	ErrInvalidDomain = errors.New("analytics: invalid domain")
	// ErrInvalidOperation rejects empty or malformed operation names.
	ErrInvalidOperation = errors.New("analytics: invalid operation")
	// ErrInvalidEntityID rejects entity ids that would corrupt key rendering.
	ErrInvalidEntityID = errors.New("analytics: invalid entity id")
	// ErrNilCompute rejects execute calls without a computation function.
	ErrNilCompute = errors.New("analytics: computation function required")
	// ErrComputationTimeout marks computations that exceeded their deadline.
	// It is a sibling of computation failures, not a sub-case, so callers can
	// distinguish "took too long" from "failed internally".
	ErrComputationTimeout = errors.New("analytics: computation timed out")
)

// InvalidationError reports the domains whose cache entries could not be
// cleared. An incomplete invalidation can leave stale data visible, so the
// per-domain breakdown is surfaced to the mutation handler rather than an
// all-or-nothing failure.
type InvalidationError struct {
	Failed map[Domain]error
}

func (e *InvalidationError) Error() string {
	domains := make([]string, 0, len(e.Failed))
	for d := range e.Failed {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	return fmt.Sprintf("analytics: invalidation incomplete for %s", strings.Join(domains, ", "))
}
