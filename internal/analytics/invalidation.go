package analytics

import (
	"context"
	"log/slog"
	"strings"

	"github.com/campaignkit/analytics/internal/metrics"
)

// CascadeAction says what a matched rule does to cache entries.
type CascadeAction string

const (
	// ActionInvalidate removes matching entries.
	ActionInvalidate CascadeAction = "invalidate"
	// ActionRefresh is reserved for proactive recomputation; the base engine
	// treats it as ActionInvalidate.
	ActionRefresh CascadeAction = "refresh"
	// ActionCascade propagates the invalidation one hop into related domains.
	ActionCascade CascadeAction = "cascade"
)

// CascadeTargets says which domains a rule touches.
type CascadeTargets string

const (
	// TargetSameDomain scopes the rule to the originating domain.
	TargetSameDomain CascadeTargets = "same-domain"
	// TargetRelatedDomains scopes the rule to the adjacency table.
	TargetRelatedDomains CascadeTargets = "related-domains"
)

// CascadeRule matches one trigger event and names the action to take.
type CascadeRule struct {
	Condition string
	Action    CascadeAction
	Targets   CascadeTargets
}

// Strategy is the immutable invalidation behavior of one domain, built once
// at construction and read-only thereafter.
type Strategy struct {
	Triggers []string
	Rules    []CascadeRule
}

// relatedDomains is the hand-authored adjacency table cascades follow.
// crossDomain has no outgoing edges, so every cascade terminates after one
// hop into it.
var relatedDomains = map[Domain][]Domain{
	DomainCampaigns:   {DomainMailboxes, DomainDomains, DomainLeads, DomainCrossDomain},
	DomainDomains:     {DomainCampaigns, DomainMailboxes, DomainCrossDomain},
	DomainMailboxes:   {DomainCampaigns, DomainDomains, DomainCrossDomain},
	DomainLeads:       {DomainCampaigns, DomainCrossDomain},
	DomainTemplates:   {DomainCampaigns, DomainCrossDomain},
	DomainBilling:     {DomainCrossDomain},
	DomainCrossDomain: {},
}

// RelatedDomains returns the adjacency list for a domain in cascade order.
func RelatedDomains(domain Domain) []Domain {
	related := relatedDomains[domain]
	out := make([]Domain, len(related))
	copy(out, related)
	return out
}

// DefaultStrategies defines the invalidation behavior for every member of the
// closed domain set.
func DefaultStrategies() map[Domain]Strategy {
	return map[Domain]Strategy{
		DomainCampaigns: {
			Triggers: []string{"campaign_created", "campaign_updated", "campaign_deleted", "send_completed"},
			Rules: []CascadeRule{
				{Condition: "campaign_created", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "campaign_updated", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "campaign_deleted", Action: ActionCascade, Targets: TargetRelatedDomains},
				{Condition: "send_completed", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainDomains: {
			Triggers: []string{"domain_verified", "domain_removed", "dns_updated"},
			Rules: []CascadeRule{
				{Condition: "domain_verified", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "dns_updated", Action: ActionRefresh, Targets: TargetSameDomain},
				{Condition: "domain_removed", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainMailboxes: {
			Triggers: []string{"mailbox_connected", "mailbox_disconnected", "warmup_progressed"},
			Rules: []CascadeRule{
				{Condition: "mailbox_connected", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "warmup_progressed", Action: ActionRefresh, Targets: TargetSameDomain},
				{Condition: "mailbox_disconnected", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainLeads: {
			Triggers: []string{"lead_imported", "lead_updated", "list_deleted"},
			Rules: []CascadeRule{
				{Condition: "lead_imported", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "lead_updated", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "list_deleted", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainTemplates: {
			Triggers: []string{"template_saved", "template_deleted"},
			Rules: []CascadeRule{
				{Condition: "template_saved", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "template_deleted", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainBilling: {
			Triggers: []string{"plan_changed", "invoice_issued"},
			Rules: []CascadeRule{
				{Condition: "invoice_issued", Action: ActionInvalidate, Targets: TargetSameDomain},
				{Condition: "plan_changed", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
		DomainCrossDomain: {
			Triggers: []string{"dashboard_refreshed"},
			Rules: []CascadeRule{
				{Condition: "dashboard_refreshed", Action: ActionInvalidate, Targets: TargetSameDomain},
			},
		},
	}
}

// InvalidationContext narrows what a trigger touches. EntityIDs scopes the
// removal to entries keyed on those ids; Operation informs cascade breadth.
type InvalidationContext struct {
	EntityIDs []string
	Operation string
}

// InvalidationResult reports what a trigger removed, for observability.
type InvalidationResult struct {
	KeysInvalidated int64    `json:"keysInvalidated"`
	DomainsAffected []Domain `json:"domainsAffected"`
}

// Invalidator applies per-domain strategies against the store.
type Invalidator struct {
	store      Store
	strategies map[Domain]Strategy
	logger     *slog.Logger
	recorder   *metrics.Recorder
}

// NewInvalidator builds the engine's invalidation arm. A nil strategy map
// uses the defaults; the map is treated as immutable after this call.
func NewInvalidator(store Store, strategies map[Domain]Strategy, logger *slog.Logger, recorder *metrics.Recorder) *Invalidator {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{
		store:      store,
		strategies: strategies,
		logger:     logger.With(slog.String("component", "invalidator")),
		recorder:   recorder,
	}
}

// Invalidate processes a trigger for a domain. It returns what was removed
// and, when any affected domain could not be cleared, an *InvalidationError
// listing the failures; successes in the result remain valid either way.
func (v *Invalidator) Invalidate(ctx context.Context, domain Domain, trigger string, ictx InvalidationContext) (InvalidationResult, error) {
	if !domain.Valid() {
		return InvalidationResult{}, ErrInvalidDomain
	}
	strategy, ok := v.strategies[domain]
	if !ok {
		return InvalidationResult{}, nil
	}

	result := InvalidationResult{}
	affected := make(map[Domain]struct{})
	failed := make(map[Domain]error)

	for _, rule := range strategy.Rules {
		if rule.Condition != trigger {
			continue
		}
		switch rule.Action {
		case ActionInvalidate, ActionRefresh:
			removed, err := v.invalidateDomain(ctx, domain, ictx.EntityIDs)
			v.recorder.ObserveInvalidation(string(domain), trigger, string(domain), removed)
			if err != nil {
				failed[domain] = err
				continue
			}
			result.KeysInvalidated += removed
			affected[domain] = struct{}{}
		case ActionCascade:
			for _, related := range cascadeTargets(domain, ictx) {
				removed, err := v.invalidateDomain(ctx, related, nil)
				v.recorder.ObserveInvalidation(string(domain), trigger, string(related), removed)
				if err != nil {
					failed[related] = err
					continue
				}
				result.KeysInvalidated += removed
				affected[related] = struct{}{}
			}
		}
	}

	for _, d := range Domains() {
		if _, ok := affected[d]; ok {
			result.DomainsAffected = append(result.DomainsAffected, d)
		}
	}

	if len(failed) > 0 {
		for d, err := range failed {
			v.logger.Error("invalidation failed",
				slog.String("domain", string(d)),
				slog.String("trigger", trigger),
				slog.Any("error", err))
		}
		return result, &InvalidationError{Failed: failed}
	}
	return result, nil
}

// cascadeTargets bounds the blast radius of a cascade. Performance operations
// invalidate everything downstream; entity-scoped triggers reach at most two
// related domains; anything else touches only the first.
func cascadeTargets(domain Domain, ictx InvalidationContext) []Domain {
	related := relatedDomains[domain]
	switch {
	case strings.Contains(strings.ToLower(ictx.Operation), "performance"):
		return related
	case len(ictx.EntityIDs) > 0:
		if len(related) > 2 {
			return related[:2]
		}
		return related
	default:
		if len(related) > 1 {
			return related[:1]
		}
		return related
	}
}

// invalidateDomain removes the domain's entries, optionally narrowed to keys
// referencing any of the given entity ids.
func (v *Invalidator) invalidateDomain(ctx context.Context, domain Domain, entityIDs []string) (int64, error) {
	keys, err := v.store.Scan(ctx, domainPrefix(domain))
	if err != nil {
		return 0, err
	}
	if len(entityIDs) > 0 {
		wanted := make(map[string]struct{}, len(entityIDs))
		for _, id := range entityIDs {
			wanted[id] = struct{}{}
		}
		filtered := keys[:0]
		for _, key := range keys {
			for _, id := range keyEntityIDs(key) {
				if _, ok := wanted[id]; ok {
					filtered = append(filtered, key)
					break
				}
			}
		}
		keys = filtered
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return v.store.Delete(ctx, keys...)
}
