package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedDomain(t *testing.T, store Store, domain Domain, operation string, entityIDs []string) string {
	t.Helper()
	builder := NewKeyBuilder(nil)
	key, err := builder.Build(domain, operation, entityIDs, Filters{}, 0)
	require.NoError(t, err)
	require.NoError(t, store.Store(context.Background(), key.String(), testEntry(time.Minute)))
	return key.String()
}

func domainKeyCount(t *testing.T, store Store, domain Domain) int {
	t.Helper()
	keys, err := store.Scan(context.Background(), domainPrefix(domain))
	require.NoError(t, err)
	return len(keys)
}

func TestInvalidator_SameDomain(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer func() { _ = store.Close(context.Background()) }()
	inv := NewInvalidator(store, nil, testLogger(), nil)

	seedDomain(t, store, DomainCampaigns, "performance", []string{"c1"})
	seedDomain(t, store, DomainCampaigns, "summary", []string{"c2"})
	seedDomain(t, store, DomainLeads, "counts", nil)

	result, err := inv.Invalidate(context.Background(), DomainCampaigns, "campaign_updated", InvalidationContext{})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.KeysInvalidated)
	require.Equal(t, []Domain{DomainCampaigns}, result.DomainsAffected)
	require.Equal(t, 1, domainKeyCount(t, store, DomainLeads), "other domains untouched")
}

func TestInvalidator_EntityScoped(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer func() { _ = store.Close(context.Background()) }()
	inv := NewInvalidator(store, nil, testLogger(), nil)

	keep := seedDomain(t, store, DomainCampaigns, "performance", []string{"c2"})
	seedDomain(t, store, DomainCampaigns, "performance", []string{"c1"})
	seedDomain(t, store, DomainCampaigns, "summary", []string{"c1", "c3"})

	result, err := inv.Invalidate(context.Background(), DomainCampaigns, "campaign_updated", InvalidationContext{EntityIDs: []string{"c1"}})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.KeysInvalidated)

	_, ok, err := store.Lookup(context.Background(), keep)
	require.NoError(t, err)
	require.True(t, ok, "entries for other entities survive")
}

func TestInvalidator_CascadeBreadth(t *testing.T) {
	ctx := context.Background()

	seedAllRelated := func(t *testing.T, store Store) {
		for _, related := range RelatedDomains(DomainCampaigns) {
			seedDomain(t, store, related, "summary", nil)
		}
	}

	t.Run("performance operation reaches all related domains", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		defer func() { _ = store.Close(ctx) }()
		inv := NewInvalidator(store, nil, testLogger(), nil)
		seedAllRelated(t, store)

		result, err := inv.Invalidate(ctx, DomainCampaigns, "send_completed", InvalidationContext{Operation: "performance"})
		require.NoError(t, err)
		require.ElementsMatch(t, RelatedDomains(DomainCampaigns), result.DomainsAffected)
		require.Equal(t, int64(4), result.KeysInvalidated)
	})

	t.Run("entity-scoped trigger reaches at most two", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		defer func() { _ = store.Close(ctx) }()
		inv := NewInvalidator(store, nil, testLogger(), nil)
		seedAllRelated(t, store)

		result, err := inv.Invalidate(ctx, DomainCampaigns, "send_completed", InvalidationContext{EntityIDs: []string{"c1"}})
		require.NoError(t, err)
		require.Len(t, result.DomainsAffected, 2)
		require.ElementsMatch(t, RelatedDomains(DomainCampaigns)[:2], result.DomainsAffected)
	})

	t.Run("unscoped trigger reaches only the first", func(t *testing.T) {
		store := NewMemoryStore(time.Minute)
		defer func() { _ = store.Close(ctx) }()
		inv := NewInvalidator(store, nil, testLogger(), nil)
		seedAllRelated(t, store)

		result, err := inv.Invalidate(ctx, DomainCampaigns, "send_completed", InvalidationContext{})
		require.NoError(t, err)
		require.Equal(t, RelatedDomains(DomainCampaigns)[:1], result.DomainsAffected)
	})
}

func TestInvalidator_CrossDomainIsSink(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer func() { _ = store.Close(context.Background()) }()
	inv := NewInvalidator(store, map[Domain]Strategy{
		DomainCrossDomain: {
			Triggers: []string{"dashboard_refreshed"},
			Rules: []CascadeRule{
				{Condition: "dashboard_refreshed", Action: ActionCascade, Targets: TargetRelatedDomains},
			},
		},
	}, testLogger(), nil)

	seedDomain(t, store, DomainCampaigns, "performance", nil)
	seedDomain(t, store, DomainCrossDomain, "overview", nil)

	result, err := inv.Invalidate(context.Background(), DomainCrossDomain, "dashboard_refreshed", InvalidationContext{Operation: "performance"})
	require.NoError(t, err)
	require.Empty(t, result.DomainsAffected, "crossDomain has no outgoing edges")
	require.Zero(t, result.KeysInvalidated)
	require.Equal(t, 1, domainKeyCount(t, store, DomainCampaigns))
}

func TestInvalidator_UnknownTriggerNoOp(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer func() { _ = store.Close(context.Background()) }()
	inv := NewInvalidator(store, nil, testLogger(), nil)

	seedDomain(t, store, DomainCampaigns, "performance", nil)

	result, err := inv.Invalidate(context.Background(), DomainCampaigns, "unrelated_event", InvalidationContext{})
	require.NoError(t, err)
	require.Zero(t, result.KeysInvalidated)
	require.Empty(t, result.DomainsAffected)
	require.Equal(t, 1, domainKeyCount(t, store, DomainCampaigns))
}

func TestInvalidator_InvalidDomain(t *testing.T) {
	inv := NewInvalidator(NewMemoryStore(time.Minute), nil, testLogger(), nil)
	_, err := inv.Invalidate(context.Background(), "payments", "anything", InvalidationContext{})
	require.ErrorIs(t, err, ErrInvalidDomain)
}

// scanFailStore fails scans for domains in its deny list so partial
// invalidation failures can be observed.
//
// The alias keeps the embedded field's name from colliding with the
// interface's Store method, which would otherwise shadow it.
type embeddedStore = Store

type scanFailStore struct {
	embeddedStore
	failPrefixes []string
}

func (s *scanFailStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	for _, failing := range s.failPrefixes {
		if strings.HasPrefix(prefix, failing) {
			return nil, errors.New("backend unavailable")
		}
	}
	return s.embeddedStore.Scan(ctx, prefix)
}

func TestInvalidator_PartialFailureReported(t *testing.T) {
	inner := NewMemoryStore(time.Minute)
	defer func() { _ = inner.Close(context.Background()) }()
	store := &scanFailStore{embeddedStore: inner, failPrefixes: []string{domainPrefix(DomainMailboxes)}}
	inv := NewInvalidator(store, nil, testLogger(), nil)

	for _, related := range RelatedDomains(DomainCampaigns) {
		seedDomain(t, inner, related, "summary", nil)
	}

	result, err := inv.Invalidate(context.Background(), DomainCampaigns, "send_completed", InvalidationContext{Operation: "performance"})
	require.Error(t, err)

	var invErr *InvalidationError
	require.ErrorAs(t, err, &invErr)
	require.Contains(t, invErr.Failed, DomainMailboxes)
	require.Len(t, invErr.Failed, 1)

	// The surviving domains were still cleared.
	require.ElementsMatch(t, []Domain{DomainDomains, DomainLeads, DomainCrossDomain}, result.DomainsAffected)
	require.Equal(t, int64(3), result.KeysInvalidated)
	require.Contains(t, invErr.Error(), "mailboxes")
}
