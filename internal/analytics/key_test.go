package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestKeyBuilder_Deterministic(t *testing.T) {
	builder := NewKeyBuilder(nil)
	builder.now = fixedClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	filters := Filters{
		DateRange: &DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	first, err := builder.Build(DomainCampaigns, "performance", []string{"c2", "c1", "c1"}, filters, 0)
	require.NoError(t, err)
	second, err := builder.Build(DomainCampaigns, "performance", []string{"c1", "c2"}, filters, 0)
	require.NoError(t, err)

	require.Equal(t, first.String(), second.String(), "entity id order must not change the key")
	require.Equal(t, []string{"c1", "c2"}, first.EntityIDs)
}

func TestKeyBuilder_RotatesAcrossWindows(t *testing.T) {
	builder := NewKeyBuilder(nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	builder.now = fixedClock(base)
	first, err := builder.Build(DomainCampaigns, "performance", []string{"c1"}, Filters{}, 0)
	require.NoError(t, err)

	builder.now = fixedClock(base.Add(first.TTL))
	second, err := builder.Build(DomainCampaigns, "performance", []string{"c1"}, Filters{}, 0)
	require.NoError(t, err)

	require.NotEqual(t, first.String(), second.String(), "keys must differ across TTL windows")
	require.NotEqual(t, first.TimeBucket, second.TimeBucket)
}

func TestKeyBuilder_SameWindowSharesBucket(t *testing.T) {
	builder := NewKeyBuilder(nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	builder.now = fixedClock(base)
	first, err := builder.Build(DomainLeads, "counts", nil, Filters{}, 10*time.Minute)
	require.NoError(t, err)

	builder.now = fixedClock(base.Add(3 * time.Minute))
	second, err := builder.Build(DomainLeads, "counts", nil, Filters{}, 10*time.Minute)
	require.NoError(t, err)

	require.Equal(t, first.String(), second.String())
}

func TestKeyBuilder_TTLOverrideWins(t *testing.T) {
	builder := NewKeyBuilder(nil)
	key, err := builder.Build(DomainCampaigns, "performance", nil, Filters{}, 42*time.Second)
	require.NoError(t, err)
	require.Equal(t, 42*time.Second, key.TTL)
}

func TestKeyBuilder_Validation(t *testing.T) {
	builder := NewKeyBuilder(nil)

	_, err := builder.Build("payments", "performance", nil, Filters{}, 0)
	require.ErrorIs(t, err, ErrInvalidDomain)

	_, err = builder.Build(DomainCampaigns, "", nil, Filters{}, 0)
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = builder.Build(DomainCampaigns, "per:formance", nil, Filters{}, 0)
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = builder.Build(DomainCampaigns, "performance", []string{"c:1"}, Filters{}, 0)
	require.ErrorIs(t, err, ErrInvalidEntityID)
}

func TestTTLTable_NameHeuristics(t *testing.T) {
	table := DefaultTTLTable()

	require.Equal(t, 5*time.Minute, table.Lookup(DomainCampaigns, "performance"), "table entry wins")
	require.Equal(t, ttlTierRealtime, table.Lookup(DomainCampaigns, "realtimeOpens"))
	require.Equal(t, ttlTierRealtime, table.Lookup(DomainMailboxes, "liveStatus"))
	require.Equal(t, ttlTierRecent, table.Lookup(DomainLeads, "recentActivity"))
	require.Equal(t, ttlTierRecent, table.Lookup(DomainLeads, "currentTotals"))
	require.Equal(t, ttlTierDaily, table.Lookup(DomainBilling, "dailyRollup"))
	require.Equal(t, ttlTierDefault, table.Lookup(DomainTemplates, "somethingElse"))
}

func TestTTLTable_Merge(t *testing.T) {
	table := DefaultTTLTable().Merge(map[Domain]map[string]time.Duration{
		DomainCampaigns: {"performance": 2 * time.Minute},
		DomainBilling:   {"forecast": 45 * time.Minute, "ignored": 0},
	})

	require.Equal(t, 2*time.Minute, table.Lookup(DomainCampaigns, "performance"))
	require.Equal(t, 45*time.Minute, table.Lookup(DomainBilling, "forecast"))
	require.Equal(t, ttlTierDefault, table.Lookup(DomainBilling, "ignored"))
}

func TestFilters_HashCanonicalSubset(t *testing.T) {
	base := Filters{
		DateRange: &DateRange{
			Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		EntityIDs: []string{"b", "a"},
		Extra:     map[string]string{"status": "active", "channel": "email"},
	}

	same := base
	same.EntityIDs = []string{"a", "b", "a"}
	same.Page = 7
	same.PageSize = 50
	require.Equal(t, base.Hash(), same.Hash(), "pagination and ordering must not change the hash")

	narrowed := base
	narrowed.Extra = map[string]string{"status": "paused", "channel": "email"}
	require.NotEqual(t, base.Hash(), narrowed.Hash())

	shifted := base
	shifted.DateRange = &DateRange{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
	}
	require.NotEqual(t, base.Hash(), shifted.Hash())
}

func TestComputationID_IndependentOfWindow(t *testing.T) {
	first := computationID(DomainCampaigns, "performance", []string{"c2", "c1"}, Filters{})
	second := computationID(DomainCampaigns, "performance", []string{"c1", "c2"}, Filters{})
	require.Equal(t, first, second)

	other := computationID(DomainCampaigns, "performance", []string{"c3"}, Filters{})
	require.NotEqual(t, first, other)
}

func TestKeyEntityIDs(t *testing.T) {
	builder := NewKeyBuilder(nil)
	key, err := builder.Build(DomainCampaigns, "performance", []string{"c2", "c1"}, Filters{}, 0)
	require.NoError(t, err)

	require.Equal(t, []string{"c1", "c2"}, keyEntityIDs(key.String()))

	empty, err := builder.Build(DomainCampaigns, "performance", nil, Filters{}, 0)
	require.NoError(t, err)
	require.Nil(t, keyEntityIDs(empty.String()))
}

func TestDateRange_Days(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
	}
	require.Equal(t, 8, r.Days())

	partial := DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
	}
	require.Equal(t, 2, partial.Days())

	require.Equal(t, 0, DateRange{}.Days())
}
