package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ttlTestKey(entityCount int) StructuredKey {
	ids := make([]string, 0, entityCount)
	for i := 0; i < entityCount; i++ {
		ids = append(ids, string(rune('a'+i)))
	}
	return StructuredKey{Domain: DomainCampaigns, Operation: "performance", EntityIDs: ids}
}

func TestTTLPolicy_LargePayloadWithMidRange(t *testing.T) {
	// 150000 bytes doubles, 3 entity ids and an 8-day range change nothing:
	// 300s * 2 = 600s.
	policy := DefaultTTLPolicy()
	filters := Filters{DateRange: &DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),
	}}

	ttl := policy.Adjust(300*time.Second, ttlTestKey(3), filters, 150_000)
	require.Equal(t, 600*time.Second, ttl)
}

func TestTTLPolicy_SmallPayloadHalves(t *testing.T) {
	policy := DefaultTTLPolicy()
	ttl := policy.Adjust(10*time.Minute, ttlTestKey(1), Filters{}, 500)
	require.Equal(t, 5*time.Minute, ttl)
}

func TestTTLPolicy_BroadQueryExtends(t *testing.T) {
	policy := DefaultTTLPolicy()
	ttl := policy.Adjust(300*time.Second, ttlTestKey(11), Filters{}, 50_000)
	require.Equal(t, 450*time.Second, ttl)
}

func TestTTLPolicy_HistoricalRangeDoubles(t *testing.T) {
	policy := DefaultTTLPolicy()
	filters := Filters{DateRange: &DateRange{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}}
	ttl := policy.Adjust(10*time.Minute, ttlTestKey(2), filters, 50_000)
	require.Equal(t, 20*time.Minute, ttl)
}

func TestTTLPolicy_RecentRangeHalves(t *testing.T) {
	policy := DefaultTTLPolicy()
	filters := Filters{DateRange: &DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	}}
	ttl := policy.Adjust(10*time.Minute, ttlTestKey(2), filters, 50_000)
	require.Equal(t, 5*time.Minute, ttl)
}

func TestTTLPolicy_MultipliersCompound(t *testing.T) {
	policy := DefaultTTLPolicy()
	filters := Filters{DateRange: &DateRange{
		Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}}
	// 300s * 2 (size) * 1.5 (breadth) * 2 (historical) = 1800s.
	ttl := policy.Adjust(300*time.Second, ttlTestKey(12), filters, 150_000)
	require.Equal(t, 1800*time.Second, ttl)
}

func TestTTLPolicy_Clamped(t *testing.T) {
	policy := TTLPolicy{Min: time.Minute, Max: time.Hour}

	floor := policy.Adjust(90*time.Second, ttlTestKey(1), Filters{DateRange: &DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	}}, 500)
	require.Equal(t, time.Minute, floor, "adjusted TTL below minimum clamps up")

	ceiling := policy.Adjust(50*time.Minute, ttlTestKey(12), Filters{}, 200_000)
	require.Equal(t, time.Hour, ceiling, "adjusted TTL above maximum clamps down")
}

func TestTTLPolicy_EmptyPayloadUnchanged(t *testing.T) {
	policy := DefaultTTLPolicy()
	ttl := policy.Adjust(10*time.Minute, ttlTestKey(1), Filters{}, 0)
	require.Equal(t, 10*time.Minute, ttl)
}
