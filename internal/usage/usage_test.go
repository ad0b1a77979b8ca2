package usage

import (
	"testing"
	"time"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeter(t *testing.T) *Meter {
	t.Helper()
	kv, err := kvstore.NewFileStore(t.TempDir(), time.Second)
	require.NoError(t, err)
	m, err := New(kv, 50000)
	require.NoError(t, err)
	return m
}

func TestCostUnits_FinalTierFullCostOthersHalf(t *testing.T) {
	got := CostUnits(fetchcascade.TierLightweight, []fetchcascade.Tier{fetchcascade.TierIntelligence, fetchcascade.TierLightweight})
	// intelligence: ceil(1/2)=1, lightweight (final): 5 -> 6
	assert.Equal(t, 6, got)
}

func TestCostUnits_SingleTier(t *testing.T) {
	got := CostUnits(fetchcascade.TierIntelligence, []fetchcascade.Tier{fetchcascade.TierIntelligence})
	assert.Equal(t, 1, got)
}

func TestMeter_RecordAssignsCostAndID(t *testing.T) {
	m := newTestMeter(t)
	event := m.Record(RecordInput{
		Domain:         "example.com",
		URL:            "https://example.com/a",
		FinalTier:      fetchcascade.TierPlaywright,
		Success:        true,
		DurationMs:     500,
		TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence, fetchcascade.TierLightweight, fetchcascade.TierPlaywright},
		FellBack:       true,
	})
	assert.NotEmpty(t, event.ID)
	assert.NotEmpty(t, event.CorrelationID)
	// 1(ceil .5) + 3(ceil 5/2) + 25 = 29
	assert.Equal(t, 29, event.CostUnits)
}

func TestMeter_RecordTrimsRingToMaxEvents(t *testing.T) {
	kv, err := kvstore.NewFileStore(t.TempDir(), time.Second)
	require.NoError(t, err)
	m, err := New(kv, 3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m.Record(RecordInput{Domain: "example.com", FinalTier: fetchcascade.TierIntelligence, Success: true, TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence}})
	}
	m.mu.Lock()
	count := len(m.events)
	m.mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestMeter_SummarizeFiltersByDomain(t *testing.T) {
	m := newTestMeter(t)
	m.Record(RecordInput{Domain: "a.com", FinalTier: fetchcascade.TierIntelligence, Success: true, TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence}})
	m.Record(RecordInput{Domain: "b.com", FinalTier: fetchcascade.TierIntelligence, Success: false, TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence}})

	summary := m.Summarize(Filter{Domain: "a.com", Period: PeriodAll}, 10)
	assert.Equal(t, 1, summary.TotalRequests)
	assert.Equal(t, 1.0, summary.SuccessRate)
}

func TestMeter_SummarizeComputesTrend(t *testing.T) {
	m := newTestMeter(t)
	// All events land in "current" for PeriodAll (no previous bucket), so
	// trend should be nil since previous count is zero.
	m.Record(RecordInput{Domain: "a.com", FinalTier: fetchcascade.TierIntelligence, Success: true, TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence}})
	summary := m.Summarize(Filter{Period: PeriodAll}, 10)
	assert.Nil(t, summary.CostTrend)
}

func TestPeriodBounds_DayIsUTCMidnightAligned(t *testing.T) {
	now := time.Date(2026, 7, 31, 15, 30, 0, 0, time.UTC)
	start, end := PeriodBounds(PeriodDay, now)
	assert.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_WeekStartsSunday(t *testing.T) {
	// 2026-07-31 is a Friday.
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	start, _ := PeriodBounds(PeriodWeek, now)
	assert.Equal(t, time.Sunday, start.Weekday())
}

func TestMeter_GetUsageByPeriodReturnsNBuckets(t *testing.T) {
	m := newTestMeter(t)
	m.Record(RecordInput{Domain: "a.com", FinalTier: fetchcascade.TierIntelligence, Success: true, TiersAttempted: []fetchcascade.Tier{fetchcascade.TierIntelligence}})
	buckets := m.GetUsageByPeriod(PeriodDay, 3)
	require.Len(t, buckets, 3)
	assert.Equal(t, 1, buckets[len(buckets)-1].Count)
}
