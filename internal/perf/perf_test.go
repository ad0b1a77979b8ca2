package perf

import (
	"testing"

	"github.com/fetchcascade/fetchcascade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RecordAndDomainPerformance(t *testing.T) {
	tr := New(128)
	for i := 1; i <= 10; i++ {
		tr.Record("example.com", fetchcascade.TierIntelligence, true, int64(i*10))
	}

	perTier, overall := tr.GetDomainPerformance("example.com")
	require.Len(t, perTier, 1)
	assert.Equal(t, fetchcascade.TierIntelligence, perTier[0].Tier)
	assert.EqualValues(t, 10, perTier[0].Stats.Count)
	assert.EqualValues(t, 10, perTier[0].Stats.Min)
	assert.EqualValues(t, 100, perTier[0].Stats.Max)
	assert.EqualValues(t, 10, overall.Count)
}

func TestTracker_UnknownDomainIsEmpty(t *testing.T) {
	tr := New(128)
	perTier, overall := tr.GetDomainPerformance("unknown.com")
	assert.Empty(t, perTier)
	assert.Zero(t, overall.Count)
}

func TestTracker_SystemPerformanceRanksDomains(t *testing.T) {
	tr := New(128)
	tr.Record("fast.com", fetchcascade.TierIntelligence, true, 10)
	tr.Record("slow.com", fetchcascade.TierIntelligence, true, 1000)

	_, fastest, slowest := tr.GetSystemPerformance(1)
	require.Len(t, fastest, 1)
	require.Len(t, slowest, 1)
	assert.Equal(t, "fast.com", fastest[0].Domain)
	assert.Equal(t, "slow.com", slowest[0].Domain)
}

func TestTracker_ComponentBreakdownAveragesAcrossFetches(t *testing.T) {
	tr := New(128)
	tr.RecordBreakdown("example.com", fetchcascade.ComponentBreakdown{NetworkMs: 100, ParsingMs: 20, JSExecutionMs: 0, ExtractionMs: 10})
	tr.RecordBreakdown("example.com", fetchcascade.ComponentBreakdown{NetworkMs: 200, ParsingMs: 40, JSExecutionMs: 50, ExtractionMs: 30})

	got := tr.GetComponentBreakdown("example.com")
	assert.EqualValues(t, 150, got.NetworkMs)
	assert.EqualValues(t, 30, got.ParsingMs)
	assert.EqualValues(t, 25, got.JSExecutionMs)
	assert.EqualValues(t, 20, got.ExtractionMs)
}

func TestTracker_ComponentBreakdownUnknownDomainIsZero(t *testing.T) {
	tr := New(128)
	assert.Zero(t, tr.GetComponentBreakdown("unknown.com"))
}

func TestTracker_ReservoirCapsMemoryNotCount(t *testing.T) {
	tr := New(4)
	for i := 0; i < 1000; i++ {
		tr.Record("example.com", fetchcascade.TierIntelligence, true, int64(i))
	}
	perTier, _ := tr.GetDomainPerformance("example.com")
	require.Len(t, perTier, 1)
	assert.EqualValues(t, 1000, perTier[0].Stats.Count)
}
