package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStatus_InsufficientSampleIsHealthy(t *testing.T) {
	th := DefaultThresholds()
	status := ComputeStatus(0.0, 10, 2, th)
	assert.Equal(t, StatusHealthy, status)
}

func TestComputeStatus_DoubleThresholdConsecutiveFailuresIsBroken(t *testing.T) {
	th := DefaultThresholds()
	status := ComputeStatus(0.9, 6, 10, th)
	assert.Equal(t, StatusBroken, status)
}

func TestComputeStatus_ThresholdConsecutiveFailuresIsFailing(t *testing.T) {
	th := DefaultThresholds()
	status := ComputeStatus(0.9, 3, 10, th)
	assert.Equal(t, StatusFailing, status)
}

func TestComputeStatus_RateBands(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, StatusHealthy, ComputeStatus(0.75, 0, 10, th))
	assert.Equal(t, StatusDegraded, ComputeStatus(0.55, 0, 10, th))
	assert.Equal(t, StatusFailing, ComputeStatus(0.3, 0, 10, th))
	assert.Equal(t, StatusBroken, ComputeStatus(0.1, 0, 10, th))
}

func TestTracker_RecordSuccessResetsConsecutiveFailures(t *testing.T) {
	tr := New(DefaultThresholds(), nil)
	for i := 0; i < 5; i++ {
		tr.RecordFailure("example.com", "/api")
	}
	tr.RecordSuccess("example.com", "/api")

	p, ok := tr.Get("example.com", "/api")
	require.True(t, ok)
	assert.Equal(t, 0, p.ConsecutiveFailures)
}

func TestTracker_TransitionEmitsNotification(t *testing.T) {
	tr := New(DefaultThresholds(), nil)
	for i := 0; i < 5; i++ {
		tr.RecordSuccess("example.com", "/api")
	}
	for i := 0; i < 3; i++ {
		tr.RecordFailure("example.com", "/api")
	}

	notes := tr.RecentNotifications()
	require.NotEmpty(t, notes)
	last := notes[len(notes)-1]
	assert.Equal(t, StatusHealthy, last.Previous)
	assert.Equal(t, StatusFailing, last.Current)
}

func TestTracker_GetUnhealthyPatternsSortedBySeverity(t *testing.T) {
	tr := New(DefaultThresholds(), nil)
	for i := 0; i < 10; i++ {
		tr.RecordFailure("broken.com", "/a")
	}
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			tr.RecordSuccess("degraded.com", "/b")
		} else {
			tr.RecordFailure("degraded.com", "/b")
		}
	}

	unhealthy := tr.GetUnhealthyPatterns()
	require.Len(t, unhealthy, 2)
	assert.Equal(t, StatusBroken, unhealthy[0].Status)
}

func TestTracker_StatisticsCountsPerStatus(t *testing.T) {
	tr := New(DefaultThresholds(), nil)
	tr.RecordSuccess("a.com", "/x")
	stats := tr.Statistics()
	assert.Equal(t, 1, stats[StatusHealthy])
}
