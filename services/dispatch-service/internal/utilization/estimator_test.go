package utilization

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newEstimator(s domain.JobReader) *Estimator {
	return NewEstimator(s, 0, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestBandFor(t *testing.T) {
	cases := map[float64]Band{0: BandOptimal, 60: BandOptimal, 60.1: BandGood, 80: BandGood, 95: BandBusy, 95.5: BandOverloaded, 100: BandOverloaded}
	for pct, want := range cases {
		assert.Equal(t, want, BandFor(pct), "percent %.1f", pct)
	}
}

func TestEstimate_CountsNonCancelledJobsStartingInWindow(t *testing.T) {
	s := memstore.New()
	s.PutJob(memstore.Job("a", "b", "w1", "A", weekStart.Add(9*time.Hour), 600))
	s.PutJob(memstore.Job("b", "b", "w1", "B", weekStart.Add(33*time.Hour), 600))
	// Completed work still used capacity.
	done := memstore.Job("c", "b", "w1", "C", weekStart.Add(57*time.Hour), 120)
	done.Status = domain.JobCompleted
	s.PutJob(done)
	gone := memstore.Job("d", "b", "w1", "D", weekStart.Add(81*time.Hour), 600)
	gone.Status = domain.JobCancelled
	s.PutJob(gone)
	// Overlaps the window but started before it.
	s.PutJob(memstore.Job("e", "b", "w1", "E", weekStart.Add(-2*time.Hour), 240))

	est, err := newEstimator(s).Estimate(context.Background(), "w1", weekStart, weekStart.Add(week))
	require.NoError(t, err)
	assert.Equal(t, 1320, est.BookedMinutes)
	assert.Equal(t, 55.0, est.Percent)
	assert.Equal(t, BandOptimal, est.Band)
	assert.False(t, est.Defaulted)
}

func TestEstimate_ScalesCapacityToWindowAndClamps(t *testing.T) {
	s := memstore.New()
	s.PutJob(memstore.Job("a", "b", "w1", "A", weekStart.Add(8*time.Hour), 480))

	// One day of a 40h week is 342.857 minutes of capacity; 480 booked clamps to 100.
	est, err := newEstimator(s).Estimate(context.Background(), "w1", weekStart, weekStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100.0, est.Percent)
	assert.Equal(t, BandOverloaded, est.Band)
	assert.InDelta(t, 342.857, est.CapacityMinutes, 0.001)
}

func TestEstimate_ReadFailureDefaultsToMidpoint(t *testing.T) {
	s := memstore.New().Fail(memstore.OpListJobs, nil)
	est, err := newEstimator(s).Estimate(context.Background(), "w1", weekStart, weekStart.Add(week))
	require.NoError(t, err)
	assert.Equal(t, 50.0, est.Percent)
	assert.True(t, est.Defaulted)
}

func TestEstimate_InvalidWindow(t *testing.T) {
	_, err := newEstimator(memstore.New()).Estimate(context.Background(), "w1", weekStart, weekStart)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEstimate_CustomCapacity(t *testing.T) {
	s := memstore.New()
	s.PutJob(memstore.Job("a", "b", "w1", "A", weekStart.Add(9*time.Hour), 600))
	e := NewEstimator(s, 20*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	est, err := e.Estimate(context.Background(), "w1", weekStart, weekStart.Add(week))
	require.NoError(t, err)
	assert.Equal(t, 50.0, est.Percent)
}
