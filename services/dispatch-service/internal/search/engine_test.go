package search

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/memstore"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const biz = "b-1"

// Monday 2026-03-02 06:00 UTC.
var now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, 2+day, hour, minute, 0, 0, time.UTC)
}

func newEngine(s *memstore.Store, cfg Config) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := availability.NewResolver(s, logger)
	est := utilization.NewEstimator(s, 0, logger, nil)
	return NewEngine(s, res, est, cfg, logger, WithClock(func() time.Time { return now }))
}

func baseStore(workers ...string) *memstore.Store {
	s := memstore.New().PutBusiness(memstore.Business(biz, "UTC"))
	for _, id := range workers {
		s.PutWorker(memstore.Worker(id, biz))
		s.PutWeekly(memstore.EveryWeekday(id, memstore.HM(8, 0), memstore.HM(18, 0))...)
	}
	return s
}

func query(s *memstore.Store, job domain.Job, days int, workers ...string) Query {
	b, _ := s.GetBusiness(context.Background(), biz)
	return Query{Job: job, Business: b, SearchDays: days, CandidateWorkerIDs: workers}
}

func TestSearch_NoRecurringAvailability(t *testing.T) {
	s := memstore.New().PutBusiness(memstore.Business(biz, "UTC"))
	s.PutWorker(memstore.Worker("w1", biz)).PutWorker(memstore.Worker("w2", biz))
	job := memstore.Job("j1", biz, "w1", "Leak", at(3, 10, 0), 60)
	s.PutJob(job)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 5, "w1", "w2"))
	require.NoError(t, err)
	assert.Empty(t, res.Slots)
	assert.Nil(t, res.Nearest)
	assert.Equal(t, ReasonNoRecurring, res.ReasonCode)
	assert.NotEmpty(t, res.NoAvailabilityReason)
}

func TestSearch_OnlyFreeSlotOnThirdDay(t *testing.T) {
	s := baseStore("w1")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(4, 10, 0), 120)
	s.PutJob(job)
	s.PutJob(memstore.Job("mon", biz, "w1", "Install", at(0, 8, 0), 600))
	s.PutJob(memstore.Job("tue", biz, "w1", "Install", at(1, 8, 0), 600))
	s.PutJob(memstore.Job("wed-am", biz, "w1", "Survey", at(2, 8, 0), 360))
	s.PutJob(memstore.Job("wed-pm", biz, "w1", "Survey", at(2, 16, 0), 120))

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 3, "w1"))
	require.NoError(t, err)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, at(2, 14, 0), res.Slots[0].Start)
	assert.Equal(t, at(2, 16, 0), res.Slots[0].End)
	require.NotNil(t, res.Nearest)
	assert.Equal(t, res.Slots[0].Start, res.Nearest.Start)
	assert.Equal(t, res.Slots[0].WorkerID, res.Nearest.WorkerID)
	assert.True(t, res.Slots[0].IsSuggested)
	assert.Empty(t, res.ReasonCode)
	assert.Equal(t, 1, res.Feasible)
}

func TestSearch_RankingAndNearest(t *testing.T) {
	s := baseStore("w1", "w2")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(3, 12, 0), 60)
	s.PutJob(job)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 5, "w1", "w2"))
	require.NoError(t, err)
	require.Len(t, res.Slots, 8)
	assert.Greater(t, res.Feasible, 8)

	// w1 may not keep its own slot. The moved job is not w1's load, so
	// equal distances fall back to worker id.
	assert.Equal(t, "w2", res.Slots[0].WorkerID)
	assert.Equal(t, at(3, 12, 0), res.Slots[0].Start)
	assert.Equal(t, "w1", res.Slots[1].WorkerID)
	assert.Equal(t, at(3, 11, 45), res.Slots[1].Start)
	assert.Equal(t, "w1", res.Slots[2].WorkerID)
	assert.Equal(t, at(3, 12, 15), res.Slots[2].Start)
	assert.Equal(t, "w2", res.Slots[3].WorkerID)
	assert.Equal(t, at(3, 11, 45), res.Slots[3].Start)
	assert.Zero(t, res.Slots[1].Utilization)

	for i, slot := range res.Slots {
		assert.Equal(t, i < 3, slot.IsSuggested, "slot %d", i)
		assert.False(t, slot.WorkerID == "w1" && slot.Start.Equal(job.ScheduledAt), "current slot proposed")
	}

	require.NotNil(t, res.Nearest)
	assert.Equal(t, at(0, 8, 0), res.Nearest.Start)
	assert.Equal(t, "w1", res.Nearest.WorkerID)
	assert.False(t, res.Nearest.IsSuggested)
	for _, slot := range res.Slots {
		assert.False(t, slot.Start.Before(res.Nearest.Start))
	}
	assert.GreaterOrEqual(t, res.Slots[0].Score, res.Slots[7].Score)
}

func TestSearch_MovedJobDoesNotLoadItsOwnWorker(t *testing.T) {
	s := baseStore("w1", "w2")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(3, 12, 0), 60)
	s.PutJob(job)
	s.PutJob(memstore.Job("w2-short", biz, "w2", "Survey", at(4, 16, 0), 30))

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 5, "w1", "w2"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Slots), 4)

	assert.Equal(t, "w2", res.Slots[0].WorkerID)
	assert.Equal(t, at(3, 12, 0), res.Slots[0].Start)
	for _, slot := range res.Slots[1:3] {
		assert.Equal(t, "w1", slot.WorkerID)
		assert.Zero(t, slot.Utilization)
	}
	assert.Equal(t, "w2", res.Slots[3].WorkerID)
	assert.Greater(t, res.Slots[3].Utilization, 0.0)
}

func TestSearch_PreferredTimeMovesWindowAndAnchor(t *testing.T) {
	s := baseStore("w1")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 60)
	s.PutJob(job)
	preferred := at(2, 15, 0)

	q := query(s, job, 2, "w1")
	q.PreferredAt = &preferred
	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	assert.Equal(t, preferred, res.Window.Start)
	assert.Equal(t, preferred, res.Slots[0].Start)
	assert.Equal(t, preferred, res.Nearest.Start)
}

func TestSearch_EarlyExitMatchesExhaustive(t *testing.T) {
	s := baseStore("w1", "w2", "w3")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 90)
	s.PutJob(job)
	s.PutJob(memstore.Job("x", biz, "w2", "Install", at(0, 8, 0), 300))
	q := query(s, job, 30, "w1", "w2", "w3")

	waves := DefaultConfig()
	waves.WaveDays = 1
	exhaustive := DefaultConfig()
	exhaustive.WaveDays = 60

	a, err := newEngine(s, waves).Search(context.Background(), q)
	require.NoError(t, err)
	b, err := newEngine(s, exhaustive).Search(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, a.Slots, len(b.Slots))
	for i := range a.Slots {
		assert.Equal(t, b.Slots[i].WorkerID, a.Slots[i].WorkerID)
		assert.Equal(t, b.Slots[i].Start, a.Slots[i].Start)
	}
	assert.Equal(t, b.Nearest.Start, a.Nearest.Start)
	assert.Less(t, a.Feasible, b.Feasible, "waves stop once later days cannot improve the list")
}

func TestSearch_RespectsBreakAndNotice(t *testing.T) {
	s := memstore.New()
	b := memstore.Business(biz, "UTC")
	b.BreakStartMinute = memstore.IntPtr(memstore.HM(12, 0))
	b.BreakEndMinute = memstore.IntPtr(memstore.HM(13, 0))
	b.MinimumNoticeHours = 4
	s.PutBusiness(b).PutWorker(memstore.Worker("w1", biz))
	s.PutWeekly(memstore.EveryWeekday("w1", memstore.HM(8, 0), memstore.HM(18, 0))...)
	job := memstore.Job("j1", biz, "w1", "Boiler", at(4, 9, 0), 60)
	s.PutJob(job)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 1, "w1"))
	require.NoError(t, err)
	require.NotEmpty(t, res.Slots)
	lunch := availability.Interval{Start: at(0, 12, 0), End: at(0, 13, 0)}
	for _, slot := range res.Slots {
		assert.False(t, slot.Start.Before(at(0, 10, 0)), "minimum notice")
		assert.False(t, lunch.Overlaps(availability.Interval{Start: slot.Start, End: slot.End}), "break at %s", slot.Start)
	}
	assert.Equal(t, at(0, 10, 0), res.Nearest.Start)
}

func TestSearch_LocalBusinessHours(t *testing.T) {
	s := memstore.New().PutBusiness(memstore.Business(biz, "America/Chicago"))
	s.PutWorker(memstore.Worker("w1", biz))
	s.PutWeekly(memstore.EveryWeekday("w1", memstore.HM(8, 0), memstore.HM(18, 0))...)
	job := memstore.Job("j1", biz, "w1", "Boiler", at(4, 15, 0), 60)
	s.PutJob(job)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 1, "w1"))
	require.NoError(t, err)
	require.NotNil(t, res.Nearest)
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	local := res.Nearest.Start.In(chicago)
	assert.Equal(t, 8, local.Hour())
	assert.Equal(t, time.Monday, local.Weekday())
}

func TestSearch_WindowTooShort(t *testing.T) {
	s := memstore.New()
	b := memstore.Business(biz, "UTC")
	b.MinimumNoticeHours = 23
	b.MaxAdvanceBookingDays = 1
	s.PutBusiness(b).PutWorker(memstore.Worker("w1", biz))
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 120)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 3, "w1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonWindowTooShort, res.ReasonCode)
	assert.Equal(t, time.Hour, res.Window.Duration())
	assert.Zero(t, s.Calls(memstore.OpGetWorker))
}

func TestSearch_EmptyResultReasons(t *testing.T) {
	tests := []struct {
		name  string
		store func() *memstore.Store
		want  ReasonCode
	}{
		{
			name: "inactive candidates",
			store: func() *memstore.Store {
				return baseStore("w1").PutWorker(domain.Worker{ID: "w1", BusinessID: biz, Status: domain.WorkerInactive})
			},
			want: ReasonNoActiveCandidates,
		},
		{
			name: "business closed all window",
			store: func() *memstore.Store {
				b := memstore.Business(biz, "UTC")
				b.WorkingDays = []time.Weekday{time.Sunday}
				return baseStore("w1").PutBusiness(b)
			},
			want: ReasonBusinessClosed,
		},
		{
			name: "worker hours never cover the job",
			store: func() *memstore.Store {
				return memstore.New().
					PutBusiness(memstore.Business(biz, "UTC")).
					PutWorker(memstore.Worker("w1", biz)).
					PutWeekly(memstore.EveryWeekday("w1", memstore.HM(6, 0), memstore.HM(8, 30))...)
			},
			want: ReasonOutsideHours,
		},
		{
			name: "fully booked",
			store: func() *memstore.Store {
				return baseStore("w1").PutJob(memstore.Job("mon", biz, "w1", "Install", at(0, 8, 0), 600))
			},
			want: ReasonFullyBooked,
		},
		{
			name: "store failure",
			store: func() *memstore.Store {
				return baseStore("w1").Fail(memstore.OpWeeklySlots, nil, "w1")
			},
			want: ReasonUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.store()
			job := memstore.Job("j1", biz, "w1", "Boiler", at(4, 9, 0), 60)
			s.PutJob(job)

			res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 1, "w1"))
			require.NoError(t, err)
			assert.Empty(t, res.Slots)
			assert.Nil(t, res.Nearest)
			assert.Equal(t, tt.want, res.ReasonCode)
			assert.Equal(t, tt.want.Message(), res.NoAvailabilityReason)
		})
	}
}

func TestSearch_FailedCandidateIsSkipped(t *testing.T) {
	s := baseStore("w1", "w2")
	s.Fail(memstore.OpListJobs, nil, "w1")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 60)
	s.PutJob(job)

	res, err := newEngine(s, DefaultConfig()).Search(context.Background(), query(s, job, 1, "w1", "w2"))
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	require.NotEmpty(t, res.Slots)
	for _, slot := range res.Slots {
		assert.Equal(t, "w2", slot.WorkerID)
	}
}

func TestSearch_DeadlineTruncates(t *testing.T) {
	s := baseStore("w1")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 60)
	s.PutJob(job)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res, err := newEngine(s, DefaultConfig()).Search(ctx, query(s, job, 3, "w1"))
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, ReasonTruncated, res.ReasonCode)
}

func TestSearch_Errors(t *testing.T) {
	s := baseStore("w1")
	job := memstore.Job("j1", biz, "w1", "Boiler", at(0, 9, 0), 60)
	s.PutJob(job)
	e := newEngine(s, DefaultConfig())

	_, err := e.Search(context.Background(), query(s, job, 3, "ghost"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.Search(context.Background(), query(s, job, 0, "w1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Search(context.Background(), query(s, job, 61, "w1"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.Search(context.Background(), query(s, job, 3))
	assert.ErrorIs(t, err, domain.ErrValidation)

	zero := job
	zero.DurationMinutes = 0
	_, err = e.Search(context.Background(), query(s, zero, 3, "w1"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWindow(t *testing.T) {
	b := memstore.Business(biz, "UTC")
	b.MinimumNoticeHours = 2
	b.MaxAdvanceBookingDays = 3
	q := Query{Business: b, SearchDays: 7}

	w := Window(q, now)
	assert.Equal(t, now.Add(2*time.Hour), w.Start)
	assert.Equal(t, now.AddDate(0, 0, 3), w.End)

	preferred := now.Add(-48 * time.Hour)
	q.PreferredAt = &preferred
	assert.Equal(t, now.Add(2*time.Hour), Window(q, now).Start, "a past preference starts from now")
}
