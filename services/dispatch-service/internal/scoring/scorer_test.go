package scoring

import (
	"context"
	"errors"
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

var jobAt = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) // Wednesday

func newScorer(s *memstore.Store) *Scorer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := availability.NewResolver(s, logger)
	est := utilization.NewEstimator(s, 0, logger, nil)
	return NewScorer(s, res, est, DefaultWeights(), logger)
}

// store: job j1 (boiler, needs hvac+gas) held by orig. Candidates:
//   full  - hvac+gas, free
//   half  - hvac only, free
//   busy  - hvac+gas, 30h booked around the job
//   off   - hvac+gas, not working Wednesdays
func swapStore() *memstore.Store {
	s := memstore.New().PutBusiness(memstore.Business(biz, "UTC"))
	for id, skills := range map[string][]string{
		"orig": {"hvac", "gas"},
		"full": {"HVAC", "gas", "electrical"},
		"half": {"hvac"},
		"busy": {"hvac", "gas"},
		"off":  {"hvac", "gas"},
	} {
		s.PutWorker(memstore.Worker(id, biz, skills...))
		if id != "off" {
			s.PutWeekly(memstore.EveryWeekday(id, memstore.HM(8, 0), memstore.HM(18, 0))...)
		}
	}
	s.PutWeekly(domain.WeeklySlot{WorkerID: "off", Weekday: time.Monday, StartMinute: 480, EndMinute: 1080})

	j := memstore.Job("j1", biz, "orig", "Boiler repair", jobAt, 120)
	j.RequiredSkills = []string{"hvac", "gas"}
	s.PutJob(j)

	monday := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	// Mon, Tue and Thu: 30h that week, none overlapping Wednesday's job.
	for i, day := range []int{0, 1, 3} {
		s.PutJob(memstore.Job("busy-"+string(rune('a'+i)), biz, "busy", "Install", monday.AddDate(0, 0, day), 600))
	}
	return s
}

func score(t *testing.T, s *Scorer, candidate string) Result {
	t.Helper()
	res, err := s.Score(context.Background(), Request{BusinessID: biz, JobID: "j1", OriginalWorkerID: "orig", CandidateWorkerID: candidate})
	require.NoError(t, err)
	return res
}

func TestScore_UnavailableCandidateScoresZero(t *testing.T) {
	res := score(t, newScorer(swapStore()), "off")
	assert.Equal(t, 0, res.Score)
	assert.False(t, res.Available)
	assert.Equal(t, 1.0, res.SkillMatch, "hard gate applies regardless of skills")
}

func TestScore_ConflictingCandidateScoresZero(t *testing.T) {
	s := swapStore()
	s.PutJob(memstore.Job("x", biz, "full", "Leak", jobAt.Add(time.Hour), 60))
	res := score(t, newScorer(s), "full")
	assert.Equal(t, 0, res.Score)
	assert.Contains(t, res.Reason, "Conflicts: Leak")
}

func TestScore_Ordering(t *testing.T) {
	sc := newScorer(swapStore())
	full := score(t, sc, "full")
	half := score(t, sc, "half")
	busy := score(t, sc, "busy")

	assert.Equal(t, 100, full.Score)
	assert.Greater(t, full.Score, half.Score, "better skill coverage wins")
	assert.Greater(t, full.Score, busy.Score, "less loaded wins at equal skills")
	assert.Equal(t, 0.5, half.SkillMatch)
	assert.Equal(t, 75.0, busy.Utilization.Percent)
}

func TestScore_FallsBackToOriginalWorkerSkills(t *testing.T) {
	s := swapStore()
	j := memstore.Job("j2", biz, "orig", "Inspection", jobAt.Add(4*time.Hour), 60)
	s.PutJob(j)
	res, err := newScorer(s).Score(context.Background(), Request{BusinessID: biz, JobID: "j2", OriginalWorkerID: "orig", CandidateWorkerID: "half"})
	require.NoError(t, err)
	assert.Equal(t, []string{"hvac", "gas"}, res.RequiredSkills)
	assert.Equal(t, 0.5, res.SkillMatch)
}

func TestScore_Validation(t *testing.T) {
	sc := newScorer(swapStore())
	_, err := sc.Score(context.Background(), Request{BusinessID: biz, JobID: "j1", OriginalWorkerID: "orig", CandidateWorkerID: "orig"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = sc.Score(context.Background(), Request{BusinessID: biz, JobID: "nope", OriginalWorkerID: "orig", CandidateWorkerID: "full"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScore_UpstreamFailureBubbles(t *testing.T) {
	s := swapStore().Fail(memstore.OpWeeklySlots, errors.New("timeout"), "full")
	res, err := newScorer(s).Score(context.Background(), Request{BusinessID: biz, JobID: "j1", OriginalWorkerID: "orig", CandidateWorkerID: "full"})
	assert.ErrorIs(t, err, domain.ErrUpstreamRead)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, availability.ReasonUnknown, res.Reason)
}

func TestCombine(t *testing.T) {
	w := DefaultWeights()
	assert.Equal(t, 0, Combine(w, 1, 0, false))
	assert.Equal(t, 100, Combine(w, 1, 0, true))
	assert.Equal(t, 60, Combine(w, 1, 100, true))
	assert.Equal(t, 40, Combine(w, 0, 0, true))
	assert.Equal(t, 50, Combine(Weights{}, 0.5, 50, true))
}
