package availability

import (
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
)

const (
	ReasonAvailable    = "Available"
	ReasonOutsideHours = "Outside available hours"
	ReasonInactive     = "Worker is not active"
	ReasonUnknown      = "Availability could not be determined"
	reasonConflictsFmt = "Conflicts: "
)

type JobRef struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Verdict is the answer for one (worker, interval). Determined=false means a
// store could not be read and Available is false only because it must be.
type Verdict struct {
	Available  bool
	Determined bool
	Reason     string
	Basis      Kind
	Conflicts  []JobRef
}

func unknownVerdict() Verdict {
	return Verdict{Reason: ReasonUnknown}
}

// Snapshot holds everything verdicts for one worker depend on over Range.
// It is immutable once loaded and safe for concurrent Check calls. Jobs holds
// every status, ordered by start.
type Snapshot struct {
	Worker     domain.Worker
	Business   domain.Business
	Location   *time.Location
	Range      Interval
	Weekly     []domain.WeeklySlot
	Exceptions map[string]domain.AvailabilityException
	Jobs       []domain.Job
}

func newSnapshot(worker domain.Worker, business domain.Business, loc *time.Location, rng Interval,
	weekly []domain.WeeklySlot, exceptions []domain.AvailabilityException, jobs []domain.Job) *Snapshot {
	s := &Snapshot{
		Worker:     worker,
		Business:   business,
		Location:   loc,
		Range:      rng,
		Weekly:     weekly,
		Exceptions: make(map[string]domain.AvailabilityException, len(exceptions)),
	}
	for _, e := range exceptions {
		s.Exceptions[e.Date] = e
	}
	s.Jobs = append(s.Jobs, jobs...)
	sort.Slice(s.Jobs, func(a, b int) bool { return s.Jobs[a].ScheduledAt.Before(s.Jobs[b].ScheduledAt) })
	return s
}

// Day resolves the worker's effective availability for day, which must be
// a local midnight in s.Location.
func (s *Snapshot) Day(day time.Time) Effective {
	var exc *domain.AvailabilityException
	if e, ok := s.Exceptions[day.Format(domain.DateLayout)]; ok {
		exc = &e
	}
	return Resolve(day, s.Weekly, exc)
}

// HasRecurring reports whether any usable weekly slot exists.
func (s *Snapshot) HasRecurring() bool {
	for _, w := range s.Weekly {
		if w.Valid() {
			return true
		}
	}
	return false
}

// HasOpenException reports whether an available exception falls in the range.
func (s *Snapshot) HasOpenException() bool {
	for _, e := range s.Exceptions {
		if e.IsAvailable {
			return true
		}
	}
	return false
}

// Conflicts lists blocking jobs overlapping iv, skipping excludeJobID.
func (s *Snapshot) Conflicts(iv Interval, excludeJobID string) []JobRef {
	var out []JobRef
	for _, j := range s.Jobs {
		if !j.ScheduledAt.Before(iv.End) {
			break
		}
		if j.ID == excludeJobID || !j.Status.Blocking() {
			continue
		}
		if Overlaps(iv.Start, iv.End, j.ScheduledAt, j.End()) {
			out = append(out, JobRef{ID: j.ID, Title: j.Title, Start: j.ScheduledAt, End: j.End()})
		}
	}
	return out
}

// Check decides availability of iv, which must lie within s.Range.
func (s *Snapshot) Check(iv Interval, excludeJobID string) Verdict {
	if !s.Worker.Active() {
		return Verdict{Determined: true, Reason: ReasonInactive}
	}
	eff := s.Day(LocalDay(iv.Start, s.Location))
	within := eff.Contains(iv)
	conflicts := s.Conflicts(iv, excludeJobID)

	v := Verdict{
		Available:  within && len(conflicts) == 0,
		Determined: true,
		Basis:      eff.Kind,
		Conflicts:  conflicts,
	}
	switch {
	case !within:
		v.Reason = ReasonOutsideHours
	case len(conflicts) > 0:
		v.Reason = conflictReason(conflicts)
	default:
		v.Reason = ReasonAvailable
	}
	return v
}

func conflictReason(conflicts []JobRef) string {
	titles := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		t := strings.TrimSpace(c.Title)
		if t == "" {
			t = c.ID
		}
		titles = append(titles, t)
	}
	return reasonConflictsFmt + strings.Join(titles, ", ")
}
