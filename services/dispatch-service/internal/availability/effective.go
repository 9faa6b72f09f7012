package availability

import (
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
)

// Kind tags which rule decided a worker's hours for one date.
type Kind int

const (
	KindWeekly Kind = iota
	KindExceptionClosed
	KindExceptionAllDay
	KindExceptionHours
)

func (k Kind) String() string {
	switch k {
	case KindExceptionClosed:
		return "exception_closed"
	case KindExceptionAllDay:
		return "exception_all_day"
	case KindExceptionHours:
		return "exception_hours"
	default:
		return "weekly"
	}
}

// Effective is the resolved availability of one worker on one local date.
// Windows are disjoint candidates for containment; they are never merged.
type Effective struct {
	Date    string
	Kind    Kind
	Windows []Interval
	// Note is the exception's reason, if an exception decided the day.
	Note string
}

// Contains reports whether iv fits inside a single window.
func (e Effective) Contains(iv Interval) bool {
	for _, w := range e.Windows {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}

// Open reports whether any window exists at all.
func (e Effective) Open() bool { return len(e.Windows) > 0 }

// Resolve applies the override rule for day (local midnight): an exception
// dated day replaces the weekly pattern entirely, otherwise the weekly slots
// for day's weekday apply.
func Resolve(day time.Time, weekly []domain.WeeklySlot, exc *domain.AvailabilityException) Effective {
	eff := Effective{Date: day.Format(domain.DateLayout)}
	if exc != nil {
		eff.Note = exc.Reason
		switch {
		case !exc.IsAvailable:
			eff.Kind = KindExceptionClosed
		case exc.StartMinute == nil && exc.EndMinute == nil:
			eff.Kind = KindExceptionAllDay
			eff.Windows = []Interval{{Start: day, End: AtMinute(day, 24*60)}}
		default:
			eff.Kind = KindExceptionHours
			start, end := 0, 24*60
			if exc.StartMinute != nil {
				start = *exc.StartMinute
			}
			if exc.EndMinute != nil {
				end = *exc.EndMinute
			}
			if start < end {
				eff.Windows = []Interval{WindowOn(day, start, end)}
			}
		}
		return eff
	}

	eff.Kind = KindWeekly
	wd := day.Weekday()
	for _, s := range weekly {
		if s.Weekday != wd || !s.Valid() {
			continue
		}
		eff.Windows = append(eff.Windows, WindowOn(day, s.StartMinute, s.EndMinute))
	}
	return eff
}
