package memstore

import (
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
)

// HM converts "hours, minutes" to minutes since midnight.
func HM(h, m int) int { return h*60 + m }

func IntPtr(v int) *int { return &v }

// Weekdays is Monday through Friday.
var Weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Business returns a weekday 08:00-18:00 business in tz with no break,
// no notice period and a 90 day horizon.
func Business(id, tz string) domain.Business {
	return domain.Business{
		ID:                    id,
		Name:                  "Acme Plumbing",
		Timezone:              tz,
		WorkingDays:           Weekdays,
		StartMinute:           HM(8, 0),
		EndMinute:             HM(18, 0),
		MaxAdvanceBookingDays: 90,
	}
}

func Worker(id, businessID string, skills ...string) domain.Worker {
	return domain.Worker{ID: id, BusinessID: businessID, Name: "Worker " + id, Status: domain.WorkerActive, Skills: skills}
}

// EveryWeekday returns one slot per weekday Monday-Friday.
func EveryWeekday(workerID string, startMin, endMin int) []domain.WeeklySlot {
	out := make([]domain.WeeklySlot, 0, len(Weekdays))
	for _, d := range Weekdays {
		out = append(out, domain.WeeklySlot{WorkerID: workerID, Weekday: d, StartMinute: startMin, EndMinute: endMin})
	}
	return out
}

func Job(id, businessID, workerID, title string, at time.Time, minutes int) domain.Job {
	return domain.Job{
		ID:              id,
		BusinessID:      businessID,
		WorkerID:        workerID,
		ClientID:        "client-" + id,
		Title:           title,
		ScheduledAt:     at,
		DurationMinutes: minutes,
		Status:          domain.JobScheduled,
		UpdatedAt:       at.Add(-72 * time.Hour),
	}
}
