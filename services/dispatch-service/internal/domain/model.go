package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of business-local calendar dates.
const DateLayout = "2006-01-02"

type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerInactive WorkerStatus = "inactive"
)

type Worker struct {
	ID         string
	BusinessID string
	Name       string
	Status     WorkerStatus
	Skills     []string
}

func (w Worker) Active() bool { return w.Status == WorkerActive }

// HasSkills reports whether w holds every required skill (case-insensitive).
func (w Worker) HasSkills(required []string) bool {
	return SkillOverlap(required, w.Skills) == len(NormalizeSkills(required))
}

// WeeklySlot is one recurring bookable range, in minutes since local midnight.
// Several slots on one weekday are independent windows, never merged.
type WeeklySlot struct {
	WorkerID    string
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
}

func (s WeeklySlot) Valid() bool {
	return s.StartMinute >= 0 && s.EndMinute <= 24*60 && s.StartMinute < s.EndMinute
}

// AvailabilityException replaces the weekly pattern for one local date.
type AvailabilityException struct {
	WorkerID    string
	Date        string
	IsAvailable bool
	StartMinute *int
	EndMinute   *int
	Reason      string
}

type JobStatus string

const (
	JobScheduled   JobStatus = "scheduled"
	JobInProgress  JobStatus = "in_progress"
	JobCompleted   JobStatus = "completed"
	JobCancelled   JobStatus = "cancelled"
	JobRescheduled JobStatus = "rescheduled"
)

// Blocking jobs occupy the worker's calendar.
func (s JobStatus) Blocking() bool {
	return s != JobCancelled && s != JobCompleted
}

// Movable jobs may be offered new slots.
func (s JobStatus) Movable() bool {
	return s == JobScheduled || s == JobRescheduled
}

type Job struct {
	ID              string
	BusinessID      string
	WorkerID        string
	ClientID        string
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int
	Status          JobStatus
	RequiredSkills  []string
	UpdatedAt       time.Time
}

func (j Job) Duration() time.Duration { return time.Duration(j.DurationMinutes) * time.Minute }

func (j Job) End() time.Time { return j.ScheduledAt.Add(j.Duration()) }

type Business struct {
	ID                    string
	Name                  string
	Timezone              string
	WorkingDays           []time.Weekday
	StartMinute           int
	EndMinute             int
	BreakStartMinute      *int
	BreakEndMinute        *int
	MinimumNoticeHours    int
	MaxAdvanceBookingDays int
}

func (b Business) Location() (*time.Location, error) {
	tz := strings.TrimSpace(b.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("business %s timezone %q: %w", b.ID, b.Timezone, err)
	}
	return loc, nil
}

func (b Business) WorksOn(d time.Weekday) bool {
	for _, wd := range b.WorkingDays {
		if wd == d {
			return true
		}
	}
	return false
}

// BreakMinutes returns the daily break, if one is configured and sane.
func (b Business) BreakMinutes() (start, end int, ok bool) {
	if b.BreakStartMinute == nil || b.BreakEndMinute == nil {
		return 0, 0, false
	}
	if *b.BreakStartMinute >= *b.BreakEndMinute {
		return 0, 0, false
	}
	return *b.BreakStartMinute, *b.BreakEndMinute, true
}

type SwapStatus string

const (
	SwapPending  SwapStatus = "pending"
	SwapApproved SwapStatus = "approved"
	SwapRejected SwapStatus = "rejected"
)

// SwapRequest records a decision to move a job to another worker.
type SwapRequest struct {
	ID                 string
	BusinessID         string
	JobID              string
	OriginalWorkerID   string
	RequestedWorkerID  string
	CompatibilityScore int
	Status             SwapStatus
	CreatedAt          time.Time
}

// NormalizeSkills lowercases, trims and dedupes.
func NormalizeSkills(skills []string) []string {
	seen := make(map[string]struct{}, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SkillOverlap counts the distinct required skills present in have.
func SkillOverlap(required, have []string) int {
	set := make(map[string]struct{}, len(have))
	for _, s := range NormalizeSkills(have) {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range NormalizeSkills(required) {
		if _, ok := set[s]; ok {
			n++
		}
	}
	return n
}
