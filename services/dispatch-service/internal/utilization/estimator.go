package utilization

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
)

type Band string

const (
	BandOptimal    Band = "optimal"
	BandGood       Band = "good"
	BandBusy       Band = "busy"
	BandOverloaded Band = "overloaded"
)

// BandFor is for display only; nothing gates on it.
func BandFor(percent float64) Band {
	switch {
	case percent <= 60:
		return BandOptimal
	case percent <= 80:
		return BandGood
	case percent <= 95:
		return BandBusy
	default:
		return BandOverloaded
	}
}

const (
	DefaultWeeklyCapacity = 40 * time.Hour
	// fallbackPercent is reported when jobs cannot be read: it neither
	// favours nor penalises the worker in scoring.
	fallbackPercent = 50
	week            = 7 * 24 * time.Hour
)

type Estimate struct {
	Percent         float64 `json:"percent"`
	Band            Band    `json:"band"`
	BookedMinutes   int     `json:"booked_minutes"`
	CapacityMinutes float64 `json:"capacity_minutes"`
	Defaulted       bool    `json:"defaulted"`
}

type Estimator struct {
	jobs           domain.JobReader
	weeklyCapacity time.Duration
	logger         *slog.Logger
	metrics        *telemetry.Metrics
}

func NewEstimator(jobs domain.JobReader, weeklyCapacity time.Duration, logger *slog.Logger, m *telemetry.Metrics) *Estimator {
	if weeklyCapacity <= 0 {
		weeklyCapacity = DefaultWeeklyCapacity
	}
	return &Estimator{jobs: jobs, weeklyCapacity: weeklyCapacity, logger: logger, metrics: m}
}

// Estimate returns the share of capacity booked in [from, to). Only an
// invalid window is an error; a failed read yields the midpoint with
// Defaulted set.
func (e *Estimator) Estimate(ctx context.Context, workerID string, from, to time.Time) (Estimate, error) {
	if workerID == "" {
		return Estimate{}, domain.Invalid("worker_id", "is required")
	}
	if !from.Before(to) {
		return Estimate{}, domain.Invalid("to", "must be after from")
	}
	jobs, err := e.jobs.ListWorkerJobs(ctx, workerID, from, to)
	if err != nil {
		e.logger.Warn("utilization defaulted", "worker_id", workerID, "err", err)
		e.metrics.ObserveUtilizationDefaulted()
		return Estimate{
			Percent:         fallbackPercent,
			Band:            BandFor(fallbackPercent),
			CapacityMinutes: e.capacityMinutes(from, to),
			Defaulted:       true,
		}, nil
	}
	return e.FromJobs(jobs, from, to), nil
}

// FromJobs computes the estimate from already loaded jobs. Jobs count when
// they are not cancelled and start inside the window.
func (e *Estimator) FromJobs(jobs []domain.Job, from, to time.Time) Estimate {
	booked := 0
	for _, j := range jobs {
		if j.Status == domain.JobCancelled {
			continue
		}
		if j.ScheduledAt.Before(from) || !j.ScheduledAt.Before(to) {
			continue
		}
		booked += j.DurationMinutes
	}
	capacity := e.capacityMinutes(from, to)
	pct := 0.0
	if capacity > 0 {
		pct = float64(booked) / capacity * 100
	}
	pct = math.Min(100, math.Max(0, math.Round(pct*10)/10))
	return Estimate{
		Percent:         pct,
		Band:            BandFor(pct),
		BookedMinutes:   booked,
		CapacityMinutes: capacity,
	}
}

func (e *Estimator) capacityMinutes(from, to time.Time) float64 {
	return e.weeklyCapacity.Minutes() * float64(to.Sub(from)) / float64(week)
}
