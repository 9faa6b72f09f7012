package domain

import (
	"context"
	"time"
)

// Readers return *NotFoundError for missing records and an error wrapping
// ErrUpstreamRead when the backing store cannot answer.

type WorkerReader interface {
	// GetWorker returns the worker only if it belongs to businessID.
	GetWorker(ctx context.Context, businessID, workerID string) (Worker, error)
	ListWorkers(ctx context.Context, businessID string, status WorkerStatus) ([]Worker, error)
}

type BusinessReader interface {
	GetBusiness(ctx context.Context, businessID string) (Business, error)
}

type AvailabilityReader interface {
	ListWeeklySlots(ctx context.Context, workerID string) ([]WeeklySlot, error)
	// ListExceptions returns exceptions dated fromDate..toDate inclusive.
	ListExceptions(ctx context.Context, workerID, fromDate, toDate string) ([]AvailabilityException, error)
}

type JobReader interface {
	GetJob(ctx context.Context, businessID, jobID string) (Job, error)
	// ListWorkerJobs returns jobs of every status whose interval overlaps [from, to).
	ListWorkerJobs(ctx context.Context, workerID string, from, to time.Time) ([]Job, error)
}

type Store interface {
	WorkerReader
	BusinessReader
	AvailabilityReader
	JobReader
}
