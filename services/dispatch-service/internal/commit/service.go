package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/outbox"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/scoring"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/slottoken"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/storage"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
	"go.opentelemetry.io/otel/attribute"
)

type Kind string

const (
	KindReschedule Kind = "reschedule"
	KindSwap       Kind = "swap"
)

var (
	ErrStaleToken = fmt.Errorf("%w: the slot offer is stale, search again", domain.ErrConflict)
	ErrSlotTaken  = fmt.Errorf("%w: the slot is no longer available", domain.ErrConflict)
)

// loadWindow matches the scorer's utilization window.
const loadWindow = 7 * 24 * time.Hour

// Tx is everything one commit does inside a single database transaction.
type Tx interface {
	domain.Store
	// LockWorker serializes commits touching the worker's calendar until
	// the transaction ends.
	LockWorker(ctx context.Context, workerID string) error
	LockJob(ctx context.Context, businessID, jobID string) (domain.Job, error)
	MoveJob(ctx context.Context, job domain.Job, workerID string, start time.Time) (time.Time, error)
	InsertSwapRequest(ctx context.Context, sr *domain.SwapRequest) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

// Runner commits fn's writes only if fn returns nil.
type Runner interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

type Request struct {
	BusinessID string
	JobID      string
	WorkerID   string
	Start      time.Time
	// End is optional; when set it must match Start plus the job duration.
	End   time.Time
	Token string
}

type Result struct {
	Kind               Kind      `json:"kind"`
	JobID              string    `json:"job_id"`
	FromWorkerID       string    `json:"from_worker_id"`
	ToWorkerID         string    `json:"to_worker_id"`
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	Version            time.Time `json:"version"`
	SwapRequestID      string    `json:"swap_request_id,omitempty"`
	CompatibilityScore *int      `json:"compatibility_score,omitempty"`
}

type Service struct {
	runner  Runner
	signer  *slottoken.Signer
	util    *utilization.Estimator
	weights scoring.Weights
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewService(runner Runner, signer *slottoken.Signer, util *utilization.Estimator, logger *slog.Logger, m *telemetry.Metrics) *Service {
	return &Service{
		runner:  runner,
		signer:  signer,
		util:    util,
		weights: scoring.DefaultWeights(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Reschedule moves a job to a new time with its current worker.
func (s *Service) Reschedule(ctx context.Context, req Request) (Result, error) {
	return s.commit(ctx, KindReschedule, req)
}

// Swap moves a job to another worker and records an approved swap request.
func (s *Service) Swap(ctx context.Context, req Request) (Result, error) {
	return s.commit(ctx, KindSwap, req)
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.BusinessID) == "":
		return domain.Invalid("business_id", "is required")
	case strings.TrimSpace(r.JobID) == "":
		return domain.Invalid("job_id", "is required")
	case strings.TrimSpace(r.WorkerID) == "":
		return domain.Invalid("worker_id", "is required")
	case r.Start.IsZero():
		return domain.Invalid("start", "is required")
	case strings.TrimSpace(r.Token) == "":
		return domain.Invalid("token", "is required")
	case !r.End.IsZero() && !r.End.After(r.Start):
		return domain.Invalid("end", "must be after start")
	}
	return nil
}

func (s *Service) commit(ctx context.Context, kind Kind, req Request) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "commit."+string(kind))
	span.SetAttributes(attribute.String("job.id", req.JobID), attribute.String("worker.id", req.WorkerID))
	defer func() {
		otelx.EndSpan(span, err)
		s.metrics.ObserveCommit(string(kind), commitOutcome(err))
	}()

	if err := req.validate(); err != nil {
		return Result{}, err
	}

	err = s.runner.InTx(ctx, func(tx Tx) error {
		var txErr error
		res, txErr = s.apply(ctx, tx, kind, req)
		return txErr
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Info("commit rejected", "kind", kind, "job_id", req.JobID, "worker_id", req.WorkerID, "reason", err)
		}
		return Result{}, err
	}
	s.logger.Info("job moved",
		"kind", kind,
		"job_id", res.JobID,
		"from_worker_id", res.FromWorkerID,
		"to_worker_id", res.ToWorkerID,
		"start", res.Start,
	)
	return res, nil
}

func (s *Service) apply(ctx context.Context, tx Tx, kind Kind, req Request) (Result, error) {
	job, err := tx.LockJob(ctx, req.BusinessID, req.JobID)
	if err != nil {
		return Result{}, err
	}
	if !job.Status.Movable() {
		return Result{}, domain.Invalid("job_id", "job is %s and cannot be moved", job.Status)
	}
	switch {
	case kind == KindReschedule && req.WorkerID != job.WorkerID:
		return Result{}, domain.Invalid("worker_id", "a reschedule keeps the current worker; use a swap to change it")
	case kind == KindSwap && req.WorkerID == job.WorkerID:
		return Result{}, domain.Invalid("worker_id", "a swap needs a different worker")
	}

	slot := availability.Interval{Start: req.Start, End: req.Start.Add(job.Duration())}
	if !req.End.IsZero() && !req.End.Equal(slot.End) {
		return Result{}, domain.Invalid("end", "does not match the job duration of %d minutes", job.DurationMinutes)
	}
	if err := s.verifyToken(req, job, slot); err != nil {
		return Result{}, err
	}

	// Sorted so two commits over the same pair of workers never deadlock.
	workers := []string{job.WorkerID}
	if req.WorkerID != job.WorkerID {
		workers = append(workers, req.WorkerID)
	}
	sort.Strings(workers)
	for _, id := range workers {
		if err := tx.LockWorker(ctx, id); err != nil {
			return Result{}, err
		}
	}

	target, err := tx.GetWorker(ctx, req.BusinessID, req.WorkerID)
	if err != nil {
		return Result{}, err
	}
	if !target.Active() {
		return Result{}, fmt.Errorf("%w: %s", ErrSlotTaken, availability.ReasonInactive)
	}
	business, err := tx.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return Result{}, err
	}

	around := availability.Interval{Start: slot.Start.Add(-loadWindow / 2), End: slot.Start.Add(loadWindow / 2)}
	resolver := availability.NewResolver(tx, s.logger, availability.WithSerialReads())
	snap, err := resolver.Load(ctx, target, &business, around)
	if err != nil {
		return Result{}, err
	}
	if v := snap.Check(slot, job.ID); !v.Available {
		return Result{}, fmt.Errorf("%w: %s", ErrSlotTaken, v.Reason)
	}

	res := Result{
		Kind:         kind,
		JobID:        job.ID,
		FromWorkerID: job.WorkerID,
		ToWorkerID:   target.ID,
		Start:        slot.Start,
		End:          slot.End,
	}
	eventType := outbox.EventJobRescheduled
	if kind == KindSwap {
		original, err := tx.GetWorker(ctx, req.BusinessID, job.WorkerID)
		if err != nil {
			return Result{}, err
		}
		required := scoring.RequiredSkills(job, original)
		load := s.util.FromJobs(snap.Jobs, around.Start, around.End)
		score := scoring.Combine(s.weights, scoring.SkillMatch(required, target.Skills), load.Percent, true)

		sr := &domain.SwapRequest{
			ID:                 uuid.NewString(),
			BusinessID:         job.BusinessID,
			JobID:              job.ID,
			OriginalWorkerID:   job.WorkerID,
			RequestedWorkerID:  target.ID,
			CompatibilityScore: score,
			Status:             domain.SwapApproved,
		}
		if err := tx.InsertSwapRequest(ctx, sr); err != nil {
			return Result{}, err
		}
		res.SwapRequestID = sr.ID
		res.CompatibilityScore = &score
		eventType = outbox.EventJobSwapped
	}

	res.Version, err = tx.MoveJob(ctx, job, target.ID, slot.Start)
	if err != nil {
		return Result{}, err
	}
	evt, err := outbox.NewJobEvent(eventType, outbox.JobMoved{
		JobID:              job.ID,
		BusinessID:         job.BusinessID,
		ClientID:           job.ClientID,
		FromWorkerID:       job.WorkerID,
		ToWorkerID:         target.ID,
		PreviousStart:      job.ScheduledAt,
		Start:              slot.Start,
		End:                slot.End,
		SwapRequestID:      res.SwapRequestID,
		CompatibilityScore: res.CompatibilityScore,
		OccurredAt:         s.now().UTC(),
	})
	if err != nil {
		return Result{}, err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) verifyToken(req Request, job domain.Job, slot availability.Interval) error {
	err := s.signer.Verify(req.Token, slottoken.Claims{
		JobID:      job.ID,
		JobVersion: job.UpdatedAt,
		WorkerID:   req.WorkerID,
		Start:      slot.Start,
		End:        slot.End,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, slottoken.ErrStale), errors.Is(err, slottoken.ErrExpired):
		return fmt.Errorf("%w (%v)", ErrStaleToken, err)
	default:
		return domain.Invalid("token", "%v", err)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrConflict):
		return err
	case storage.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrSlotTaken, err)
	default:
		return domain.Upstream("job store", err)
	}
}

func commitOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}
