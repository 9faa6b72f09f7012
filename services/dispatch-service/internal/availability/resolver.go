package availability

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Request struct {
	BusinessID   string
	WorkerID     string
	Interval     Interval
	ExcludeJobID string
}

func (r Request) validate() error {
	if strings.TrimSpace(r.BusinessID) == "" {
		return domain.Invalid("business_id", "is required")
	}
	if strings.TrimSpace(r.WorkerID) == "" {
		return domain.Invalid("worker_id", "is required")
	}
	if r.Interval.Start.IsZero() || r.Interval.End.IsZero() {
		return domain.Invalid("start", "start and end are required")
	}
	if !r.Interval.Valid() {
		return domain.Invalid("end", "must be after start")
	}
	return nil
}

type Resolver struct {
	store     domain.Store
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	readLimit int
}

type Option func(*Resolver)

// WithSerialReads issues store reads one at a time. Required when the store
// is bound to a single connection such as a pgx.Tx.
func WithSerialReads() Option {
	return func(r *Resolver) { r.readLimit = 1 }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(store domain.Store, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{store: store, logger: logger, readLimit: -1}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve answers whether the worker can take req.Interval. Validation and
// not-found errors come back with a zero Verdict. A store failure comes back
// with an undetermined, unavailable Verdict and an error wrapping
// domain.ErrUpstreamRead.
func (r *Resolver) Resolve(ctx context.Context, req Request) (v Verdict, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "availability.Resolve")
	span.SetAttributes(
		attribute.String("worker.id", req.WorkerID),
		attribute.String("interval.start", req.Interval.Start.UTC().Format("2006-01-02T15:04:05Z")),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("available", v.Available), attribute.Bool("determined", v.Determined))
		otelx.EndSpan(span, err)
		r.observe(v, err)
	}()

	if err := req.validate(); err != nil {
		return Verdict{}, err
	}

	worker, err := r.store.GetWorker(ctx, req.BusinessID, req.WorkerID)
	if err != nil {
		return r.fail("worker", err)
	}
	if !worker.Active() {
		return Verdict{Determined: true, Reason: ReasonInactive}, nil
	}

	snap, err := r.Load(ctx, worker, nil, req.Interval)
	if err != nil {
		return r.fail("snapshot", err)
	}
	return snap.Check(req.Interval, req.ExcludeJobID), nil
}

func (r *Resolver) fail(op string, err error) (Verdict, error) {
	err = domain.Upstream(op, err)
	if errors.Is(err, domain.ErrUpstreamRead) {
		r.logger.Warn("availability undetermined", "op", op, "err", err)
		return unknownVerdict(), err
	}
	return Verdict{}, err
}

func (r *Resolver) observe(v Verdict, err error) {
	switch {
	case err != nil && !errors.Is(err, domain.ErrUpstreamRead):
		return
	case !v.Determined:
		r.metrics.ObserveResolve("unknown")
	case v.Available:
		r.metrics.ObserveResolve("available")
	default:
		r.metrics.ObserveResolve("unavailable")
	}
}

// Load reads the worker's weekly slots, exceptions and jobs for rng, plus the
// business when it is not supplied, and joins them before returning. No
// partial snapshot is ever returned.
func (r *Resolver) Load(ctx context.Context, worker domain.Worker, business *domain.Business, rng Interval) (*Snapshot, error) {
	var (
		biz        domain.Business
		weekly     []domain.WeeklySlot
		exceptions []domain.AvailabilityException
		jobs       []domain.Job
	)
	// A local date is always within one day of the UTC date, so this range
	// covers every local date rng touches without knowing the zone yet.
	fromDate := rng.Start.UTC().AddDate(0, 0, -1).Format(domain.DateLayout)
	toDate := rng.End.UTC().AddDate(0, 0, 1).Format(domain.DateLayout)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.readLimit)
	if business == nil {
		g.Go(func() error {
			b, err := r.store.GetBusiness(gctx, worker.BusinessID)
			if err != nil {
				return domain.Upstream("business", err)
			}
			biz = b
			return nil
		})
	} else {
		biz = *business
	}
	g.Go(func() error {
		s, err := r.store.ListWeeklySlots(gctx, worker.ID)
		if err != nil {
			return domain.Upstream("weekly slots", err)
		}
		weekly = s
		return nil
	})
	g.Go(func() error {
		e, err := r.store.ListExceptions(gctx, worker.ID, fromDate, toDate)
		if err != nil {
			return domain.Upstream("exceptions", err)
		}
		exceptions = e
		return nil
	})
	g.Go(func() error {
		j, err := r.store.ListWorkerJobs(gctx, worker.ID, rng.Start, rng.End)
		if err != nil {
			return domain.Upstream("jobs", err)
		}
		jobs = j
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loc, err := biz.Location()
	if err != nil {
		return nil, domain.Upstream("business timezone", err)
	}
	return newSnapshot(worker, biz, loc, rng, weekly, exceptions, jobs), nil
}
