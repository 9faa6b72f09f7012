package reschedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/search"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/slottoken"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

type Label string

const (
	LabelNearest   Label = "nearest"
	LabelSuggested Label = "suggested"
	LabelFeasible  Label = "feasible"
)

const DefaultSearchDays = 14

type Request struct {
	BusinessID         string
	JobID              string
	PreferredAt        *time.Time
	SearchDays         int
	CandidateWorkerIDs []string
	// AllowSwap widens an empty candidate list from the current worker to
	// every active worker holding the job's required skills.
	AllowSwap bool
}

type Slot struct {
	WorkerID             string    `json:"worker_id"`
	Start                time.Time `json:"start"`
	End                  time.Time `json:"end"`
	Score                int       `json:"score"`
	IsSuggested          bool      `json:"is_suggested"`
	Label                Label     `json:"label"`
	RequiresWorkerChange bool      `json:"requires_worker_change"`
	Utilization          float64   `json:"utilization"`
	Token                string    `json:"token"`
}

type Options struct {
	JobID                string                `json:"job_id"`
	CurrentWorkerID      string                `json:"current_worker_id"`
	CandidateWorkerIDs   []string              `json:"candidate_worker_ids"`
	Slots                []Slot                `json:"slots"`
	Nearest              *Slot                 `json:"nearest_available_slot,omitempty"`
	ReasonCode           search.ReasonCode     `json:"reason_code,omitempty"`
	NoAvailabilityReason string                `json:"no_availability_reason,omitempty"`
	Window               availability.Interval `json:"-"`
	Truncated            bool                  `json:"truncated"`
	Incomplete           bool                  `json:"incomplete"`
}

type Generator struct {
	store  domain.Store
	engine *search.Engine
	signer *slottoken.Signer
	logger *slog.Logger
}

func NewGenerator(store domain.Store, engine *search.Engine, signer *slottoken.Signer, logger *slog.Logger) *Generator {
	return &Generator{store: store, engine: engine, signer: signer, logger: logger}
}

// MaxSearchDays is the longest search the engine accepts.
func (g *Generator) MaxSearchDays() int { return g.engine.Config().MaxSearchDays }

func (r Request) validate() error {
	if strings.TrimSpace(r.BusinessID) == "" {
		return domain.Invalid("business_id", "is required")
	}
	if strings.TrimSpace(r.JobID) == "" {
		return domain.Invalid("job_id", "is required")
	}
	if r.SearchDays < 0 {
		return domain.Invalid("search_days", "must not be negative")
	}
	return nil
}

// Options proposes new slots for a job. It reads only; committing a slot is
// the commit service's job and needs the slot's token.
func (g *Generator) Options(ctx context.Context, req Request) (opts Options, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reschedule.Options")
	span.SetAttributes(attribute.String("job.id", req.JobID), attribute.Bool("allow_swap", req.AllowSwap))
	defer func() { otelx.EndSpan(span, err) }()

	if err := req.validate(); err != nil {
		return Options{}, err
	}
	job, err := g.store.GetJob(ctx, req.BusinessID, req.JobID)
	if err != nil {
		return Options{}, domain.Upstream("job", err)
	}
	if !job.Status.Movable() {
		return Options{}, domain.Invalid("job_id", "job is %s and cannot be rescheduled", job.Status)
	}
	business, err := g.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return Options{}, domain.Upstream("business", err)
	}
	candidates, err := g.candidates(ctx, req, job)
	if err != nil {
		return Options{}, err
	}

	days := req.SearchDays
	if days == 0 {
		days = DefaultSearchDays
	}
	res, err := g.engine.Search(ctx, search.Query{
		Job:                job,
		Business:           business,
		PreferredAt:        req.PreferredAt,
		SearchDays:         days,
		CandidateWorkerIDs: candidates,
	})
	if err != nil {
		return Options{}, err
	}

	opts = Options{
		JobID:                job.ID,
		CurrentWorkerID:      job.WorkerID,
		CandidateWorkerIDs:   candidates,
		Slots:                make([]Slot, 0, len(res.Slots)),
		ReasonCode:           res.ReasonCode,
		NoAvailabilityReason: res.NoAvailabilityReason,
		Window:               res.Window,
		Truncated:            res.Truncated,
		Incomplete:           res.Incomplete,
	}
	for _, c := range res.Slots {
		opts.Slots = append(opts.Slots, g.slot(job, c, res.Nearest))
	}
	if res.Nearest != nil {
		n := g.slot(job, *res.Nearest, res.Nearest)
		opts.Nearest = &n
	}
	g.logger.Debug("reschedule options",
		"job_id", job.ID,
		"candidates", len(candidates),
		"slots", len(opts.Slots),
		"reason", res.ReasonCode,
	)
	return opts, nil
}

func (g *Generator) candidates(ctx context.Context, req Request, job domain.Job) ([]string, error) {
	if len(req.CandidateWorkerIDs) > 0 {
		return req.CandidateWorkerIDs, nil
	}
	if !req.AllowSwap {
		return []string{job.WorkerID}, nil
	}
	workers, err := g.store.ListWorkers(ctx, req.BusinessID, domain.WorkerActive)
	if err != nil {
		return nil, domain.Upstream("workers", err)
	}
	ids := []string{job.WorkerID}
	for _, w := range workers {
		if w.ID != job.WorkerID && w.HasSkills(job.RequiredSkills) {
			ids = append(ids, w.ID)
		}
	}
	return ids, nil
}

func (g *Generator) slot(job domain.Job, c search.Candidate, nearest *search.Candidate) Slot {
	s := Slot{
		WorkerID:             c.WorkerID,
		Start:                c.Start,
		End:                  c.End,
		Score:                c.Score,
		IsSuggested:          c.IsSuggested,
		RequiresWorkerChange: c.WorkerID != job.WorkerID,
		Utilization:          c.Utilization,
		Token: g.signer.Sign(slottoken.Claims{
			JobID:      job.ID,
			JobVersion: job.UpdatedAt,
			WorkerID:   c.WorkerID,
			Start:      c.Start,
			End:        c.End,
		}),
	}
	switch {
	case nearest != nil && c.WorkerID == nearest.WorkerID && c.Start.Equal(nearest.Start):
		s.Label = LabelNearest
	case c.IsSuggested:
		s.Label = LabelSuggested
	default:
		s.Label = LabelFeasible
	}
	return s
}
