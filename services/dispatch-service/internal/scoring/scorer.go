package scoring

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Weights blend skill coverage with spare capacity. Availability is not a
// weight: an unavailable candidate scores zero.
type Weights struct {
	Skills float64
	Load   float64
}

func DefaultWeights() Weights { return Weights{Skills: 0.6, Load: 0.4} }

// loadWindow is centred on the job so the score reflects the week the
// candidate would actually be working it.
const loadWindow = 7 * 24 * time.Hour

type Request struct {
	BusinessID        string
	JobID             string
	OriginalWorkerID  string
	CandidateWorkerID string
}

type Result struct {
	Score          int                  `json:"score"`
	SkillMatch     float64              `json:"skill_match"`
	RequiredSkills []string             `json:"required_skills"`
	Utilization    utilization.Estimate `json:"utilization"`
	Available      bool                 `json:"available"`
	Reason         string               `json:"reason"`
}

type Scorer struct {
	store    domain.Store
	resolver *availability.Resolver
	util     *utilization.Estimator
	weights  Weights
	logger   *slog.Logger
}

func NewScorer(store domain.Store, resolver *availability.Resolver, util *utilization.Estimator, weights Weights, logger *slog.Logger) *Scorer {
	if weights.Skills <= 0 && weights.Load <= 0 {
		weights = DefaultWeights()
	}
	return &Scorer{store: store, resolver: resolver, util: util, weights: weights, logger: logger}
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.BusinessID) == "":
		return domain.Invalid("business_id", "is required")
	case strings.TrimSpace(r.JobID) == "":
		return domain.Invalid("job_id", "is required")
	case strings.TrimSpace(r.OriginalWorkerID) == "":
		return domain.Invalid("original_worker_id", "is required")
	case strings.TrimSpace(r.CandidateWorkerID) == "":
		return domain.Invalid("candidate_worker_id", "is required")
	case r.OriginalWorkerID == r.CandidateWorkerID:
		return domain.Invalid("candidate_worker_id", "must differ from the original worker")
	}
	return nil
}

// Score rates the candidate as a replacement for the original worker on the
// job. It is deterministic for an unchanged store.
func (s *Scorer) Score(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "scoring.Score")
	span.SetAttributes(attribute.String("job.id", req.JobID), attribute.String("candidate.id", req.CandidateWorkerID))
	defer func() {
		span.SetAttributes(attribute.Int("score", res.Score))
		otelx.EndSpan(span, err)
	}()

	if err := req.validate(); err != nil {
		return Result{}, err
	}

	var (
		job                 domain.Job
		original, candidate domain.Worker
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		job, err = s.store.GetJob(gctx, req.BusinessID, req.JobID)
		return domain.Upstream("job", err)
	})
	g.Go(func() (err error) {
		original, err = s.store.GetWorker(gctx, req.BusinessID, req.OriginalWorkerID)
		return domain.Upstream("original worker", err)
	})
	g.Go(func() (err error) {
		candidate, err = s.store.GetWorker(gctx, req.BusinessID, req.CandidateWorkerID)
		return domain.Upstream("candidate worker", err)
	})
	if err := g.Wait(); err != nil {
		return Result{Reason: availability.ReasonUnknown}, err
	}
	return s.ScoreLoaded(ctx, job, original, candidate)
}

// ScoreLoaded scores with job and workers already in hand.
func (s *Scorer) ScoreLoaded(ctx context.Context, job domain.Job, original, candidate domain.Worker) (Result, error) {
	required := RequiredSkills(job, original)
	res := Result{RequiredSkills: required, SkillMatch: SkillMatch(required, candidate.Skills)}

	verdict, err := s.resolver.Resolve(ctx, availability.Request{
		BusinessID:   job.BusinessID,
		WorkerID:     candidate.ID,
		Interval:     availability.Interval{Start: job.ScheduledAt, End: job.End()},
		ExcludeJobID: job.ID,
	})
	if err != nil {
		res.Reason = verdict.Reason
		return res, err
	}
	res.Available = verdict.Available
	res.Reason = verdict.Reason

	res.Utilization, err = s.util.Estimate(ctx, candidate.ID, job.ScheduledAt.Add(-loadWindow/2), job.ScheduledAt.Add(loadWindow/2))
	if err != nil {
		return res, err
	}
	res.Score = Combine(s.weights, res.SkillMatch, res.Utilization.Percent, res.Available)
	return res, nil
}

// RequiredSkills are the job's own, or the original worker's when the job
// lists none.
func RequiredSkills(job domain.Job, original domain.Worker) []string {
	if req := domain.NormalizeSkills(job.RequiredSkills); len(req) > 0 {
		return req
	}
	return domain.NormalizeSkills(original.Skills)
}

// SkillMatch is the covered fraction of required. Nothing required is a full match.
func SkillMatch(required, have []string) float64 {
	n := len(domain.NormalizeSkills(required))
	if n == 0 {
		return 1
	}
	return float64(domain.SkillOverlap(required, have)) / float64(n)
}

// Combine folds the inputs into 0..100.
func Combine(w Weights, skillMatch, utilizationPct float64, available bool) int {
	if !available {
		return 0
	}
	total := w.Skills + w.Load
	if total <= 0 {
		w, total = DefaultWeights(), 1
	}
	spare := 1 - math.Min(100, math.Max(0, utilizationPct))/100
	v := (w.Skills*clamp01(skillMatch) + w.Load*spare) / total
	return int(math.Round(v * 100))
}

func clamp01(v float64) float64 { return math.Min(1, math.Max(0, v)) }
