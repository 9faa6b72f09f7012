package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/crewdispatch/libs/httpx"
	"github.com/md-rashed-zaman/crewdispatch/libs/metrics"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/commit"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/reschedule"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/scoring"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
)

type DispatchHandler struct {
	resolver  *availability.Resolver
	generator *reschedule.Generator
	scorer    *scoring.Scorer
	util      *utilization.Estimator
	workers   domain.WorkerReader
	commits   *commit.Service
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewDispatchHandler(resolver *availability.Resolver, generator *reschedule.Generator, scorer *scoring.Scorer, util *utilization.Estimator, workers domain.WorkerReader, commits *commit.Service, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		resolver:  resolver,
		generator: generator,
		scorer:    scorer,
		util:      util,
		workers:   workers,
		commits:   commits,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Register mounts every route on mux. m may be nil.
func (h *DispatchHandler) Register(mux *http.ServeMux, m *metrics.Registry) {
	routes := map[string]http.HandlerFunc{
		"/api/v1/availability/resolve": h.Resolve,
		"/api/v1/reschedule/options":   h.RescheduleOptions,
		"/api/v1/compatibility":        h.Compatibility,
		"/api/v1/utilization":          h.Utilization,
		"/api/v1/reschedule/commit":    h.CommitReschedule,
		"/api/v1/swap/commit":          h.CommitSwap,
	}
	for route, fn := range routes {
		var handler http.Handler = fn
		if m != nil {
			handler = m.Instrument(route, handler)
		}
		mux.Handle(route, handler)
	}
}

type resolveRequest struct {
	WorkerID     string    `json:"worker_id" validate:"required"`
	Start        time.Time `json:"start" validate:"required"`
	End          time.Time `json:"end" validate:"required,gtfield=Start"`
	ExcludeJobID string    `json:"exclude_job_id"`
}

type resolveResponse struct {
	WorkerID   string                `json:"worker_id"`
	Start      time.Time             `json:"start"`
	End        time.Time             `json:"end"`
	Available  bool                  `json:"available"`
	Determined bool                  `json:"determined"`
	Reason     string                `json:"reason"`
	Basis      string                `json:"basis"`
	Conflicts  []availability.JobRef `json:"conflicts,omitempty"`
}

type optionsRequest struct {
	JobID              string     `json:"job_id" validate:"required"`
	PreferredAt        *time.Time `json:"preferred_at"`
	SearchDays         int        `json:"search_days" validate:"omitempty,min=1"`
	CandidateWorkerIDs []string   `json:"candidate_worker_ids" validate:"omitempty,dive,required"`
	AllowSwap          bool       `json:"allow_swap"`
}

type compatibilityQuery struct {
	JobID             string `json:"job_id" validate:"required"`
	OriginalWorkerID  string `json:"original_worker_id" validate:"required"`
	CandidateWorkerID string `json:"candidate_worker_id" validate:"required,nefield=OriginalWorkerID"`
}

type compatibilityResponse struct {
	JobID             string `json:"job_id"`
	OriginalWorkerID  string `json:"original_worker_id"`
	CandidateWorkerID string `json:"candidate_worker_id"`
	scoring.Result
}

type utilizationResponse struct {
	WorkerID string    `json:"worker_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	utilization.Estimate
}

type commitRequest struct {
	JobID    string    `json:"job_id" validate:"required"`
	WorkerID string    `json:"worker_id" validate:"required"`
	Start    time.Time `json:"start" validate:"required"`
	// End is optional; the service checks it against the job duration.
	End   *time.Time `json:"end"`
	Token string     `json:"token" validate:"required"`
}

// bind decodes and validates a JSON body, writing the 400 itself.
func (h *DispatchHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, err.Error())
		return false
	}
	return h.check(w, dst)
}

func (h *DispatchHandler) check(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		httpx.WriteErrorDetails(w, http.StatusBadRequest, httpx.CodeValidation, "validation failed", validationDetails(err))
		return false
	}
	return true
}

func tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := httpx.BusinessIDFromContext(r.Context())
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, httpx.BusinessIDHeader+" header is required")
		return "", false
	}
	return id, true
}

func (h *DispatchHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	businessID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !h.bind(w, r, &req) {
		return
	}

	v, err := h.resolver.Resolve(r.Context(), availability.Request{
		BusinessID:   businessID,
		WorkerID:     strings.TrimSpace(req.WorkerID),
		Interval:     availability.Interval{Start: req.Start, End: req.End},
		ExcludeJobID: strings.TrimSpace(req.ExcludeJobID),
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resolveResponse{
		WorkerID:   req.WorkerID,
		Start:      req.Start,
		End:        req.End,
		Available:  v.Available,
		Determined: v.Determined,
		Reason:     v.Reason,
		Basis:      v.Basis.String(),
		Conflicts:  v.Conflicts,
	})
}

func (h *DispatchHandler) RescheduleOptions(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	businessID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req optionsRequest
	if !h.bind(w, r, &req) {
		return
	}
	if limit := h.generator.MaxSearchDays(); req.SearchDays > limit {
		writeDomainError(w, r, h.logger, domain.Invalid("search_days", "must be at most %d", limit))
		return
	}

	opts, err := h.generator.Options(r.Context(), reschedule.Request{
		BusinessID:         businessID,
		JobID:              strings.TrimSpace(req.JobID),
		PreferredAt:        req.PreferredAt,
		SearchDays:         req.SearchDays,
		CandidateWorkerIDs: req.CandidateWorkerIDs,
		AllowSwap:          req.AllowSwap,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, opts)
}

func (h *DispatchHandler) Compatibility(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	businessID, ok := tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	req := compatibilityQuery{
		JobID:             strings.TrimSpace(q.Get("job_id")),
		OriginalWorkerID:  strings.TrimSpace(q.Get("original_worker_id")),
		CandidateWorkerID: strings.TrimSpace(q.Get("candidate_worker_id")),
	}
	if !h.check(w, req) {
		return
	}

	res, err := h.scorer.Score(r.Context(), scoring.Request{
		BusinessID:        businessID,
		JobID:             req.JobID,
		OriginalWorkerID:  req.OriginalWorkerID,
		CandidateWorkerID: req.CandidateWorkerID,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, compatibilityResponse{
		JobID:             req.JobID,
		OriginalWorkerID:  req.OriginalWorkerID,
		CandidateWorkerID: req.CandidateWorkerID,
		Result:            res,
	})
}

func (h *DispatchHandler) Utilization(w http.ResponseWriter, r *http.Request) {
	if !httpx.AllowMethod(w, r, http.MethodGet) {
		return
	}
	businessID, ok := tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	workerID := strings.TrimSpace(q.Get("worker_id"))
	if workerID == "" {
		httpx.WriteErrorDetails(w, http.StatusBadRequest, httpx.CodeValidation, "validation failed", map[string]string{"worker_id": "is required"})
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		httpx.WriteErrorDetails(w, http.StatusBadRequest, httpx.CodeValidation, "validation failed", map[string]string{"from": "must be an RFC3339 timestamp"})
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		httpx.WriteErrorDetails(w, http.StatusBadRequest, httpx.CodeValidation, "validation failed", map[string]string{"to": "must be an RFC3339 timestamp"})
		return
	}

	// The estimator is keyed by worker only; scope to the tenant first.
	if _, err := h.workers.GetWorker(r.Context(), businessID, workerID); err != nil {
		writeDomainError(w, r, h.logger, domain.Upstream("worker", err))
		return
	}
	est, err := h.util.Estimate(r.Context(), workerID, from, to)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, utilizationResponse{WorkerID: workerID, From: from, To: to, Estimate: est})
}

func (h *DispatchHandler) CommitReschedule(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, h.commits.Reschedule)
}

func (h *DispatchHandler) CommitSwap(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, h.commits.Swap)
}

func (h *DispatchHandler) commit(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, req commit.Request) (commit.Result, error)) {
	if !httpx.AllowMethod(w, r, http.MethodPost) {
		return
	}
	businessID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req commitRequest
	if !h.bind(w, r, &req) {
		return
	}

	creq := commit.Request{
		BusinessID: businessID,
		JobID:      strings.TrimSpace(req.JobID),
		WorkerID:   strings.TrimSpace(req.WorkerID),
		Start:      req.Start,
		Token:      req.Token,
	}
	if req.End != nil {
		creq.End = *req.End
	}
	res, err := apply(r.Context(), creq)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
