package search

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	otelx "github.com/md-rashed-zaman/crewdispatch/libs/otel"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/availability"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/domain"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/telemetry"
	"github.com/md-rashed-zaman/crewdispatch/services/dispatch-service/internal/utilization"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type ReasonCode string

const (
	ReasonWindowTooShort     ReasonCode = "window_too_short"
	ReasonNoActiveCandidates ReasonCode = "no_active_candidates"
	ReasonUnknown            ReasonCode = "availability_unknown"
	ReasonNoRecurring        ReasonCode = "no_recurring_availability"
	ReasonBusinessClosed     ReasonCode = "business_closed"
	ReasonOutsideHours       ReasonCode = "outside_working_hours"
	ReasonFullyBooked        ReasonCode = "fully_booked"
	ReasonTruncated          ReasonCode = "search_truncated"
)

var reasonMessages = map[ReasonCode]string{
	ReasonWindowTooShort:     "The search window is too short for this job once minimum notice and the booking horizon are applied.",
	ReasonNoActiveCandidates: "None of the candidate workers is active.",
	ReasonUnknown:            "Availability could not be determined for some candidate workers. Try again shortly.",
	ReasonNoRecurring:        "No recurring availability is defined for any candidate worker.",
	ReasonBusinessClosed:     "The business has no working days inside the search window.",
	ReasonOutsideHours:       "Candidate workers' hours never cover the job's duration inside business hours.",
	ReasonFullyBooked:        "Candidate workers are fully booked for the entire search window.",
	ReasonTruncated:          "The search ran out of time before any slot was confirmed.",
}

func (c ReasonCode) Message() string { return reasonMessages[c] }

type Config struct {
	Granularity time.Duration
	MaxResults  int
	Suggested   int
	Concurrency int
	Timeout     time.Duration
	// WaveDays is how many days are evaluated before checking whether later
	// days could still improve the ranked list.
	WaveDays      int
	MaxSearchDays int
}

func DefaultConfig() Config {
	return Config{
		Granularity:   15 * time.Minute,
		MaxResults:    8,
		Suggested:     3,
		Concurrency:   8,
		Timeout:       3 * time.Second,
		WaveDays:      2,
		MaxSearchDays: 60,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Granularity <= 0 {
		c.Granularity = d.Granularity
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.Suggested < 0 || c.Suggested > c.MaxResults {
		c.Suggested = min(d.Suggested, c.MaxResults)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.WaveDays <= 0 {
		c.WaveDays = d.WaveDays
	}
	if c.MaxSearchDays <= 0 {
		c.MaxSearchDays = d.MaxSearchDays
	}
	return c
}

type Query struct {
	Job                domain.Job
	Business           domain.Business
	PreferredAt        *time.Time
	SearchDays         int
	CandidateWorkerIDs []string
}

// Candidate is one feasible (worker, interval) pair.
type Candidate struct {
	WorkerID    string
	Start       time.Time
	End         time.Time
	Score       int
	IsSuggested bool
	Utilization float64
	// Distance is |Start - anchor|, the primary ranking key.
	Distance time.Duration
}

type Result struct {
	Slots []Candidate
	// Nearest is the chronologically earliest feasible candidate, picked
	// before ranking and truncation.
	Nearest              *Candidate
	ReasonCode           ReasonCode
	NoAvailabilityReason string
	Window               availability.Interval
	// Feasible counts every confirmed candidate before truncation.
	Feasible   int
	Truncated  bool
	Incomplete bool
}

type Engine struct {
	store    domain.WorkerReader
	resolver *availability.Resolver
	util     *utilization.Estimator
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store domain.WorkerReader, resolver *availability.Resolver, util *utilization.Estimator, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		resolver: resolver,
		util:     util,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) validate(q Query) error {
	if strings.TrimSpace(q.Job.ID) == "" {
		return domain.Invalid("job_id", "is required")
	}
	if q.Job.DurationMinutes <= 0 {
		return domain.Invalid("duration_minutes", "must be positive")
	}
	if q.SearchDays < 1 || q.SearchDays > e.cfg.MaxSearchDays {
		return domain.Invalid("search_days", "must be between 1 and %d", e.cfg.MaxSearchDays)
	}
	if len(q.CandidateWorkerIDs) == 0 {
		return domain.Invalid("candidate_worker_ids", "at least one candidate is required")
	}
	return nil
}

// Window derives the bookable search range for q at now. The range may be
// shorter than the job, in which case nothing can be proposed.
func Window(q Query, now time.Time) availability.Interval {
	start := now
	if q.PreferredAt != nil && q.PreferredAt.After(start) {
		start = *q.PreferredAt
	}
	end := start.AddDate(0, 0, q.SearchDays)
	if notice := now.Add(time.Duration(q.Business.MinimumNoticeHours) * time.Hour); start.Before(notice) {
		start = notice
	}
	if q.Business.MaxAdvanceBookingDays > 0 {
		if horizon := now.AddDate(0, 0, q.Business.MaxAdvanceBookingDays); end.After(horizon) {
			end = horizon
		}
	}
	return availability.Interval{Start: start, End: end}
}

// Search proposes replacement slots for q.Job. An empty result is never an
// error: ReasonCode explains it. Validation and not-found problems are
// returned as errors; a worker whose data cannot be read is skipped and the
// result is marked Incomplete.
func (e *Engine) Search(ctx context.Context, q Query) (res Result, err error) {
	started := e.now()
	ctx, span := telemetry.Tracer().Start(ctx, "search.Search")
	span.SetAttributes(
		attribute.String("job.id", q.Job.ID),
		attribute.Int("search.days", q.SearchDays),
		attribute.Int("search.candidates", len(q.CandidateWorkerIDs)),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("search.feasible", res.Feasible),
			attribute.Bool("search.truncated", res.Truncated),
			attribute.String("search.reason", string(res.ReasonCode)),
		)
		otelx.EndSpan(span, err)
		if err == nil {
			e.metrics.ObserveSearch(outcome(res), res.Feasible, time.Since(started))
		}
	}()

	if err := e.validate(q); err != nil {
		return Result{}, err
	}
	loc, err := q.Business.Location()
	if err != nil {
		return Result{}, domain.Upstream("business timezone", err)
	}

	window := Window(q, e.now())
	res.Window = window
	if window.Duration() < q.Job.Duration() {
		return withReason(res, ReasonWindowTooShort), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	snaps, stats, err := e.loadCandidates(ctx, q, window)
	if err != nil {
		return Result{}, err
	}
	res.Truncated = stats.truncated
	res.Incomplete = stats.failed > 0

	s := &scan{
		engine: e,
		job:    q.Job,
		biz:    q.Business,
		window: window,
		anchor: anchor(q),
	}
	if len(snaps) > 0 {
		s.run(ctx, snaps, days(window, loc))
	}
	res.Truncated = res.Truncated || s.truncated

	// The job being moved leaves its worker, so it is not that worker's load.
	utilByWorker := make(map[string]float64, len(snaps))
	for _, snap := range snaps {
		jobs := slices.DeleteFunc(slices.Clone(snap.Jobs), func(j domain.Job) bool { return j.ID == q.Job.ID })
		utilByWorker[snap.Worker.ID] = e.util.FromJobs(jobs, window.Start, window.End).Percent
	}
	found := s.found
	for i := range found {
		found[i].Utilization = utilByWorker[found[i].WorkerID]
		found[i].Score = score(found[i].Distance, found[i].Utilization)
	}
	res.Feasible = len(found)

	if len(found) == 0 {
		return withReason(res, diagnose(res, stats, snaps, s)), nil
	}

	nearest := found[0]
	for _, c := range found[1:] {
		if c.Start.Before(nearest.Start) || (c.Start.Equal(nearest.Start) && c.WorkerID < nearest.WorkerID) {
			nearest = c
		}
	}

	rank(found)
	if len(found) > e.cfg.MaxResults {
		found = found[:e.cfg.MaxResults]
	}
	for i := range found {
		found[i].IsSuggested = i < e.cfg.Suggested
		if found[i].WorkerID == nearest.WorkerID && found[i].Start.Equal(nearest.Start) {
			nearest.IsSuggested = found[i].IsSuggested
		}
	}
	res.Slots = found
	res.Nearest = &nearest
	return res, nil
}

type loadStats struct {
	requested int
	inactive  int
	failed    int
	truncated bool
}

// loadCandidates reads every candidate worker and its availability snapshot
// over the window. Workers that cannot be read are counted, not fatal.
func (e *Engine) loadCandidates(ctx context.Context, q Query, window availability.Interval) ([]*availability.Snapshot, loadStats, error) {
	ids := dedupe(q.CandidateWorkerIDs)
	stats := loadStats{requested: len(ids)}

	var (
		mu    sync.Mutex
		snaps []*availability.Snapshot
		fatal error
	)
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			snap, err := e.loadOne(ctx, q, id, window)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && snap == nil:
				stats.inactive++
			case err == nil:
				snaps = append(snaps, snap)
			case errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation):
				if fatal == nil {
					fatal = err
				}
			case ctx.Err() != nil:
				stats.truncated = true
			default:
				stats.failed++
				e.logger.Warn("candidate skipped", "job_id", q.Job.ID, "worker_id", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if fatal != nil {
		return nil, stats, fatal
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Worker.ID < snaps[j].Worker.ID })
	return snaps, stats, nil
}

func (e *Engine) loadOne(ctx context.Context, q Query, workerID string, window availability.Interval) (*availability.Snapshot, error) {
	w, err := e.store.GetWorker(ctx, q.Business.ID, workerID)
	if err != nil {
		return nil, domain.Upstream("worker", err)
	}
	if !w.Active() {
		return nil, nil
	}
	return e.resolver.Load(ctx, w, &q.Business, window)
}

// scan walks the business grid for every (day, worker) pair.
type scan struct {
	engine *Engine
	job    domain.Job
	biz    domain.Business
	window availability.Interval
	anchor time.Time

	mu        sync.Mutex
	found     []Candidate
	truncated bool
	diag      diagnostics
}

type diagnostics struct {
	workingDays int
	openDays    int
	withinHours int
	conflicted  int
}

func (d *diagnostics) add(o diagnostics) {
	d.workingDays += o.workingDays
	d.openDays += o.openDays
	d.withinHours += o.withinHours
	d.conflicted += o.conflicted
}

func (s *scan) run(ctx context.Context, snaps []*availability.Snapshot, days []time.Time) {
	cfg := s.engine.cfg
	for i := 0; i < len(days); i += cfg.WaveDays {
		wave := days[i:min(i+cfg.WaveDays, len(days))]
		var g errgroup.Group
		g.SetLimit(cfg.Concurrency)
		for _, day := range wave {
			for _, snap := range snaps {
				g.Go(func() error {
					if ctx.Err() != nil {
						s.mu.Lock()
						s.truncated = true
						s.mu.Unlock()
						return nil
					}
					found, d := s.evaluate(day, snap)
					s.mu.Lock()
					s.found = append(s.found, found...)
					s.diag.add(d)
					s.mu.Unlock()
					return nil
				})
			}
		}
		_ = g.Wait()

		if s.truncated {
			return
		}
		if next := i + cfg.WaveDays; next < len(days) && s.settled(days[next]) {
			return
		}
	}
}

// settled reports whether no slot on or after nextDay can enter the top
// MaxResults. Ties are not settled: a later slot at equal distance may still
// win on utilization.
func (s *scan) settled(nextDay time.Time) bool {
	if len(s.found) < s.engine.cfg.MaxResults || !s.anchor.Before(nextDay) {
		return false
	}
	dists := make([]time.Duration, len(s.found))
	for i, c := range s.found {
		dists[i] = c.Distance
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i] < dists[j] })
	return nextDay.Sub(s.anchor) > dists[s.engine.cfg.MaxResults-1]
}

func (s *scan) evaluate(day time.Time, snap *availability.Snapshot) ([]Candidate, diagnostics) {
	var d diagnostics
	if !s.biz.WorksOn(day.Weekday()) {
		return nil, d
	}
	d.workingDays++
	eff := snap.Day(day)
	if !eff.Open() {
		return nil, d
	}
	d.openDays++

	open := availability.WindowOn(day, s.biz.StartMinute, s.biz.EndMinute)
	breakStart, breakEnd, hasBreak := s.biz.BreakMinutes()
	var lunch availability.Interval
	if hasBreak {
		lunch = availability.WindowOn(day, breakStart, breakEnd)
	}
	dur := s.job.Duration()

	var out []Candidate
	for t := open.Start; !t.Add(dur).After(open.End); t = t.Add(s.engine.cfg.Granularity) {
		iv := availability.Interval{Start: t, End: t.Add(dur)}
		if iv.Start.Before(s.window.Start) {
			continue
		}
		if iv.End.After(s.window.End) {
			break
		}
		if hasBreak && iv.Overlaps(lunch) {
			continue
		}
		if snap.Worker.ID == s.job.WorkerID && iv.Start.Equal(s.job.ScheduledAt) {
			continue
		}
		if !eff.Contains(iv) {
			continue
		}
		d.withinHours++
		v := snap.Check(iv, s.job.ID)
		if !v.Available {
			d.conflicted++
			continue
		}
		out = append(out, Candidate{
			WorkerID: snap.Worker.ID,
			Start:    iv.Start,
			End:      iv.End,
			Distance: absDuration(iv.Start.Sub(s.anchor)),
		})
	}
	return out, d
}

func diagnose(res Result, stats loadStats, snaps []*availability.Snapshot, s *scan) ReasonCode {
	switch {
	case res.Truncated:
		return ReasonTruncated
	case res.Incomplete:
		return ReasonUnknown
	case len(snaps) == 0:
		return ReasonNoActiveCandidates
	}
	recurring := false
	for _, snap := range snaps {
		if snap.HasRecurring() || snap.HasOpenException() {
			recurring = true
			break
		}
	}
	switch {
	case !recurring:
		return ReasonNoRecurring
	case s.diag.workingDays == 0:
		return ReasonBusinessClosed
	case s.diag.withinHours == 0:
		return ReasonOutsideHours
	default:
		return ReasonFullyBooked
	}
}

func withReason(res Result, code ReasonCode) Result {
	res.ReasonCode = code
	res.NoAvailabilityReason = code.Message()
	return res
}

func outcome(res Result) string {
	switch {
	case res.ReasonCode != "":
		return string(res.ReasonCode)
	case res.Truncated:
		return "truncated"
	default:
		return "found"
	}
}

// rank orders by distance to the anchor, then lower utilization, then worker
// id, then start.
func rank(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Utilization != b.Utilization {
			return a.Utilization < b.Utilization
		}
		if a.WorkerID != b.WorkerID {
			return a.WorkerID < b.WorkerID
		}
		return a.Start.Before(b.Start)
	})
}

// score maps proximity and spare capacity to 0..100 for display. Ranking
// does not use it.
func score(distance time.Duration, utilizationPct float64) int {
	proximity := 1 / (1 + distance.Hours()/24)
	spare := 1 - math.Min(100, math.Max(0, utilizationPct))/100
	return int(math.Round(100 * (0.7*proximity + 0.3*spare)))
}

func anchor(q Query) time.Time {
	if q.PreferredAt != nil {
		return *q.PreferredAt
	}
	return q.Job.ScheduledAt
}

// days lists the local midnights in loc that window touches.
func days(window availability.Interval, loc *time.Location) []time.Time {
	last := availability.LocalDay(window.End.Add(-time.Nanosecond), loc)
	var out []time.Time
	for d := availability.LocalDay(window.Start, loc); !d.After(last); d = time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc) {
		out = append(out, d)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
