package telemetry

import (
	"time"

	"github.com/md-rashed-zaman/crewdispatch/libs/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/md-rashed-zaman/crewdispatch/services/dispatch-service"

func Tracer() trace.Tracer { return otel.Tracer(instrumentationName) }

// Metrics are the engine's domain counters. A nil *Metrics is valid and
// records nothing, which keeps unit tests free of registries.
type Metrics struct {
	resolves       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	searchSlots    prometheus.Histogram
	searchOutcomes *prometheus.CounterVec
	commits        *prometheus.CounterVec
	utilDefaulted  prometheus.Counter
}

func NewMetrics(r *metrics.Registry) *Metrics {
	ns := r.Namespace()
	m := &Metrics{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "availability_resolutions_total",
			Help:      "Availability verdicts by outcome (available, unavailable, unknown).",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "slot_search_duration_seconds",
			Help:      "Wall time of reschedule slot searches.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		searchSlots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "slot_search_feasible_slots",
			Help:      "Feasible slots found per search before truncation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		searchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "slot_searches_total",
			Help:      "Slot searches by outcome: found, truncated or the empty-result reason code.",
		}, []string{"outcome"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "slot_commits_total",
			Help:      "Reschedule and swap commits by kind and outcome.",
		}, []string{"kind", "outcome"}),
		utilDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "utilization_defaulted_total",
			Help:      "Utilization estimates that fell back to the midpoint after a read failure.",
		}),
	}
	r.Reg.MustRegister(m.resolves, m.searchDuration, m.searchSlots, m.searchOutcomes, m.commits, m.utilDefaulted)
	return m
}

func (m *Metrics) ObserveResolve(outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSearch(outcome string, feasible int, took time.Duration) {
	if m == nil {
		return
	}
	m.searchOutcomes.WithLabelValues(outcome).Inc()
	m.searchSlots.Observe(float64(feasible))
	m.searchDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveCommit(kind, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveUtilizationDefaulted() {
	if m == nil {
		return
	}
	m.utilDefaulted.Inc()
}
