package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Registry is a private prometheus registry plus the metrics every service
// exposes. Domain packages register their own collectors on Reg.
type Registry struct {
	Reg       *prometheus.Registry
	namespace string

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	BreakerState        *prometheus.GaugeVec
	OutboxPublished     *prometheus.CounterVec
}

func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{Reg: reg, namespace: namespace}
	r.HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})
	r.HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	r.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "0 closed, 1 half-open, 2 open.",
	}, []string{"name"})
	r.OutboxPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_published_total",
		Help:      "Outbox events written to Kafka by event type.",
	}, []string{"event_type"})
	reg.MustRegister(r.HTTPRequestsTotal, r.HTTPRequestDuration, r.BreakerState, r.OutboxPublished)
	return r
}

func (r *Registry) Namespace() string { return r.namespace }

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Reg, promhttp.HandlerOpts{Registry: r.Reg})
}

// ObserveBreaker is shaped to plug into resilience.BreakerConfig.OnStateChange.
func (r *Registry) ObserveBreaker(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	r.BreakerState.WithLabelValues(name).Set(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Instrument wraps one route. route is a fixed label, never the raw path, so
// ids in URLs cannot blow up cardinality.
func (r *Registry) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		r.HTTPRequestsTotal.WithLabelValues(route, req.Method, strconv.Itoa(rec.status)).Inc()
		r.HTTPRequestDuration.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
	})
}
