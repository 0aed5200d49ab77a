package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

const namespace = "mikropix"

// Metrics holds the Prometheus collectors of the service, registered on
// their own registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestCounter    *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	SourceFailures    *prometheus.CounterVec
	HeuristicMatches  prometheus.Counter
	RollupDuration    *prometheus.HistogramVec
	CommissionCredits prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		SourceFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "source_failures_total",
				Help:      "Sale source fetches that failed",
			},
			[]string{"source"},
		),
		HeuristicMatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "heuristic_attributions_total",
			Help:      "Sales attributed by amount and time correlation",
		}),
		RollupDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "rollup_duration_seconds",
				Help:      "Rollup computation time by resulting status",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"status"},
		),
		CommissionCredits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "commission_credits_total",
			Help:      "PIX sales credited to reseller balances",
		}),
	}
}

func (m *Metrics) SourceFailed(source models.Source) {
	m.SourceFailures.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) HeuristicAttributed(n int) {
	m.HeuristicMatches.Add(float64(n))
}

func (m *Metrics) RollupComputed(status models.RollupStatus, elapsed time.Duration) {
	m.RollupDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) CommissionsCredited(n int) {
	m.CommissionCredits.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by chi route pattern so that path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
