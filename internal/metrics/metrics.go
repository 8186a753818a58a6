package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	joins         *prometheus.CounterVec
	checkIns      *prometheus.CounterVec
	completions   *prometheus.CounterVec
	pointsAwarded prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		joins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stride_challenge_joins_total",
				Help: "Enrollments created, by challenge.",
			},
			[]string{"challenge"},
		),
		checkIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stride_check_ins_total",
				Help: "Check-in attempts, by challenge and outcome.",
			},
			[]string{"challenge", "outcome"},
		),
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stride_challenge_completions_total",
				Help: "Challenges completed, by challenge.",
			},
			[]string{"challenge"},
		),
		pointsAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stride_points_awarded_total",
			Help: "Reward points granted across all users.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"pattern", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pattern", "method"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.joins, m.checkIns, m.completions, m.pointsAwarded,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) Joined(challengeID string) {
	m.joins.WithLabelValues(challengeID).Inc()
}

func (m *Metrics) CheckIn(challengeID, outcome string) {
	m.checkIns.WithLabelValues(challengeID, outcome).Inc()
}

func (m *Metrics) Completed(challengeID string, points int) {
	m.completions.WithLabelValues(challengeID).Inc()
	m.pointsAwarded.Add(float64(points))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request counts and latency labelled by the matched
// route pattern rather than the raw path, keeping label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		m.httpRequests.WithLabelValues(pattern, r.Method, strconv.Itoa(sw.status)).Inc()
		m.httpDuration.WithLabelValues(pattern, r.Method).Observe(time.Since(start).Seconds())
	})
}
