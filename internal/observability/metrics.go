// v1
// internal/observability/metrics.go
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	ingestDecisions   *prometheus.CounterVec
	ledgerDuration    prometheus.Observer
	ledgerErrors      prometheus.Counter
	cbState           *prometheus.GaugeVec
	anchorBatches     *prometheus.CounterVec
	publishTotal      *prometheus.CounterVec
	publishQueueDepth prometheus.Gauge
}

func NewMetrics() *Metrics {
	ledgerDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_http_duration_seconds",
		Help:    "Histogram of ledger HTTP request durations.",
		Buckets: prometheus.DefBuckets,
	})
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ingestDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_decisions_total",
			Help: "Total telemetry submissions by pipeline outcome.",
		}, []string{"outcome"}),
		ledgerDuration: ledgerDuration,
		ledgerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_http_errors_total",
			Help: "Total ledger HTTP errors encountered.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		anchorBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "anchor_batches_total",
			Help: "Total batch anchor attempts by outcome.",
		}, []string{"outcome"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_publish_total",
			Help: "Total telemetry events published to Kafka by outcome.",
		}, []string{"outcome"}),
		publishQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_publish_queue_depth",
			Help: "Current depth of the telemetry publish queue.",
		}),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.ingestDecisions,
		ledgerDuration,
		m.ledgerErrors,
		m.cbState,
		m.anchorBatches,
		m.publishTotal,
		m.publishQueueDepth,
	)

	m.cbState.WithLabelValues("ledger").Set(0)

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IngestDecision records the pipeline outcome for one submission
// (accepted, invalid_signature, replay_detected, rate_limited, ...).
func (m *Metrics) IngestDecision(outcome string) {
	if m == nil {
		return
	}
	m.ingestDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LedgerRequest(duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ledgerDuration.Observe(duration.Seconds())
	if !success {
		m.ledgerErrors.Inc()
	}
}

func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}

func (m *Metrics) AnchorBatch(outcome string) {
	if m == nil {
		return
	}
	m.anchorBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncPublish(outcome string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPublishQueueDepth(n int) {
	if m == nil {
		return
	}
	m.publishQueueDepth.Set(float64(n))
}
