package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	syncPagesTotal     *prometheus.CounterVec
	syncObjectsTotal   *prometheus.CounterVec
	syncErrorsTotal    *prometheus.CounterVec
	syncRunsTotal      *prometheus.CounterVec
	webhookEventsTotal *prometheus.CounterVec

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurationMs *prometheus.HistogramVec

	wsConnections prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.syncPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_pages_total",
		Help: "Total number of backfill pages applied.",
	}, []string{"object"})
	m.syncObjectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_objects_total",
		Help: "Total number of provider objects projected during backfill.",
	}, []string{"object"})
	m.syncErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_errors_total",
		Help: "Total number of object-kind backfills that ended in error.",
	}, []string{"object"})
	m.syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Total number of completed sync runs.",
	}, []string{"outcome"})
	m.webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of webhook deliveries by outcome.",
	}, []string{"outcome"})

	m.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})
	m.httpRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	}, []string{"method", "route"})

	m.wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Number of active realtime connections.",
	})

	reg.MustRegister(
		m.syncPagesTotal,
		m.syncObjectsTotal,
		m.syncErrorsTotal,
		m.syncRunsTotal,
		m.webhookEventsTotal,
		m.httpRequestsTotal,
		m.httpRequestDurationMs,
		m.wsConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePage(object string, processed int) {
	if m == nil {
		return
	}
	m.syncPagesTotal.WithLabelValues(object).Inc()
	m.syncObjectsTotal.WithLabelValues(object).Add(float64(processed))
}

func (m *Metrics) ObserveSyncError(object string) {
	if m == nil {
		return
	}
	m.syncErrorsTotal.WithLabelValues(object).Inc()
}

func (m *Metrics) ObserveRun(success bool) {
	if m == nil {
		return
	}
	outcome := "complete"
	if !success {
		outcome = "error"
	}
	m.syncRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, statusLabel).Inc()
	ms := float64(duration.Milliseconds())
	if ms < 0 {
		ms = 0
	}
	m.httpRequestDurationMs.WithLabelValues(method, route).Observe(ms)
}

func (m *Metrics) AddWSConnection(delta int) {
	if m == nil {
		return
	}
	m.wsConnections.Add(float64(delta))
}
