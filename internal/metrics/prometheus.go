// Package metrics provides Prometheus metrics for layout-api and the agent.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing, so
// components can be built without a registry in tests.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	submissions      *prometheus.CounterVec
	conflicts        prometheus.Counter
	resolutions      *prometheus.CounterVec
	retryAttempts    prometheus.Counter
	queueDepth       *prometheus.GaugeVec
	queueSyncPasses  prometheus.Counter
	queueOutcomes    *prometheus.CounterVec
	bulkOperations   *prometheus.CounterVec
	bulkOutcomes     *prometheus.CounterVec
	healthStatus     prometheus.Gauge
}

// NewMetrics creates and registers the metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "layoutsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		requestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "layoutsync_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_submissions_total",
				Help: "Versioned submissions by outcome",
			},
			[]string{"outcome"},
		),
		conflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "layoutsync_conflicts_detected_total",
				Help: "Version conflicts routed to negotiation",
			},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_conflict_resolutions_total",
				Help: "Conflict resolutions by mode and result",
			},
			[]string{"mode", "result"},
		),
		retryAttempts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "layoutsync_retry_attempts_total",
				Help: "Retries issued by the backoff executor",
			},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "layoutsync_queue_operations",
				Help: "Queued operations by status",
			},
			[]string{"status"},
		),
		queueSyncPasses: f.NewCounter(
			prometheus.CounterOpts{
				Name: "layoutsync_queue_sync_passes_total",
				Help: "Offline queue sync passes",
			},
		),
		queueOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_queue_dispatch_total",
				Help: "Queued operation delivery attempts by resource and outcome",
			},
			[]string{"resource", "outcome"},
		),
		bulkOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_bulk_operations_total",
				Help: "Bulk operations by type",
			},
			[]string{"type"},
		),
		bulkOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layoutsync_bulk_region_outcomes_total",
				Help: "Per-region bulk outcomes",
			},
			[]string{"type", "outcome"},
		),
		healthStatus: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "layoutsync_health_status",
				Help: "Health status (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSubmission counts a controller submission outcome
// (accepted, conflict, invalid, failed)
func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

// RecordConflict counts a conflict handed to negotiation
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RecordResolution counts a resolution attempt
func (m *Metrics) RecordResolution(mode, result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(mode, result).Inc()
}

// RecordRetry counts one retry
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retryAttempts.Inc()
}

// SetQueueDepth publishes queue counts by status
func (m *Metrics) SetQueueDepth(pending, syncing, failed, completed, conflicted int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(pending))
	m.queueDepth.WithLabelValues("syncing").Set(float64(syncing))
	m.queueDepth.WithLabelValues("failed").Set(float64(failed))
	m.queueDepth.WithLabelValues("completed").Set(float64(completed))
	m.queueDepth.WithLabelValues("conflicted").Set(float64(conflicted))
}

// RecordSyncPass counts a queue sync pass
func (m *Metrics) RecordSyncPass() {
	if m == nil {
		return
	}
	m.queueSyncPasses.Inc()
}

// RecordQueueDispatch counts one queued delivery attempt
func (m *Metrics) RecordQueueDispatch(resource, outcome string) {
	if m == nil {
		return
	}
	m.queueOutcomes.WithLabelValues(resource, outcome).Inc()
}

// RecordBulk counts a bulk operation and its per-region outcomes
func (m *Metrics) RecordBulk(opType string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.bulkOperations.WithLabelValues(opType).Inc()
	m.bulkOutcomes.WithLabelValues(opType, "success").Add(float64(succeeded))
	m.bulkOutcomes.WithLabelValues(opType, "failure").Add(float64(failed))
}

// SetHealthStatus sets the health status
func (m *Metrics) SetHealthStatus(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server exposing gatherer on path
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records HTTP metrics labelled by the matched route template
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}
			m.requestsInFlight.Inc()
			defer m.requestsInFlight.Dec()

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cr := mux.CurrentRoute(r); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.RecordHTTPRequest(r.Method, route, rw.statusCode, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
