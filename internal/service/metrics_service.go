package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the item lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	decisions       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	activeBatches   prometheus.Gauge
	sweepExpired    prometheus.Counter
	notifications   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lostfound_claim_decisions_total",
		Help: "Claim decisions by outcome (approved, rejected, suppressed)",
	}, []string{"outcome"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lostfound_item_transitions_total",
		Help: "Item lifecycle transitions by target state",
	}, []string{"to"})

	uploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lostfound_uploads_total",
		Help: "Settled artifact uploads by batch kind and state",
	}, []string{"kind", "state"})

	activeBatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lostfound_upload_batches_active",
		Help: "Upload batches currently held in memory",
	})

	sweepExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lostfound_expiry_sweep_expired_total",
		Help: "Items expired by the periodic sweep",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lostfound_notifications_total",
		Help: "Notifications by type and delivery result",
	}, []string{"type", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheHits, cacheMisses, decisions, transitions,
		uploads, activeBatches, sweepExpired, notifications, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		decisions:       decisions,
		transitions:     transitions,
		uploads:         uploads,
		activeBatches:   activeBatches,
		sweepExpired:    sweepExpired,
		notifications:   notifications,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// RecordDecision counts a claim decision outcome.
func (m *MetricsService) RecordDecision(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.decisions.WithLabelValues(outcome).Add(float64(count))
}

// RecordTransition counts an item moving into a new state.
func (m *MetricsService) RecordTransition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

// RecordUpload counts a settled upload slot.
func (m *MetricsService) RecordUpload(kind, state string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(kind, state).Inc()
}

// SetActiveBatches reports the number of live upload batches.
func (m *MetricsService) SetActiveBatches(n int) {
	if m == nil {
		return
	}
	m.activeBatches.Set(float64(n))
}

// RecordSweep counts items expired by one sweep run.
func (m *MetricsService) RecordSweep(expired int) {
	if m == nil || expired <= 0 {
		return
	}
	m.sweepExpired.Add(float64(expired))
}

// RecordNotification counts a notification delivery attempt.
func (m *MetricsService) RecordNotification(kind, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}
