package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Broadcast outcomes recorded by ObserveBroadcast.
const (
	BroadcastSent          = "sent"
	BroadcastDropped       = "dropped"
	BroadcastNoSubscribers = "no_subscribers"
	BroadcastFailed        = "failed"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface and the window lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	transitions   *prometheus.CounterVec
	fireLag       prometheus.Histogram
	pendingTimers prometheus.Gauge
	sweepDuration prometheus.Histogram
	sweepFailures prometheus.Counter
	broadcasts    *prometheus.CounterVec
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

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "window_transitions_total",
		Help: "Applied window lifecycle transitions by trigger and target state",
	}, []string{"source", "state"})

	fireLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "window_scheduler_fire_lag_seconds",
		Help:    "Delay between a scheduled transition instant and the timer firing",
		Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	})

	pendingTimers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "window_scheduler_pending_timers",
		Help: "Timers currently armed by the window scheduler",
	})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "window_sweep_duration_seconds",
		Help:    "Duration of reconciliation sweeps",
		Buckets: prometheus.DefBuckets,
	})

	sweepFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "window_sweep_failures_total",
		Help: "Windows whose transition could not be persisted during a sweep",
	})

	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "window_broadcast_total",
		Help: "Status notifications by delivery outcome",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, fireLag, pendingTimers, sweepDuration, sweepFailures, broadcasts, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		fireLag:         fireLag,
		pendingTimers:   pendingTimers,
		sweepDuration:   sweepDuration,
		sweepFailures:   sweepFailures,
		broadcasts:      broadcasts,
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

// ObserveTransition counts an applied lifecycle transition.
func (m *MetricsService) ObserveTransition(source, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(source, state).Inc()
}

// ObserveFireLag records how late a scheduled timer fired. Negative lags are recorded as zero.
func (m *MetricsService) ObserveFireLag(lag time.Duration) {
	if m == nil {
		return
	}
	if lag < 0 {
		lag = 0
	}
	m.fireLag.Observe(lag.Seconds())
}

// SetPendingTimers publishes the number of armed scheduler timers.
func (m *MetricsService) SetPendingTimers(n int) {
	if m == nil {
		return
	}
	m.pendingTimers.Set(float64(n))
}

// ObserveSweep records a completed sweep and the windows it failed to persist.
func (m *MetricsService) ObserveSweep(duration time.Duration, failures int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
	if failures > 0 {
		m.sweepFailures.Add(float64(failures))
	}
}

// ObserveBroadcast counts a notification by outcome.
func (m *MetricsService) ObserveBroadcast(result string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(result).Inc()
}
