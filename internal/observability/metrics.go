package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// One Call API call rate by status label (success, client_error, server_error, rate_limited, error).
	WeatherAPICallsTotal *prometheus.CounterVec

	// One Call API latency. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. High retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Weather API failures by category (see client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Local cache operations by operation (get, current, put, replace_current, delete) and result.
	CacheOperationsTotal *prometheus.CounterVec

	// Network failures answered from cache (served) or not (miss). Miss = offline indicator shown.
	OfflineFallbacksTotal *prometheus.CounterVec

	// Background refresh runs by result (success, partial, failed, skipped_offline).
	RefreshRunsTotal *prometheus.CounterVec

	// Background refresh wall time.
	RefreshDurationSeconds prometheus.Histogram

	// Per-location refresh outcomes (success, error).
	RefreshLocationsTotal *prometheus.CounterVec

	// Alarm notifications by result (sent, error).
	AlarmNotificationsTotal *prometheus.CounterVec

	// Alarms deleted after their window ended.
	AlarmsExpiredTotal prometheus.Counter

	// 1 when the weather API is considered reachable, 0 when offline.
	ConnectivityOnline prometheus.Gauge

	// Circuit breaker state per component (0=closed, 1=open, 2=half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials (429).
	RateLimitDeniedTotal prometheus.Counter

	// Live fetches that joined an in-flight upstream call for the same coordinate.
	RequestCoalescingHitsTotal prometheus.Counter

	// Time callers spent waiting on a shared upstream call.
	RequestCoalescingWaitSeconds prometheus.Histogram
)

func init() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "httpRequestsTotal", Help: "Total number of HTTP requests"},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "httpRequestsInFlight", Help: "Number of HTTP requests currently being served"},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherApiCallsTotal", Help: "Total number of One Call API calls"},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "One Call API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "weatherApiRetriesTotal", Help: "Total number of retry attempts for weather API calls"},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "weatherApiErrorsTotal", Help: "Weather API failures by error category"},
		[]string{"category"},
	)
	CacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cacheOperationsTotal", Help: "Local weather cache operations by operation and result"},
		[]string{"operation", "result"},
	)
	OfflineFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "offlineFallbacksTotal", Help: "Network failures answered from cache (served) or not (miss)"},
		[]string{"result"},
	)
	RefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "refreshRunsTotal", Help: "Background refresh runs by result"},
		[]string{"result"},
	)
	RefreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Background refresh run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	RefreshLocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "refreshLocationsTotal", Help: "Per-location refresh outcomes"},
		[]string{"result"},
	)
	AlarmNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alarmNotificationsTotal", Help: "Alarm notifications by result"},
		[]string{"result"},
	)
	AlarmsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alarmsExpiredTotal", Help: "Alarms deleted after their window ended"},
	)
	ConnectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "connectivityOnline", Help: "1 when the weather API is reachable, 0 when offline"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "circuitBreakerState", Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)"},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "circuitBreakerTransitionsTotal", Help: "Circuit breaker state transitions"},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rateLimitDeniedTotal", Help: "Total number of requests denied by rate limiter (429)"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "requestCoalescingHitsTotal", Help: "Fetches served by another caller's in-flight weather API call"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced weather API call",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		CacheOperationsTotal, OfflineFallbacksTotal,
		RefreshRunsTotal, RefreshDurationSeconds, RefreshLocationsTotal,
		AlarmNotificationsTotal, AlarmsExpiredTotal,
		ConnectivityOnline,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
	)
	ConnectivityOnline.Set(1)
}

// RecordCacheOperation counts a cache operation; err decides the result label.
func RecordCacheOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	CacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

// SetConnectivity updates the connectivity gauge.
func SetConnectivity(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		return
	}
	ConnectivityOnline.Set(0)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates its state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
