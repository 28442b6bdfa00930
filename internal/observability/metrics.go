package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate by route template and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95 when forms wait on lookups.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeather calls by endpoint (weather, geocode_direct, geocode_reverse) and status label.
	UpstreamCallsTotal *prometheus.CounterVec

	// OpenWeather latency by endpoint. Watch for: p99 near the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Failed OpenWeather calls by endpoint and error category.
	UpstreamErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component (0=closed, 1=half_open, 2=open).
	CircuitBreakerState *prometheus.GaugeVec

	// Selections by source (map, form, search, history, default).
	SelectionsTotal *prometheus.CounterVec

	// Unit changes by target unit.
	UnitChangesTotal *prometheus.CounterVec

	// Lookup completions dropped because a newer selection superseded them.
	StaleResponsesDiscardedTotal *prometheus.CounterVec

	// Weather and geocoding lookups currently running for the session.
	LookupsInFlight prometheus.Gauge

	// History entries evicted from the front of the bounded list.
	HistoryEvictionsTotal prometheus.Counter

	// Stored history that could not be decoded and was replaced by an empty list.
	HistoryRecoveredTotal prometheus.Counter

	// Failed writes of the history slot, by backend.
	HistoryPersistErrorsTotal *prometheus.CounterVec

	// Rate limit denials on /api.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
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
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of OpenWeather API calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "OpenWeather API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	UpstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamErrorsTotal",
			Help: "Failed OpenWeather API calls by error category",
		},
		[]string{"endpoint", "category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"component"},
	)
	SelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "selectionsTotal",
			Help: "Coordinate selections by source",
		},
		[]string{"source"},
	)
	UnitChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitChangesTotal",
			Help: "Unit system changes by target unit",
		},
		[]string{"unit"},
	)
	StaleResponsesDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleResponsesDiscardedTotal",
			Help: "Lookup completions discarded because the selection changed while they were in flight",
		},
		[]string{"lookup"},
	)
	LookupsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lookupsInFlight",
			Help: "Weather and geocoding lookups currently running",
		},
	)
	HistoryEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "historyEvictionsTotal",
			Help: "History entries evicted to keep the list bounded",
		},
	)
	HistoryRecoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "historyRecoveredTotal",
			Help: "Malformed stored history replaced by an empty list on load",
		},
	)
	HistoryPersistErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyPersistErrorsTotal",
			Help: "Failed writes of the history storage slot",
		},
		[]string{"backend"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamErrorsTotal, CircuitBreakerState,
		SelectionsTotal, UnitChangesTotal, StaleResponsesDiscardedTotal, LookupsInFlight,
		HistoryEvictionsTotal, HistoryRecoveredTotal, HistoryPersistErrorsTotal,
		RateLimitDeniedTotal,
	)
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open", "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
