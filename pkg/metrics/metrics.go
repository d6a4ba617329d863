// Package metrics provides Prometheus metrics for the price-oracle engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchesTotal is a counter of adapter fetches by outcome.
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_fetches_total",
			Help: "Total number of price fetches against source adapters",
		},
		[]string{"source", "symbol", "status"},
	)

	// FetchDuration is a histogram of adapter fetch latency.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_fetch_duration_seconds",
			Help:    "Latency of price fetches against source adapters",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// CacheRequestsTotal counts getPrice calls by cache outcome.
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_cache_requests_total",
			Help: "Total number of price requests by cache outcome (hit/miss)",
		},
		[]string{"symbol", "outcome"},
	)

	// PriceStalenessSeconds is a gauge of time since the accepted sample was captured.
	PriceStalenessSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_price_staleness_seconds",
			Help: "Staleness of the most recently accepted price per symbol",
		},
		[]string{"symbol"},
	)

	// FeedState is a gauge of the per-symbol feed state (0=unknown 1=healthy 2=degraded 3=failed).
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_feed_state",
			Help: "Feed state per symbol (0=unknown, 1=healthy, 2=degraded, 3=failed)",
		},
		[]string{"symbol"},
	)

	// QualityScore is a gauge of the most recent confidence score per symbol.
	QualityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_quality_score",
			Help: "Most recent confidence score per symbol (0-100)",
		},
		[]string{"symbol"},
	)

	// AggregationDuration is a histogram of weighted aggregation duration.
	AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_aggregation_duration_seconds",
			Help:    "Duration of price aggregation operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// CrossValidationDeviation is a histogram of observed pairwise deviations.
	CrossValidationDeviation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_cross_validation_deviation_percent",
			Help:    "Pairwise price deviation between sources in percent",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		},
		[]string{"symbol"},
	)

	// DeviationBreachesTotal counts cross-validation threshold breaches.
	DeviationBreachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_deviation_breaches_total",
			Help: "Total number of cross-validation deviation threshold breaches",
		},
		[]string{"symbol"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init registers all collectors with the default Prometheus registry.
func Init() {
	prometheus.MustRegister(
		FetchesTotal,
		FetchDuration,
		CacheRequestsTotal,
		PriceStalenessSeconds,
		FeedState,
		QualityScore,
		AggregationDuration,
		CrossValidationDeviation,
		DeviationBreachesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordFetch records an adapter fetch outcome and latency.
func RecordFetch(source, symbol, status string, duration time.Duration) {
	FetchesTotal.WithLabelValues(source, symbol, status).Inc()
	FetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordCacheRequest records a getPrice call outcome.
func RecordCacheRequest(symbol string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheRequestsTotal.WithLabelValues(symbol, outcome).Inc()
}

// RecordAcceptedPrice records staleness and score of an accepted price.
func RecordAcceptedPrice(symbol string, staleness time.Duration, score float64) {
	PriceStalenessSeconds.WithLabelValues(symbol).Set(staleness.Seconds())
	QualityScore.WithLabelValues(symbol).Set(score)
}

// RecordFeedState records the per-symbol feed state.
func RecordFeedState(symbol string, state float64) {
	FeedState.WithLabelValues(symbol).Set(state)
}

// RecordAggregation records a price aggregation operation.
func RecordAggregation(method string, duration time.Duration) {
	AggregationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDeviation records a cross-validation deviation observation.
func RecordDeviation(symbol string, deviationPct float64, breach bool) {
	CrossValidationDeviation.WithLabelValues(symbol).Observe(deviationPct)
	if breach {
		DeviationBreachesTotal.WithLabelValues(symbol).Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
