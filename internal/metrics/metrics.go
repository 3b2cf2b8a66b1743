package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdbresale_rows_loaded_total", Help: "Raw rows read, by source partition.",
	}, []string{"source"})
	RowsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdbresale_rows_skipped_total", Help: "Rows dropped because they could not be transformed.",
	})
	WorkingTableRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hdbresale_working_table_rows", Help: "Rows in the current working table.",
	})
	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hdbresale_load_duration_seconds",
		Help:    "Time taken to build the working table.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
	LoadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdbresale_load_outcomes_total", Help: "Working table loads by result.",
	}, []string{"result"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdbresale_cache_requests_total", Help: "Memoized function lookups by result.",
	}, []string{"function", "result"})

	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdbresale_planning_area_resolutions_total", Help: "Planning area lookups by outcome.",
	}, []string{"outcome"})
	Geocoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hdbresale_geocoded_rows_total", Help: "Rows that gained coordinates from geocoding.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hdbresale_http_requests_total", Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hdbresale_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
