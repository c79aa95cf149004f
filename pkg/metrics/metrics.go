// Package metrics defines the Prometheus metric collectors for the search
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration *prometheus.HistogramVec
	DocsIndexedTotal   *prometheus.CounterVec
	IndexedDocuments   *prometheus.GaugeVec
	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	GeoQueriesTotal    *prometheus.CounterVec
	GeoPointsIndexed   *prometheus.GaugeVec
	GeoBucketsTotal    *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_builds_total",
				Help: "Index build operations by table and status (ok, error).",
			},
			[]string{"table", "status"},
		),
		IndexBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Index build duration in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"table"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Documents indexed across all builds, by table.",
			},
			[]string{"table"},
		),
		IndexedDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexed_documents",
				Help: "Documents in the active index generation, by table.",
			},
			[]string{"table"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Search queries by table and outcome (hit, zero_result, error).",
			},
			[]string{"table", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"table"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		GeoQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "geo_queries_total",
				Help: "Geo queries by table and mode (radius, name, bucket).",
			},
			[]string{"table", "mode"},
		),
		GeoPointsIndexed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geo_points_indexed",
				Help: "Points in the geo index, by table.",
			},
			[]string{"table"},
		),
		GeoBucketsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "geo_buckets_total",
				Help: "Geo buckets after the last bucket build, by table.",
			},
			[]string{"table"},
		),
	}

	prometheus.MustRegister(
		m.IndexBuildsTotal,
		m.IndexBuildDuration,
		m.DocsIndexedTotal,
		m.IndexedDocuments,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.GeoQueriesTotal,
		m.GeoPointsIndexed,
		m.GeoBucketsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
