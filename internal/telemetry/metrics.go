// Package telemetry records crawl and search metrics.
//
// Metrics live on a private Prometheus registry so that several crawls in one
// process (tests, --watch re-crawls) never collide on global registration.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fabindex"

// Metrics holds the Prometheus collectors for crawls and searches.
type Metrics struct {
	registry *prometheus.Registry

	// Crawl metrics
	ObjectsFetched   prometheus.Counter
	DocumentsCreated prometheus.Counter
	FieldsWritten    *prometheus.CounterVec
	LinksResolved    prometheus.Counter
	LinksSkipped     *prometheus.CounterVec
	ValuesSkipped    *prometheus.CounterVec
	CrawlDuration    prometheus.Histogram
	CrawlErrors      *prometheus.CounterVec

	// Search metrics
	SearchQueries  *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	ZeroResults    prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ObjectsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "objects_fetched_total",
			Help:      "Metadata objects fetched from the content store",
		}),
		DocumentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "documents_created_total",
			Help:      "Documents created in the index",
		}),
		FieldsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "fields_written_total",
			Help:      "Field values written to documents",
		}, []string{"field"}),
		LinksResolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "links_resolved_total",
			Help:      "Metadata links followed",
		}),
		LinksSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "links_skipped_total",
			Help:      "Metadata links not followed",
		}, []string{"reason"}), // "not_metadata", "visited"
		ValuesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "values_skipped_total",
			Help:      "Wildcard values that are not text and were left out",
		}, []string{"field"}),
		CrawlDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "duration_seconds",
			Help:      "Duration of complete crawls",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}),
		CrawlErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crawl",
			Name:      "errors_total",
			Help:      "Crawls aborted, by error code",
		}, []string{"code"}),

		SearchQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Search queries executed",
		}, []string{"type"}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of search queries",
			Buckets:   prometheus.DefBuckets,
		}),
		ZeroResults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "zero_results_total",
			Help:      "Search queries that returned no hits",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteToTextfile writes all metrics in the Prometheus text format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// ObjectFetched counts one metadata fetch.
func (m *Metrics) ObjectFetched() {
	if m == nil {
		return
	}
	m.ObjectsFetched.Inc()
}

// DocumentCreated counts one new document.
func (m *Metrics) DocumentCreated() {
	if m == nil {
		return
	}
	m.DocumentsCreated.Inc()
}

// FieldWritten counts one value written to field.
func (m *Metrics) FieldWritten(field string) {
	if m == nil {
		return
	}
	m.FieldsWritten.WithLabelValues(field).Inc()
}

// LinkResolved counts one followed link.
func (m *Metrics) LinkResolved() {
	if m == nil {
		return
	}
	m.LinksResolved.Inc()
}

// LinkSkipped counts one link that was not followed.
func (m *Metrics) LinkSkipped(reason string) {
	if m == nil {
		return
	}
	m.LinksSkipped.WithLabelValues(reason).Inc()
}

// ValueSkipped counts one wildcard value of field that was not indexed.
func (m *Metrics) ValueSkipped(field string) {
	if m == nil {
		return
	}
	m.ValuesSkipped.WithLabelValues(field).Inc()
}

// CrawlFinished records the duration of a crawl and, when it failed, its error code.
func (m *Metrics) CrawlFinished(d time.Duration, code string) {
	if m == nil {
		return
	}
	m.CrawlDuration.Observe(d.Seconds())
	if code != "" {
		m.CrawlErrors.WithLabelValues(code).Inc()
	}
}

// SearchFinished records one query.
func (m *Metrics) SearchFinished(e QueryEvent) {
	if m == nil {
		return
	}
	m.SearchQueries.WithLabelValues(string(e.QueryType)).Inc()
	m.SearchDuration.Observe(e.Latency.Seconds())
	if e.IsZeroResult() {
		m.ZeroResults.Inc()
	}
}
