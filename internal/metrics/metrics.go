// Package metrics provides Prometheus metrics for the item store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the deduplicating store.
type Metrics struct {
	// Chunk Metrics
	ChunksAcquiredTotal  *prometheus.CounterVec
	ChunksReleasedTotal  *prometheus.CounterVec
	ChunksLive           prometheus.Gauge
	DedupHitsTotal       prometheus.Counter
	DedupBytesSavedTotal prometheus.Counter

	// Item Metrics
	ItemOperationsTotal   *prometheus.CounterVec
	ItemOperationDuration *prometheus.HistogramVec
	ItemBytesTotal        *prometheus.CounterVec

	// Garbage Collection Metrics
	GCChunksReclaimed prometheus.Counter
}

// namespace for all Leopold metrics
const namespace = "leopold"

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChunksAcquiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunk",
				Name:      "acquired_total",
				Help:      "Total number of chunk acquisitions.",
			},
			[]string{"outcome"},
		),
		ChunksReleasedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "chunk",
				Name:      "released_total",
				Help:      "Total number of chunk releases.",
			},
			[]string{"outcome"},
		),
		ChunksLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "chunk",
				Name:      "live",
				Help:      "Current number of materialised chunks.",
			},
		),
		DedupHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "hits_total",
				Help:      "Total number of writes satisfied by an existing chunk.",
			},
		),
		DedupBytesSavedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dedup",
				Name:      "bytes_saved_total",
				Help:      "Total bytes not written because the chunk already existed.",
			},
		),
		ItemOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "item",
				Name:      "operations_total",
				Help:      "Total number of item operations.",
			},
			[]string{"operation", "status"},
		),
		ItemOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "item",
				Name:      "operation_duration_seconds",
				Help:      "Item operation duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		ItemBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "item",
				Name:      "bytes_total",
				Help:      "Total bytes processed by item operations.",
			},
			[]string{"operation"},
		),
		GCChunksReclaimed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gc",
				Name:      "chunks_reclaimed_total",
				Help:      "Total number of chunks reclaimed after their refcount reached zero.",
			},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordChunkAcquired records a chunk acquisition. wasNew is false when
// the chunk was deduplicated against existing content.
func (m *Metrics) RecordChunkAcquired(wasNew bool) {
	if m == nil {
		return
	}
	if wasNew {
		m.ChunksAcquiredTotal.WithLabelValues("materialised").Inc()
		m.ChunksLive.Inc()
	} else {
		m.ChunksAcquiredTotal.WithLabelValues("deduplicated").Inc()
		m.DedupHitsTotal.Inc()
	}
}

// RecordDedupBytesSaved adds to the deduplicated byte counter.
func (m *Metrics) RecordDedupBytesSaved(bytes uint64) {
	if m == nil {
		return
	}
	m.DedupBytesSavedTotal.Add(float64(bytes))
}

// RecordChunkReleased records a chunk release. reclaimed is true when
// the refcount reached zero and the chunk was deleted.
func (m *Metrics) RecordChunkReleased(reclaimed bool) {
	if m == nil {
		return
	}
	if reclaimed {
		m.ChunksReleasedTotal.WithLabelValues("reclaimed").Inc()
		m.GCChunksReclaimed.Inc()
		m.ChunksLive.Dec()
	} else {
		m.ChunksReleasedTotal.WithLabelValues("decremented").Inc()
	}
}

// RecordItemOperation records an item operation with its duration and
// payload size.
func (m *Metrics) RecordItemOperation(operation, status string, duration float64, bytes uint64) {
	if m == nil {
		return
	}
	m.ItemOperationsTotal.WithLabelValues(operation, status).Inc()
	m.ItemOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.ItemBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}
