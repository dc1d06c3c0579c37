package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "smap_exporter"

// Metrics holds the Prometheus counters and histograms of the exporter.
type Metrics struct {
	ImagesRead      prometheus.Counter
	DaysSkipped     *prometheus.CounterVec // labels: reason={missing,failed}
	PointsScanned   prometheus.Counter
	RecordsExported *prometheus.CounterVec // labels: sink={vm,kafka}
	InsertErrors    *prometheus.CounterVec // labels: sink={vm,kafka}
	CellsWritten    prometheus.Counter
	ReadDuration    prometheus.Histogram
	ExportRunning   prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ImagesRead,
		m.DaysSkipped,
		m.PointsScanned,
		m.RecordsExported,
		m.InsertErrors,
		m.CellsWritten,
		m.ReadDuration,
		m.ExportRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them so tests can
// build as many as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ImagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_read_total",
			Help:      "Daily images decoded successfully.",
		}),
		DaysSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "days_skipped_total",
			Help:      "Days without an image, by reason.",
		}, []string{"reason"}),
		PointsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_scanned_total",
			Help:      "Grid points turned into records.",
		}),
		RecordsExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_exported_total",
			Help:      "Records accepted by a sink.",
		}, []string{"sink"}),
		InsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insert_errors_total",
			Help:      "Failed sink inserts.",
		}, []string{"sink"}),
		CellsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_written_total",
			Help:      "Time-series cell files written by reshuffle.",
		}),
		ReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "image_read_duration_seconds",
			Help:      "Time to locate, open and decode one daily image.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ExportRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "export_running",
			Help:      "1 while an export or reshuffle is in progress.",
		}),
	}
}
