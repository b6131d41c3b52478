// Package metrics exposes the Prometheus instrumentation for the DAQ
// pipeline, named and registered the way internal/metrics/metrics.go of the
// teacher repo does it: promauto counters/histograms as package vars.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts raw (pre-downsample) samples delivered by the
	// device adapter (C1) to the ingest dispatcher (C2).
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daq_samples_ingested_total",
		Help: "Total samples read from the device across all runs",
	})

	// QueueDrops counts blocks dropped for being full, labeled by which
	// queue dropped them (viz, csv, sql).
	QueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daq_queue_drops_total",
		Help: "Blocks dropped because a downstream queue was full",
	}, []string{"queue"})

	// CSVRowsWritten counts rows written to the rolling CSV archive (C4).
	CSVRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daq_csv_rows_written_total",
		Help: "Total rows written across all rotated CSV files",
	})

	// CSVRotations counts file rotations performed by the CSV writer.
	CSVRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daq_csv_rotations_total",
		Help: "Total CSV file rotations",
	})

	// SQLUploads tracks staging-file uploads, labeled by outcome
	// (success/failure).
	SQLUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daq_sql_uploads_total",
		Help: "Total SQL staging-file upload attempts",
	}, []string{"outcome"})

	// SQLUploadDuration tracks how long bulk-loading a staging file takes.
	SQLUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "daq_sql_upload_duration_seconds",
		Help:    "Duration of staging-file bulk uploads",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	// RunsStarted / RunsFinalized bookend the session lifecycle.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daq_runs_started_total",
		Help: "Total runs started",
	})
	RunsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daq_runs_finalized_total",
		Help: "Total runs that completed finalize",
	})

	// DeviceErrors counts consecutive-error and overflow events from C1.
	DeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daq_device_errors_total",
		Help: "Device read errors, labeled by kind",
	}, []string{"kind"})
)
