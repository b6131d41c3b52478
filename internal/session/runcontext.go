// Package session implements the Session Controller (C6): it owns the run
// lifecycle and the worker pool, coordinating start, stop, and the drain
// protocol (finalize).
package session

import (
	"context"
	"sync/atomic"
	"time"

	"daq/internal/csvsink"
	"daq/internal/device"
	"daq/internal/ingest"
	"daq/internal/sample"
	"daq/internal/sqlsink"
	"daq/internal/visualize"
)

// RunContext is the single mutable value the HTTP layer, the workers, and
// finalize all share for one run, replacing package-level globals for
// is_collecting and the counters. It is owned
// exclusively by the Session Controller: created fresh at Start, passed by
// pointer to every worker, and never mutated by readers other than its
// atomic fields.
type RunContext struct {
	Label      string
	CSVEnabled bool
	SQLEnabled bool
	StartTime  time.Time
	K          int
	Channels   []int
	SampleRate int

	TargetSizeCSV int
	TargetSizeSQL int

	RunDir string

	QViz *visualize.Buffer
	QCSV *ingest.Queue[sample.Block]
	QSQL *ingest.Queue[sample.Block]

	Device      *device.Adapter
	Dispatcher  *ingest.Dispatcher
	CSVWriter   *csvsink.Writer
	SQLUploader *sqlsink.Uploader

	isCollecting atomic.Bool
	overallCount atomic.Int64

	cancel           context.CancelFunc
	dispatcherCancel context.CancelFunc
	dispatcherDone   chan struct{}
	csvDone          chan struct{}
	sqlDone          chan struct{}
}

// IsCollecting reports the run's current activity flag. Readers tolerate
// stale reads, per the concurrency model's shared-resource policy.
func (rc *RunContext) IsCollecting() bool { return rc.isCollecting.Load() }

// OverallCount is the total samples ingested so far, the counter GET
// /status and GET /data report to the UI.
func (rc *RunContext) OverallCount() int64 { return rc.overallCount.Load() }
