package ingest

import (
	"context"
	"time"

	"daq/internal/metrics"
	"daq/internal/sample"

	"go.uber.org/zap"
)

const (
	// QueueCapacity is the bound for Q_csv/Q_sql (Q_viz is bounded by
	// visualize.QueueCapacity).
	QueueCapacity = 50000
	drainSleep    = 10 * time.Millisecond
)

// GetBlocker is the narrow read side of the Device Adapter (C1) the
// dispatcher depends on, letting tests substitute a fake producer.
type GetBlocker interface {
	GetBlock() sample.Block
}

// Sink is the narrow interface the dispatcher needs from the Visualization
// Buffer (C3): synchronous delivery of one block.
type Sink interface {
	Deliver(block sample.Block)
}

// Dispatcher is the Ingest Dispatcher (C2): a single worker that drains the
// device adapter and fans copies out to the visualization buffer and the two
// sink queues.
type Dispatcher struct {
	device GetBlocker
	viz    Sink
	qCSV   *Queue[sample.Block]
	qSQL   *Queue[sample.Block]
	log    *zap.Logger

	csvEnabled bool
	sqlEnabled bool
}

// NewDispatcher wires the device adapter to the visualization buffer and the
// CSV/SQL queues. qCSV/qSQL may be nil sinks if the respective sink is
// disabled for this run.
func NewDispatcher(src GetBlocker, viz Sink, qCSV, qSQL *Queue[sample.Block], log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		device:     src,
		viz:        viz,
		qCSV:       qCSV,
		qSQL:       qSQL,
		log:        log,
		csvEnabled: qCSV != nil,
		sqlEnabled: qSQL != nil,
	}
}

// Run drains the device until ctx is canceled. On cancellation it performs
// one final drain of whatever the device has already buffered before
// returning, so a run-stop never strands samples the device produced right
// before the scan stopped. It never drains Q_csv/Q_sql itself on exit — the
// writers own that drain.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drainOnce()
			return
		default:
		}

		d.drainOnce()

		select {
		case <-ctx.Done():
			d.drainOnce()
			return
		case <-time.After(drainSleep):
		}
	}
}

func (d *Dispatcher) drainOnce() {
	for {
		block := d.device.GetBlock()
		if len(block) == 0 {
			return
		}
		d.dispatch(block)
	}
}

func (d *Dispatcher) dispatch(block sample.Block) {
	d.viz.Deliver(block)

	if d.csvEnabled {
		cp := make(sample.Block, len(block))
		copy(cp, block)
		if dropped := d.qCSV.Push(cp); dropped {
			metrics.QueueDrops.WithLabelValues("csv").Inc()
			d.log.Warn("Q_csv full, dropped block", zap.Int("len", len(block)))
		}
	}
	if d.sqlEnabled {
		cp := make(sample.Block, len(block))
		copy(cp, block)
		if dropped := d.qSQL.Push(cp); dropped {
			metrics.QueueDrops.WithLabelValues("sql").Inc()
			d.log.Warn("Q_sql full, dropped block", zap.Int("len", len(block)))
		}
	}
}
