package device

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"daq/internal/daqerr"
	"daq/internal/ingest"
	"daq/internal/metrics"

	"go.uber.org/zap"
)

// internalQueueCapacity is C1's own lossy buffer between the read loop and
// GetBlock, independent of the downstream Q_viz/Q_csv/Q_sql queues owned by
// the ingest dispatcher.
const internalQueueCapacity = 1000

const maxConsecutiveErrors = 5

// Config is the subset of the Run Configuration the Device Adapter needs:
// device address, channel/scan params, and N-Sample vs continuous mode.
type Config struct {
	DeviceIP   string
	DevicePort int
	Params     ScanParams
}

// Adapter is the Device Adapter (C1): it owns the device session and
// produces a lazy sequence of sample blocks via GetBlock.
type Adapter struct {
	transport Transport
	log       *zap.Logger

	k       int
	indices []int

	queue *ingest.Queue[SampleBlock]

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	fatalErr error
}

// New builds an Adapter around transport (a TCPTransport in production, a
// SimTransport in tests or hardware-less operation).
func New(transport Transport, log *zap.Logger) *Adapter {
	return &Adapter{
		transport: transport,
		log:       log,
		queue:     ingest.NewQueue[SampleBlock](internalQueueCapacity, ingest.DropOldest),
	}
}

// Init opens the device session, validates the channel mask, pushes scan
// params, and reads them back to catch silent rejection by the device.
func (a *Adapter) Init(ctx context.Context, cfg Config) error {
	k := bits.OnesCount8(cfg.Params.ChannelMask)
	if k < 1 {
		return fmt.Errorf("%w: no channels enabled", daqerr.ErrConfig)
	}
	a.k = k
	for i := 0; i < 4; i++ {
		if cfg.Params.ChannelMask&(1<<uint(i)) != 0 {
			a.indices = append(a.indices, i)
		}
	}

	if err := a.transport.Open(ctx, cfg.DeviceIP, cfg.DevicePort); err != nil {
		return fmt.Errorf("%w: %v", daqerr.ErrDeviceInit, err)
	}
	if err := a.transport.SetScanParams(cfg.Params); err != nil {
		return fmt.Errorf("%w: set scan params: %v", daqerr.ErrDeviceInit, err)
	}
	readBack, err := a.transport.GetScanParams()
	if err != nil {
		return fmt.Errorf("%w: get scan params: %v", daqerr.ErrDeviceInit, err)
	}
	if readBack != cfg.Params {
		a.log.Warn("device scan params mismatch after set",
			zap.Any("requested", cfg.Params), zap.Any("actual", readBack))
	}
	return nil
}

// K reports the active channel count computed at Init.
func (a *Adapter) K() int { return a.k }

// Start launches the read loop worker and begins the device scan.
func (a *Adapter) Start(ctx context.Context, targetCount int) error {
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.transport.StartScan(); err != nil {
		cancel()
		return fmt.Errorf("%w: start scan: %v", daqerr.ErrDeviceInit, err)
	}

	a.wg.Add(1)
	go a.readLoop(loopCtx, targetCount)
	return nil
}

// Stop requests the read loop terminate and stops the device scan. It does
// not wait for the loop to exit; callers join via Wait.
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	_ = a.transport.StopScan()
}

// Wait blocks until the read loop has exited.
func (a *Adapter) Wait() {
	a.wg.Wait()
}

// Release tears down the device session after the run is fully finalized.
func (a *Adapter) Release() error {
	return a.transport.Release()
}

// FatalErr returns the error that terminated the read loop, if any
// (DeviceOverflow or a TransientReadError threshold).
func (a *Adapter) FatalErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatalErr
}

// GetBlock is non-blocking: it returns the next available block, or an
// empty block if none is queued yet.
func (a *Adapter) GetBlock() SampleBlock {
	block, ok := a.queue.Pop()
	if !ok {
		return nil
	}
	return block
}

func (a *Adapter) setFatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatalErr == nil {
		a.fatalErr = err
	}
}

// readLoop implements the continuous/N-Sample polling contract: poll status
// and count, read whole K-aligned chunks, enqueue them, and terminate on
// overflow, other status bits, or five consecutive transient errors.
func (a *Adapter) readLoop(ctx context.Context, targetCount int) {
	defer a.wg.Done()

	consecutiveErrors := 0
	readSoFar := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		status, count, err := a.transport.BufferStatus()
		if err != nil {
			consecutiveErrors++
			metrics.DeviceErrors.WithLabelValues("transient_read").Inc()
			if consecutiveErrors >= maxConsecutiveErrors {
				a.setFatal(fmt.Errorf("%w: %v", daqerr.ErrTransientRead, err))
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if status&StatusOverflow != 0 {
			metrics.DeviceErrors.WithLabelValues("overflow").Inc()
			_ = a.transport.StopScan()
			a.setFatal(daqerr.ErrDeviceOverflow)
			return
		}
		if status&(StatusStopped|StatusOther) != 0 {
			return
		}

		wantContinuous := targetCount == 0
		var toRead int
		if wantContinuous {
			if count <= 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			toRead = count - (count % a.k)
		} else {
			remaining := targetCount - readSoFar
			if remaining <= 0 {
				return
			}
			// N-Sample mode waits until count >= remaining target before
			// reading, per the device adapter's read-loop contract.
			if count < remaining {
				time.Sleep(time.Millisecond)
				continue
			}
			toRead = count
			if toRead > remaining {
				toRead = remaining
			}
			toRead = toRead - (toRead % a.k)
		}

		if toRead <= 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		samples, err := a.transport.ReadBuffer(toRead)
		if err != nil {
			consecutiveErrors++
			metrics.DeviceErrors.WithLabelValues("transient_read").Inc()
			if consecutiveErrors >= maxConsecutiveErrors {
				a.setFatal(fmt.Errorf("%w: %v", daqerr.ErrTransientRead, err))
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		consecutiveErrors = 0

		if len(samples) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}

		readSoFar += len(samples)
		metrics.SamplesIngested.Add(float64(len(samples)))
		if dropped := a.queue.Push(SampleBlock(samples)); dropped {
			a.log.Debug("device internal queue full, dropped oldest block")
		}

		if !wantContinuous && readSoFar >= targetCount {
			return
		}
	}
}
