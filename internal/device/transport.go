// Package device implements the Device Adapter (C1): it owns the session
// with a PET-7H24M-class vibration sensor and produces a lazy sequence of
// channel-interleaved float sample blocks.
package device

import (
	"context"

	"daq/internal/sample"
)

// SampleBlock is an interleaved float sequence whose length is always a
// multiple of the active channel count K: [ch0, ch1, ..., ch(K-1), ch0, ...].
type SampleBlock = sample.Block

// ScanParams are the opaque device parameters the Run Configuration
// carries: channel mask, gain, trigger mode, rate, and the N-Sample vs
// continuous target count.
type ScanParams struct {
	ChannelMask     uint8
	SampleRate      int
	Gain            int
	TriggerMode     int
	TargetCount     int
	DataTransMethod int
	AutoRun         bool
}

// Status bits read back from BufferStatus, matching the vendor capability
// table in the external-interfaces section.
const (
	StatusOverflow uint8 = 0x02
	StatusStopped  uint8 = 0x04
	StatusOther    uint8 = 0x08
)

// Transport is the abstract vendor capability this adapter depends on: open
// a session by IP, configure/verify scan params, start/stop scanning, poll
// buffer status+count, read the float buffer, release the session, and read
// back the last device error code. The vendor transport library itself is
// out of scope for this module; Transport is the seam a real HSDAQ binding
// or a synthetic generator plugs into.
type Transport interface {
	Open(ctx context.Context, ip string, port int) error
	SetScanParams(params ScanParams) error
	GetScanParams() (ScanParams, error)
	StartScan() error
	StopScan() error
	// BufferStatus returns the status byte and the number of samples
	// currently available to read.
	BufferStatus() (status uint8, count int, err error)
	// ReadBuffer reads up to max samples (not necessarily K-aligned; the
	// adapter truncates) and returns them interleaved.
	ReadBuffer(max int) ([]float64, error)
	Release() error
	LastError() error
}
