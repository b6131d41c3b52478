// Package daqerr defines the sentinel error values shared across component
// boundaries, so every package — device, csvsink, sqlsink, session,
// httpapi — reports failures through the same typed values instead of ad
// hoc string errors, and httpapi's error table can classify any of them
// with a single errors.Is check.
package daqerr

import "errors"

var (
	// ErrConfig: start-time misconfiguration (empty label, no sinks
	// enabled, invalid channel mask).
	ErrConfig = errors.New("invalid run configuration")
	// ErrDeviceInit: device session open/configure failure.
	ErrDeviceInit = errors.New("device initialization failed")
	// ErrDeviceOverflow: status bit 0x02, fatal for the run.
	ErrDeviceOverflow = errors.New("device reported buffer overflow")
	// ErrTransientRead: five consecutive device read failures.
	ErrTransientRead = errors.New("transient device read error")
	// ErrQueueFull: a sink queue dropped a block; never fatal.
	ErrQueueFull = errors.New("queue full")
	// ErrFileIO: a CSV write/rotation failed.
	ErrFileIO = errors.New("file i/o error")
	// ErrUpload: an SQL staging-file bulk load failed.
	ErrUpload = errors.New("sql upload failed")
	// ErrPathEscape: an HTTP file path escaped the output sandbox.
	ErrPathEscape = errors.New("path escapes output root")
	// ErrAlreadyRunning / ErrNotRunning: session lifecycle misuse.
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNotRunning     = errors.New("no run in progress")
)
