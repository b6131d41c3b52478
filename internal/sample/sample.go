// Package sample defines the Sample Block type shared across the pipeline
// so the device, queueing, sink, and visualization packages can reference it
// without forming import cycles among themselves.
package sample

// Block is an interleaved float sequence whose length is always a multiple
// of the active channel count K: [ch0, ch1, ..., ch(K-1), ch0, ch1, ...].
// Produced by the Device Adapter (C1), consumed by value-copy downstream.
type Block []float64
