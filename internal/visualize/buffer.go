// Package visualize implements the Visualization Buffer (C3): it
// stride-downsamples incoming blocks and holds the latest samples for HTTP
// polling via GET /data.
package visualize

import (
	"sync"

	"daq/internal/metrics"
	"daq/internal/sample"
)

// Stride is the fixed downsampling factor: every Stride-th K-tuple is kept.
const Stride = 25

// QueueCapacity bounds Q_viz.
const QueueCapacity = 50000

// dropBatch is how many oldest entries are discarded to make room when
// Q_viz is full.
const dropBatch = 10

// Buffer is the Visualization Buffer. A single mutex guards both enqueue and
// drain so GET /data never observes a torn multi-chunk snapshot.
type Buffer struct {
	mu    sync.Mutex
	chunk [][]float64
	k     int
}

// New builds a Buffer for a run with k active channels.
func New(k int) *Buffer {
	return &Buffer{k: k}
}

// Deliver downsamples one incoming block and appends the kept K-tuples,
// evicting the oldest chunks if Q_viz is already at capacity.
func (b *Buffer) Deliver(block sample.Block) {
	if b.k <= 0 || len(block) == 0 {
		return
	}

	kept := make([]float64, 0, len(block)/Stride+b.k)
	tuples := len(block) / b.k
	for t := 0; t < tuples; t += Stride {
		start := t * b.k
		kept = append(kept, block[start:start+b.k]...)
	}
	if len(kept) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunk) >= QueueCapacity {
		n := dropBatch
		if n > len(b.chunk) {
			n = len(b.chunk)
		}
		b.chunk = b.chunk[n:]
		metrics.QueueDrops.WithLabelValues("viz").Add(float64(n))
	}
	b.chunk = append(b.chunk, kept)
}

// Drain atomically removes and concatenates every currently queued chunk,
// returning one flat float slice — the snapshot GET /data serves.
func (b *Buffer) Drain() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, c := range b.chunk {
		total += len(c)
	}
	out := make([]float64, 0, total)
	for _, c := range b.chunk {
		out = append(out, c...)
	}
	b.chunk = nil
	return out
}
