package visualize

import (
	"testing"

	"daq/internal/sample"
)

func TestBufferDeliverStrideDownsamples(t *testing.T) {
	b := New(2)
	block := make(sample.Block, 0, 50*2)
	for i := 0; i < 50; i++ {
		block = append(block, float64(i), float64(i)+0.5)
	}
	b.Deliver(block)

	got := b.Drain()
	wantTuples := 50 / Stride
	if len(got) != wantTuples*2 {
		t.Fatalf("Drain() length = %d, want %d", len(got), wantTuples*2)
	}
	if got[0] != 0 || got[1] != 0.5 {
		t.Fatalf("first kept tuple = (%v, %v), want (0, 0.5)", got[0], got[1])
	}
}

func TestBufferDrainIsAtomicSnapshotAndClears(t *testing.T) {
	b := New(1)
	b.Deliver(make(sample.Block, Stride))

	first := b.Drain()
	if len(first) == 0 {
		t.Fatal("expected at least one kept tuple from Drain()")
	}
	second := b.Drain()
	if len(second) != 0 {
		t.Fatalf("Drain() after a prior Drain() = %v, want empty", second)
	}
}

func TestBufferDeliverIgnoresEmptyOrUnconfiguredK(t *testing.T) {
	b := New(0)
	b.Deliver(sample.Block{1, 2, 3})
	if got := b.Drain(); len(got) != 0 {
		t.Fatalf("Drain() with k=0 = %v, want empty", got)
	}
}

func TestBufferEvictsOldestChunksOnOverflow(t *testing.T) {
	b := New(1)
	for i := 0; i < QueueCapacity+dropBatch+1; i++ {
		b.Deliver(make(sample.Block, Stride))
	}
	if len(b.chunk) > QueueCapacity {
		t.Fatalf("chunk count = %d, want <= %d after overflow eviction", len(b.chunk), QueueCapacity)
	}
}
