package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"daq/internal/sample"

	"go.uber.org/zap"
)

type fakeSource struct {
	mu     sync.Mutex
	blocks []sample.Block
}

func (f *fakeSource) GetBlock() sample.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.blocks) == 0 {
		return nil
	}
	b := f.blocks[0]
	f.blocks = f.blocks[1:]
	return b
}

func (f *fakeSource) push(b sample.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, b)
}

type fakeSink struct {
	mu        sync.Mutex
	delivered int
}

func (f *fakeSink) Deliver(block sample.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered++
}

func TestDispatcherFansOutToVizAndQueues(t *testing.T) {
	src := &fakeSource{}
	src.push(sample.Block{1, 2, 3, 4})

	viz := &fakeSink{}
	qCSV := NewQueue[sample.Block](10, DropNewest)
	qSQL := NewQueue[sample.Block](10, DropNewest)

	d := NewDispatcher(src, viz, qCSV, qSQL, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	viz.mu.Lock()
	delivered := viz.delivered
	viz.mu.Unlock()
	if delivered != 1 {
		t.Fatalf("viz delivered count = %d, want 1", delivered)
	}
	if qCSV.Len() != 1 {
		t.Fatalf("Q_csv len = %d, want 1", qCSV.Len())
	}
	if qSQL.Len() != 1 {
		t.Fatalf("Q_sql len = %d, want 1", qSQL.Len())
	}
}

func TestDispatcherSkipsDisabledSinks(t *testing.T) {
	src := &fakeSource{}
	src.push(sample.Block{1, 2})

	viz := &fakeSink{}
	d := NewDispatcher(src, viz, nil, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d.Run(ctx) // must not panic on nil qCSV/qSQL

	viz.mu.Lock()
	delivered := viz.delivered
	viz.mu.Unlock()
	if delivered != 1 {
		t.Fatalf("viz delivered count = %d, want 1", delivered)
	}
}
