package device

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAdapterNSampleModeStopsAtTargetCount(t *testing.T) {
	a := New(NewSimTransport(), zap.NewNop())

	cfg := Config{
		DeviceIP:   "127.0.0.1",
		DevicePort: 0,
		Params: ScanParams{
			ChannelMask: 0b0011, // k=2
			SampleRate:  1000,
			TargetCount: 50,
		},
	}
	if err := a.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if a.K() != 2 {
		t.Fatalf("K() = %d, want 2", a.K())
	}

	if err := a.Start(context.Background(), cfg.Params.TargetCount); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not terminate after reaching target count")
	}

	if err := a.FatalErr(); err != nil {
		t.Fatalf("FatalErr() = %v, want nil after a clean N-Sample completion", err)
	}

	total := 0
	for {
		block := a.GetBlock()
		if block == nil {
			break
		}
		total += len(block)
	}
	if total != cfg.Params.TargetCount {
		t.Fatalf("total samples queued = %d, want %d (target_count is a raw interleaved-sample count)", total, cfg.Params.TargetCount)
	}
}

func TestAdapterInitRejectsEmptyChannelMask(t *testing.T) {
	a := New(NewSimTransport(), zap.NewNop())
	err := a.Init(context.Background(), Config{Params: ScanParams{ChannelMask: 0, SampleRate: 1000}})
	if err == nil {
		t.Fatal("Init() with no channels enabled should return an error")
	}
}
