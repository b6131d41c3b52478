package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"daq/internal/config"
	"daq/internal/daqerr"
	"daq/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Store {
	return &config.Store{
		Device: config.DeviceConfig{
			DeviceIP:   "127.0.0.1",
			DevicePort: 0,
			SampleRate: 1000,
			EnableAI:   [4]bool{true, true, false, false},
		},
		CSV: config.CSVConfig{RotationSeconds: 3600},
		SQL: config.SQLConfig{UploadSeconds: 2},
	}
}

func simFactory() TransportFactory {
	return func() device.Transport { return device.NewSimTransport() }
}

// Start/Stop/Status are exercised against a SimTransport and nil Postgres/
// Redis handles, the same "construct with nil externals, never touch the
// path that would dereference them" approach internal/sqlsink's tests use.
func TestControllerStartStopLifecycle(t *testing.T) {
	cfg := testConfig()
	outputRoot := t.TempDir()
	ctrl := New(cfg, t.TempDir(), outputRoot, simFactory(), nil, nil, zap.NewNop())

	require.NoError(t, ctrl.Start(context.Background(), StartRequest{Label: "run1", CSVEnabled: true}))

	status := ctrl.Status()
	assert.True(t, status.IsCollecting, "Status().IsCollecting right after Start")

	err := ctrl.Start(context.Background(), StartRequest{Label: "run2", CSVEnabled: true})
	assert.ErrorIs(t, err, daqerr.ErrAlreadyRunning)

	stopStart := time.Now()
	require.NoError(t, ctrl.Stop(context.Background()))
	assert.Less(t, time.Since(stopStart), 50*time.Millisecond, "Stop() must return immediately; finalize runs in the background")

	// Stop clears the active run synchronously; finalize continues in the
	// background, but Status must reflect "no run" immediately.
	status = ctrl.Status()
	assert.False(t, status.IsCollecting, "Status().IsCollecting right after Stop")

	time.Sleep(50 * time.Millisecond) // let finalize's goroutine settle before TempDir cleanup
}

// finalize must close the CSV writer and leave a readable file behind
// within a bounded time of Stop() returning.
func TestControllerFinalizeClosesCSVFile(t *testing.T) {
	cfg := testConfig()
	outputRoot := t.TempDir()
	ctrl := New(cfg, t.TempDir(), outputRoot, simFactory(), nil, nil, zap.NewNop())

	require.NoError(t, ctrl.Start(context.Background(), StartRequest{Label: "drain1", CSVEnabled: true}))
	time.Sleep(20 * time.Millisecond) // let a few blocks flow through the dispatcher
	require.NoError(t, ctrl.Stop(context.Background()))

	// finalize's bounded waits (dispatcher join, queue drain, settle delay)
	// are all well under a second with no backlog; give it generous room.
	time.Sleep(2 * time.Second)

	runDirs, err := filepath.Glob(filepath.Join(outputRoot, "*_drain1"))
	require.NoError(t, err)
	require.Len(t, runDirs, 1)

	csvFiles, err := filepath.Glob(filepath.Join(runDirs[0], "*.csv"))
	require.NoError(t, err)
	assert.NotEmpty(t, csvFiles, "finalize should leave at least one CSV file behind")
}

func TestControllerStopWithoutRunReturnsErrNotRunning(t *testing.T) {
	ctrl := New(testConfig(), t.TempDir(), t.TempDir(), simFactory(), nil, nil, zap.NewNop())

	err := ctrl.Stop(context.Background())
	assert.ErrorIs(t, err, daqerr.ErrNotRunning)
}

func TestControllerStartRejectsNoSinksEnabled(t *testing.T) {
	ctrl := New(testConfig(), t.TempDir(), t.TempDir(), simFactory(), nil, nil, zap.NewNop())

	err := ctrl.Start(context.Background(), StartRequest{Label: "run1"})
	assert.ErrorIs(t, err, daqerr.ErrConfig)
}

func TestControllerStartRejectsEmptyLabel(t *testing.T) {
	ctrl := New(testConfig(), t.TempDir(), t.TempDir(), simFactory(), nil, nil, zap.NewNop())

	err := ctrl.Start(context.Background(), StartRequest{CSVEnabled: true})
	assert.ErrorIs(t, err, daqerr.ErrConfig)
}

func TestControllerStatusIsZeroValueWithNoRun(t *testing.T) {
	ctrl := New(testConfig(), t.TempDir(), t.TempDir(), simFactory(), nil, nil, zap.NewNop())

	status := ctrl.Status()
	assert.False(t, status.IsCollecting)
	assert.Zero(t, status.Counter)
	assert.Nil(t, ctrl.Viz())
}
