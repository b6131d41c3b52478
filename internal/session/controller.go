package session

import (
	"context"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"sync"
	"time"

	"daq/internal/config"
	"daq/internal/csvsink"
	"daq/internal/daqerr"
	"daq/internal/device"
	"daq/internal/ingest"
	"daq/internal/metrics"
	"daq/internal/sample"
	"daq/internal/sqlsink"
	"daq/internal/telemetry"
	"daq/internal/visualize"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	dispatcherJoinTimeout = 2 * time.Second
	queueDrainTimeout     = 5 * time.Second
	queueDrainPoll        = 100 * time.Millisecond
	settleDelay           = 500 * time.Millisecond
	heartbeatPeriod       = 2 * time.Second
	heartbeatKey          = "daq:run:status"
)

// TransportFactory builds the device.Transport a run should use; production
// wiring supplies a func returning a fresh device.TCPTransport, tests supply
// one returning a device.SimTransport.
type TransportFactory func() device.Transport

// StartRequest is the body of POST /start.
type StartRequest struct {
	Label      string
	CSVEnabled bool
	SQLEnabled bool
	SQLConfig  *config.SQLConfig // optional; only UploadSeconds is read, the connection fields are not used
}

// StatusResponse is what GET /status reports.
type StatusResponse struct {
	IsCollecting bool      `json:"is_collecting"`
	Counter      int64     `json:"counter"`
	StartTime    time.Time `json:"start_time,omitempty"`
}

// Controller is the Session Controller (C6).
type Controller struct {
	mu  sync.Mutex
	run *RunContext

	cfg            *config.Store
	cfgDir         string
	outputRoot     string
	transportNew   TransportFactory
	pool           *pgxpool.Pool
	cache          *redis.Client
	log            *zap.Logger
}

// New builds a Controller. cfgDir is the directory holding the three INI
// files; outputRoot is `<root>/output/PET-7H24M`.
func New(cfg *config.Store, cfgDir, outputRoot string, transportNew TransportFactory, pool *pgxpool.Pool, cache *redis.Client, log *zap.Logger) *Controller {
	return &Controller{
		cfg:          cfg,
		cfgDir:       cfgDir,
		outputRoot:   outputRoot,
		transportNew: transportNew,
		pool:         pool,
		cache:        cache,
		log:          log,
	}
}

// Start validates the request, builds a fresh RunContext, and launches the
// worker pool in order: ingest dispatcher, CSV writer, SQL writer, then the
// device's own read loop.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, end := telemetry.StartSpan(ctx, "session.Start",
		attribute.String("label", req.Label),
		attribute.Bool("csv_enabled", req.CSVEnabled),
		attribute.Bool("sql_enabled", req.SQLEnabled))
	defer end()

	if c.run != nil && c.run.IsCollecting() {
		return daqerr.ErrAlreadyRunning
	}
	if req.Label == "" {
		return fmt.Errorf("%w: label is required", daqerr.ErrConfig)
	}
	if !req.CSVEnabled && !req.SQLEnabled {
		return fmt.Errorf("%w: at least one sink must be enabled", daqerr.ErrConfig)
	}

	dev := c.cfg.Device
	mask := channelMask(dev)
	k := bits.OnesCount8(mask)
	if k < 1 {
		return fmt.Errorf("%w: no channels enabled", daqerr.ErrConfig)
	}

	runStart := time.Now()
	runDirName := fmt.Sprintf("%s_%s", runStart.Format("20060102150405"), req.Label)
	runDir := filepath.Join(c.outputRoot, runDirName)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", daqerr.ErrFileIO, runDir, err)
	}

	targetCSV := c.cfg.CSV.RotationSeconds * dev.SampleRate * k
	targetSQL := (func() int {
		if req.SQLConfig != nil {
			return req.SQLConfig.UploadSeconds * dev.SampleRate * k
		}
		return c.cfg.SQL.UploadSeconds * dev.SampleRate * k
	})()

	rc := &RunContext{
		Label:         req.Label,
		CSVEnabled:    req.CSVEnabled,
		SQLEnabled:    req.SQLEnabled,
		StartTime:     runStart,
		K:             k,
		Channels:      activeChannels(dev),
		SampleRate:    dev.SampleRate,
		TargetSizeCSV: targetCSV,
		TargetSizeSQL: targetSQL,
		RunDir:        runDir,
		QViz:          visualize.New(k),
	}

	transport := c.transportNew()
	rc.Device = device.New(transport, c.log)
	if err := rc.Device.Init(ctx, device.Config{
		DeviceIP:   dev.DeviceIP,
		DevicePort: dev.DevicePort,
		Params: device.ScanParams{
			ChannelMask:     mask,
			SampleRate:      dev.SampleRate,
			Gain:            dev.Gain,
			TriggerMode:     dev.TriggerMode,
			TargetCount:     dev.TargetCount,
			DataTransMethod: dev.DataTransMethod,
			AutoRun:         dev.AutoRun,
		},
	}); err != nil {
		return err
	}

	var sqlUploader *sqlsink.Uploader
	if req.SQLEnabled {
		var err error
		sqlUploader, err = sqlsink.New(runDir, k, dev.SampleRate, targetSQL, runStart, c.pool, c.log)
		if err != nil {
			return err
		}
		rc.SQLUploader = sqlUploader
	}

	if req.CSVEnabled {
		var notifier csvsink.TableNotifier
		if sqlUploader != nil {
			notifier = sqlUploader
		}
		writer, err := csvsink.New(runDir, req.Label, k, dev.SampleRate, targetCSV, runStart, notifier, c.log)
		if err != nil {
			return err
		}
		rc.CSVWriter = writer
	} else if sqlUploader != nil {
		sqlUploader.EnableSyntheticTableNaming(runStart.Format("20060102150405"), req.Label, targetCSV/k)
	}

	if req.CSVEnabled {
		rc.QCSV = ingest.NewQueue[sample.Block](ingest.QueueCapacity, ingest.DropNewest)
	}
	if req.SQLEnabled {
		rc.QSQL = ingest.NewQueue[sample.Block](ingest.QueueCapacity, ingest.DropNewest)
	}

	rc.Dispatcher = ingest.NewDispatcher(rc.Device, &countingSink{rc: rc}, rc.QCSV, rc.QSQL, c.log)

	runCtx, cancel := context.WithCancel(context.Background())
	rc.cancel = cancel
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	rc.dispatcherCancel = dispatcherCancel
	rc.dispatcherDone = make(chan struct{})
	rc.csvDone = make(chan struct{})
	rc.sqlDone = make(chan struct{})
	rc.isCollecting.Store(true)

	go func() {
		defer close(rc.dispatcherDone)
		rc.Dispatcher.Run(dispatcherCtx)
	}()
	if rc.CSVWriter != nil {
		go c.runCSVWriter(rc)
	} else {
		close(rc.csvDone)
	}
	if rc.SQLUploader != nil {
		go c.runSQLWriter(rc)
	} else {
		close(rc.sqlDone)
	}
	go c.heartbeat(rc)

	if err := rc.Device.Start(runCtx, dev.TargetCount); err != nil {
		rc.isCollecting.Store(false)
		dispatcherCancel()
		cancel()
		return err
	}

	metrics.RunsStarted.Inc()
	c.run = rc
	return nil
}

// Stop flips is_collecting off, stops the device, and returns immediately;
// finalize runs in the background so long upload tails do not block the
// HTTP response.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()

	if rc == nil || !rc.IsCollecting() {
		return daqerr.ErrNotRunning
	}

	ctx, end := telemetry.StartSpan(ctx, "session.Stop", attribute.String("label", rc.Label))
	defer end()

	rc.isCollecting.Store(false)
	rc.Device.Stop()
	rc.dispatcherCancel()

	c.mu.Lock()
	if c.run == rc {
		c.run = nil
	}
	c.mu.Unlock()

	go c.finalize(rc)
	return nil
}

// Status reports the current run's activity flag and counter, or a stopped
// status if no run is active.
func (c *Controller) Status() StatusResponse {
	c.mu.Lock()
	rc := c.run
	c.mu.Unlock()
	if rc == nil {
		return StatusResponse{}
	}
	return StatusResponse{
		IsCollecting: rc.IsCollecting(),
		Counter:      rc.OverallCount(),
		StartTime:    rc.StartTime,
	}
}

// Viz returns the active run's visualization buffer, or nil if no run is
// active — GET /data uses this.
func (c *Controller) Viz() *visualize.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.QViz
}

func (c *Controller) runCSVWriter(rc *RunContext) {
	defer close(rc.csvDone)
	for {
		block, ok := rc.QCSV.Pop()
		if ok {
			if err := rc.CSVWriter.WriteBlock(block); err != nil {
				c.log.Error("csv writer error", zap.Error(err))
			}
			continue
		}
		if !rc.IsCollecting() {
			return
		}
		time.Sleep(queueDrainPoll)
	}
}

func (c *Controller) runSQLWriter(rc *RunContext) {
	defer close(rc.sqlDone)
	ctx := context.Background()
	for {
		block, ok := rc.QSQL.Pop()
		if ok {
			if err := rc.SQLUploader.WriteBlock(ctx, block); err != nil {
				c.log.Error("sql writer error", zap.Error(err))
			}
			continue
		}
		if !rc.IsCollecting() {
			return
		}
		time.Sleep(queueDrainPoll)
	}
}

// heartbeat mirrors is_collecting and the ingest counter into Redis every
// heartbeatPeriod so the run's status is observable externally. This is
// read-only observability, not cross-process coordination of the pipeline
// itself — this remains a single writer process throughout. It reports
// once more after the run stops, then exits.
func (c *Controller) heartbeat(rc *RunContext) {
	if c.cache == nil {
		return
	}
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.publishHeartbeat(rc)
		if !rc.IsCollecting() {
			return
		}
	}
}

func (c *Controller) publishHeartbeat(rc *RunContext) {
	status := "stopped"
	if rc.IsCollecting() {
		status = "running"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.cache.HSet(ctx, heartbeatKey, map[string]interface{}{
		"label":   rc.Label,
		"status":  status,
		"counter": rc.OverallCount(),
	})
}

// finalize implements the five-step drain protocol.
func (c *Controller) finalize(rc *RunContext) {
	ctx, end := telemetry.StartSpan(context.Background(), "session.finalize", attribute.String("label", rc.Label))
	defer end()

	waitWithTimeout(rc.dispatcherDone, dispatcherJoinTimeout)

	if rc.QCSV != nil {
		waitQueueEmpty(rc.QCSV, queueDrainTimeout)
	}
	waitWithTimeout(rc.csvDone, queueDrainTimeout)

	if rc.QSQL != nil {
		waitQueueEmpty(rc.QSQL, queueDrainTimeout)
	}
	waitWithTimeout(rc.sqlDone, queueDrainTimeout)

	time.Sleep(settleDelay)

	if rc.SQLUploader != nil {
		if err := rc.SQLUploader.DrainRemaining(ctx); err != nil {
			c.log.Error("finalize: draining sql staging files failed", zap.Error(err))
		}
	}

	if rc.CSVWriter != nil {
		if err := rc.CSVWriter.Close(); err != nil {
			c.log.Error("finalize: closing csv writer failed", zap.Error(err))
		}
	}

	rc.cancel()
	_ = rc.Device.Release()
	metrics.RunsFinalized.Inc()
}

func waitWithTimeout(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

func waitQueueEmpty[T any](q *ingest.Queue[T], timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if q.Len() == 0 {
			return
		}
		time.Sleep(queueDrainPoll)
	}
}

// countingSink wraps the run's visualization buffer so the dispatcher's
// synchronous delivery also advances the UI-facing overall sample counter.
type countingSink struct {
	rc *RunContext
}

func (s *countingSink) Deliver(block sample.Block) {
	s.rc.overallCount.Add(int64(len(block)))
	s.rc.QViz.Deliver(block)
}

func channelMask(d config.DeviceConfig) uint8 {
	var mask uint8
	for i, enabled := range d.EnableAI {
		if enabled {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func activeChannels(d config.DeviceConfig) []int {
	var out []int
	for i, enabled := range d.EnableAI {
		if enabled {
			out = append(out, i)
		}
	}
	return out
}
