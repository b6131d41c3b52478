// Package sqlsink implements the SQL Staging Uploader (C5): it appends rows
// to a staging CSV file and, once it reaches target_size_sql, bulk-loads the
// file into Postgres and rotates to a fresh staging file.
package sqlsink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"daq/internal/daqerr"
	"daq/internal/metrics"
	"daq/internal/sample"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// State is the per-run SQL Staging Uploader state machine:
// Idle -> Staging -> Uploading -> Staging ... -> Draining -> Done.
type State int

const (
	Idle State = iota
	Staging
	Uploading
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Staging:
		return "staging"
	case Uploading:
		return "uploading"
	case Draining:
		return "draining"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// stagingRow is one buffered row awaiting bulk COPY.
type stagingRow struct {
	ts      time.Time
	columns []float64
}

// Uploader is the SQL Staging Uploader (C5).
type Uploader struct {
	mu sync.Mutex

	stagingDir string
	k          int
	sampleRate int
	runStart   time.Time
	targetSize int

	pool *pgxpool.Pool
	log  *zap.Logger
	// uploadFn defaults to uploadRows; tests substitute a fake to exercise
	// rotation without a live pool.
	uploadFn func(ctx context.Context, pool *pgxpool.Pool, table string, rows []stagingRow) error

	state       State
	currentSize int // sql_current_size
	globalRows  int64

	file    *os.File
	buf     *bufio.Writer
	rows    []stagingRow
	stagingPath string

	tableMu   sync.Mutex
	tableName string

	syntheticPrefix    string
	syntheticLabel     string
	syntheticRotation  int // rows per synthetic rotation, 0 disables
	syntheticCounter   int
	syntheticLastBound int64
}

// New creates the staging directory, opens the first staging file with a
// header matching C4's, and transitions to Staging.
func New(runDir string, k, sampleRate, targetSize int, runStart time.Time, pool *pgxpool.Pool, log *zap.Logger) (*Uploader, error) {
	stagingDir := filepath.Join(runDir, ".sql_temp")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", daqerr.ErrFileIO, stagingDir, err)
	}
	u := &Uploader{
		stagingDir: stagingDir,
		k:          k,
		sampleRate: sampleRate,
		runStart:   runStart,
		targetSize: targetSize,
		pool:       pool,
		log:        log,
		uploadFn:   uploadRows,
		tableName:  runStart.Format("20060102150405") + "_default",
	}
	if err := u.openStagingFile(); err != nil {
		return nil, err
	}
	u.state = Staging
	return u, nil
}

// PrepareTable is called by C4 after each CSV rotation with the new file's
// basename, which becomes the next SQL target table. This is the one-way
// read-only push used to break the C4/C5 cyclic reference.
func (u *Uploader) PrepareTable(basename string) {
	u.tableMu.Lock()
	defer u.tableMu.Unlock()
	u.tableName = basename
}

// EnableSyntheticTableNaming turns on table-name rotation driven by this
// uploader's own row counter instead of CSV rotation notifications, for runs
// with CSV disabled and SQL enabled. rotationRows should equal the
// row-count equivalent of target_size_csv so the naming cadence matches
// what CSV would have produced.
func (u *Uploader) EnableSyntheticTableNaming(tsPrefix, label string, rotationRows int) {
	u.tableMu.Lock()
	defer u.tableMu.Unlock()
	u.syntheticPrefix = tsPrefix
	u.syntheticLabel = label
	u.syntheticRotation = rotationRows
	u.syntheticCounter = 1
	u.tableName = fmt.Sprintf("%s_%s_%03d", tsPrefix, label, u.syntheticCounter)
}

func (u *Uploader) maybeAdvanceSyntheticName() {
	u.tableMu.Lock()
	defer u.tableMu.Unlock()
	if u.syntheticRotation <= 0 {
		return
	}
	for u.globalRows-u.syntheticLastBound >= int64(u.syntheticRotation) {
		u.syntheticLastBound += int64(u.syntheticRotation)
		u.syntheticCounter++
		u.tableName = fmt.Sprintf("%s_%s_%03d", u.syntheticPrefix, u.syntheticLabel, u.syntheticCounter)
	}
}

func (u *Uploader) currentTableName() string {
	u.tableMu.Lock()
	defer u.tableMu.Unlock()
	return u.tableName
}

// WriteBlock appends block's samples to the staging file, rotating and
// bulk-uploading as the target threshold is crossed, carrying any excess
// into the newly opened file.
func (u *Uploader) WriteBlock(ctx context.Context, block sample.Block) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	offset := 0
	n := len(block)
	for offset < n {
		if u.currentSize >= u.targetSize {
			if !u.tryUpload(ctx) {
				remainder := n - offset
				if err := u.appendRows(block[offset : offset+remainder]); err != nil {
					return err
				}
				u.currentSize += remainder
				offset += remainder
				continue
			}
			continue
		}

		remaining := u.targetSize - u.currentSize
		toWrite := n - offset
		if toWrite > remaining {
			toWrite = remaining
		}
		if err := u.appendRows(block[offset : offset+toWrite]); err != nil {
			return err
		}
		u.currentSize += toWrite
		offset += toWrite
	}
	return nil
}

func (u *Uploader) appendRows(chunk sample.Block) error {
	tuples := len(chunk) / u.k
	for t := 0; t < tuples; t++ {
		ts := u.runStart.Add(time.Duration(float64(u.globalRows) / float64(u.sampleRate) * float64(time.Second)))
		cols := make([]float64, u.k)
		copy(cols, chunk[t*u.k:(t+1)*u.k])

		if _, err := fmt.Fprintf(u.buf, "%s", ts.Format(time.RFC3339Nano)); err != nil {
			return u.ioErr(err)
		}
		for _, v := range cols {
			if _, err := fmt.Fprintf(u.buf, ",%g", v); err != nil {
				return u.ioErr(err)
			}
		}
		if _, err := u.buf.WriteString("\n"); err != nil {
			return u.ioErr(err)
		}

		u.rows = append(u.rows, stagingRow{ts: ts, columns: cols})
		u.globalRows++
	}
	u.maybeAdvanceSyntheticName()
	return u.buf.Flush()
}

func (u *Uploader) ioErr(err error) error {
	u.log.Error("sql staging write failed", zap.Error(err))
	return fmt.Errorf("%w: %v", daqerr.ErrFileIO, err)
}

// tryUpload attempts to bulk-load the current staging file and rotate.
// Reports whether it succeeded; on failure the uploader remains in Staging
// against the same file for a later retry.
func (u *Uploader) tryUpload(ctx context.Context) bool {
	u.state = Uploading
	start := time.Now()

	table := u.currentTableName()
	err := u.uploadFn(ctx, u.pool, table, u.rows)
	metrics.SQLUploadDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SQLUploads.WithLabelValues("failure").Inc()
		u.log.Error("sql upload failed, retaining staging file",
			zap.String("table", table), zap.Error(err))
		u.state = Staging
		return false
	}
	metrics.SQLUploads.WithLabelValues("success").Inc()

	if err := u.closeAndRemoveStaging(); err != nil {
		u.log.Error("failed to remove uploaded staging file", zap.Error(err))
	}
	if err := u.openStagingFile(); err != nil {
		u.log.Error("failed to open new staging file after upload", zap.Error(err))
		u.state = Staging
		return false
	}
	u.currentSize = 0
	u.rows = u.rows[:0]
	u.state = Staging
	return true
}

func (u *Uploader) openStagingFile() error {
	path := filepath.Join(u.stagingDir, fmt.Sprintf("staging_%d.csv", time.Now().UnixNano()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", daqerr.ErrFileIO, path, err)
	}
	u.file = f
	u.buf = bufio.NewWriterSize(f, 128*1024)
	u.stagingPath = path

	header := "Timestamp"
	for c := 1; c <= u.k; c++ {
		header += fmt.Sprintf(",Channel_%d", c)
	}
	if _, err := u.buf.WriteString(header + "\n"); err != nil {
		return u.ioErr(err)
	}
	return u.buf.Flush()
}

func (u *Uploader) closeAndRemoveStaging() error {
	if u.file == nil {
		return nil
	}
	_ = u.buf.Flush()
	_ = u.file.Sync()
	path := u.stagingPath
	_ = u.file.Close()
	u.file = nil
	return os.Remove(path)
}

// DrainRemaining is finalize step 5: it uploads the rows of the current
// staging file, then deletes every file in .sql_temp and the directory
// itself. Only the current file's rows are uploaded; any other file in
// .sql_temp is deleted without being read, and the current file is deleted
// even when its upload failed.
func (u *Uploader) DrainRemaining(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.state = Draining
	if len(u.rows) > 0 {
		table := u.currentTableName()
		if err := u.uploadFn(ctx, u.pool, table, u.rows); err != nil {
			u.log.Error("finalize: upload of current staging file failed", zap.Error(err))
		} else {
			_ = u.closeAndRemoveStaging()
		}
	} else {
		_ = u.closeAndRemoveStaging()
	}

	entries, err := os.ReadDir(u.stagingDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			_ = os.Remove(filepath.Join(u.stagingDir, e.Name()))
		}
	}
	_ = os.Remove(u.stagingDir)

	u.state = Done
	return nil
}

// State reports the current lifecycle state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}
