// Package csvsink implements the CSV Rolling Writer (C4): it writes
// timestamped rows to a rotating set of CSV files, with an exact per-sample
// timestamp law that stays continuous across rotations.
package csvsink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"daq/internal/daqerr"
	"daq/internal/metrics"
	"daq/internal/sample"

	"go.uber.org/zap"
)

const (
	bufferSize  = 128 * 1024
	flushPeriod = time.Second
)

// TableNotifier receives the basename of each rotated CSV file so the SQL
// Staging Uploader (C5) can target the same table name, breaking the cyclic
// reference: C4 pushes, C5 never reaches back.
type TableNotifier interface {
	PrepareTable(basename string)
}

// Writer is the CSV Rolling Writer. One Writer is owned exclusively by its
// run; no other worker mutates its file handle.
type Writer struct {
	mu sync.Mutex

	runDir     string
	label      string
	runStartTS string // formatted once, reused in every rotated filename
	k          int
	sampleRate int
	runStart   time.Time
	targetSize int // target_size_csv, in raw (interleaved) samples

	notifier TableNotifier
	log      *zap.Logger

	file         *os.File
	buf          *bufio.Writer
	fileCounter  int
	currentSize  int // csv_current_size
	globalRows   int64
	lastFlush    time.Time
	currentBase  string
}

// New creates the Writer and opens the first rotated file.
func New(runDir, label string, k, sampleRate, targetSize int, runStart time.Time, notifier TableNotifier, log *zap.Logger) (*Writer, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", daqerr.ErrFileIO, runDir, err)
	}
	w := &Writer{
		runDir:     runDir,
		label:      label,
		runStartTS: runStart.Format("20060102150405"),
		k:          k,
		sampleRate: sampleRate,
		runStart:   runStart,
		targetSize: targetSize,
		notifier:   notifier,
		log:        log,
	}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteBlock writes as many rows from block as fit before the current
// rotation threshold, rotating as many times as necessary for the
// remainder, per the K-aligned split algorithm.
func (w *Writer) WriteBlock(block sample.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(block)
	offset := 0
	for offset < n {
		remaining := n - offset
		if w.currentSize+remaining < w.targetSize {
			if err := w.writeRows(block[offset:]); err != nil {
				return err
			}
			w.currentSize += remaining
			offset = n
			break
		}

		emptySpace := w.targetSize - w.currentSize
		emptySpace -= emptySpace % w.k
		if emptySpace > 0 {
			if err := w.writeRows(block[offset : offset+emptySpace]); err != nil {
				return err
			}
			offset += emptySpace
		}
		if err := w.rotate(); err != nil {
			return err
		}
		w.currentSize = 0
	}
	return w.maybeFlush()
}

// writeRows formats and writes len(chunk)/k rows, advancing the global row
// counter that drives the exact timestamp law.
func (w *Writer) writeRows(chunk sample.Block) error {
	tuples := len(chunk) / w.k
	for t := 0; t < tuples; t++ {
		ts := w.runStart.Add(time.Duration(float64(w.globalRows) / float64(w.sampleRate) * float64(time.Second)))
		if _, err := fmt.Fprintf(w.buf, "%s", ts.Format("2006-01-02 15:04:05.000000")); err != nil {
			return w.ioErr(err)
		}
		for c := 0; c < w.k; c++ {
			if _, err := fmt.Fprintf(w.buf, ",%g", chunk[t*w.k+c]); err != nil {
				return w.ioErr(err)
			}
		}
		if _, err := w.buf.WriteString("\n"); err != nil {
			return w.ioErr(err)
		}
		w.globalRows++
		metrics.CSVRowsWritten.Inc()
	}
	return nil
}

func (w *Writer) ioErr(err error) error {
	w.log.Error("csv write failed", zap.Error(err))
	return fmt.Errorf("%w: %v", daqerr.ErrFileIO, err)
}

func (w *Writer) maybeFlush() error {
	if time.Since(w.lastFlush) < flushPeriod {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return w.ioErr(err)
	}
	w.lastFlush = time.Now()
	return nil
}

// rotate closes (flush+fsync) the current file if any, then opens the next
// one, writes its header, and notifies C5.
func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.closeCurrent(); err != nil {
			return err
		}
	}
	w.fileCounter++
	base := fmt.Sprintf("%s_%s_%03d", w.runStartTS, w.label, w.fileCounter)
	path := filepath.Join(w.runDir, base+".csv")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", daqerr.ErrFileIO, path, err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, bufferSize)
	w.lastFlush = time.Now()
	w.currentBase = base

	header := "Timestamp"
	for c := 1; c <= w.k; c++ {
		header += fmt.Sprintf(",Channel_%d", c)
	}
	if _, err := w.buf.WriteString(header + "\n"); err != nil {
		return w.ioErr(err)
	}

	metrics.CSVRotations.Inc()
	if w.notifier != nil {
		w.notifier.PrepareTable(base)
	}
	return nil
}

func (w *Writer) closeCurrent() error {
	if err := w.buf.Flush(); err != nil {
		return w.ioErr(err)
	}
	if err := w.file.Sync(); err != nil {
		return w.ioErr(err)
	}
	return w.file.Close()
}

// Close flushes, fsyncs, and closes the current file — the last step of the
// finalize drain protocol.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.closeCurrent()
	w.file = nil
	return err
}

// CurrentBasename reports the basename (without extension) of the file
// currently being written.
func (w *Writer) CurrentBasename() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentBase
}
