package alert

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// sinkFlushInterval is how often buffered alerts are published to disk.
const sinkFlushInterval = 500 * time.Millisecond

// sinkHeader is the fixed column order of the alert CSV.
var sinkHeader = []string{"time", "account_id", "amount", "velocity_avg_1h", "risk_level", "analysis"}

// Sink appends alerts to a CSV file. Rows are buffered in memory and
// published atomically: the whole file is rewritten to a temporary path and
// renamed over the destination, so a consumer never observes a partial row.
type Sink struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	rows  [][]string
	dirty bool

	stop chan struct{}
	done chan struct{}
}

// NewSink creates a CSV sink writing to path.
func NewSink(path string, logger *slog.Logger) *Sink {
	return &Sink{
		path:   path,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Append buffers one alert for publication. Never blocks on I/O.
func (s *Sink) Append(a *Alert) {
	row := []string{
		a.Time,
		a.AccountID,
		strconv.FormatFloat(a.Amount, 'f', 2, 64),
		strconv.FormatFloat(a.VelocityAvg, 'f', 2, 64),
		a.RiskLevel,
		a.Analysis(),
	}

	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.dirty = true
	s.mu.Unlock()
}

// Start publishes buffered rows on a ticker until the context is cancelled
// or Stop is called. A final publish runs before returning so nothing
// buffered is lost on shutdown.
func (s *Sink) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(sinkFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.publish()
			return
		case <-s.stop:
			s.publish()
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

// Stop signals the flush loop to publish remaining rows and exit, and waits
// for it to finish.
func (s *Sink) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Flush publishes synchronously. Exposed for deterministic tests and for
// callers running without the background loop.
func (s *Sink) Flush() error {
	return s.publish()
}

// Path returns the sink destination.
func (s *Sink) Path() string { return s.path }

// publish rewrites the destination atomically when there are unpublished rows.
func (s *Sink) publish() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	rows := make([][]string, len(s.rows))
	copy(rows, s.rows)
	s.dirty = false
	s.mu.Unlock()

	if err := writeAtomic(s.path, rows); err != nil {
		s.logger.Error("alert sink publish failed", "path", s.path, "error", err)
		// Leave dirty so the next tick retries.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// writeAtomic writes header+rows to a temp file in the destination
// directory and renames it into place.
func writeAtomic(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(sinkHeader); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("flush rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
