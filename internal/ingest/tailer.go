package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/metrics"
)

// Handler receives each parsed transaction.
type Handler func(tx Transaction)

// Tailer polls the transaction stream file and feeds appended rows to a
// handler. Rows already consumed are never re-read: the tailer tracks its
// byte offset and only parses complete lines past it.
type Tailer struct {
	path         string
	pollInterval time.Duration
	parser       Parser
	handler      Handler
	logger       *slog.Logger

	offset int64

	stop chan struct{}
	done chan struct{}
}

// NewTailer creates a tailer for the transaction stream at path.
func NewTailer(path string, pollInterval time.Duration, parser Parser, handler Handler, logger *slog.Logger) *Tailer {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Tailer{
		path:         path,
		pollInterval: pollInterval,
		parser:       parser,
		handler:      handler,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start polls until the context is cancelled or Stop is called. It drains
// whatever is already in the file before the first sleep, so bounded replays
// are processed immediately.
func (t *Tailer) Start(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.drain()
		}
	}
}

// Stop signals the tailer to exit and waits for the poll loop to finish.
func (t *Tailer) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

// drain reads and dispatches all complete lines past the current offset.
func (t *Tailer) drain() {
	f, err := os.Open(t.path)
	if err != nil {
		t.logger.Error("open transaction stream", "path", t.path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		t.logger.Error("stat transaction stream", "path", t.path, "error", err)
		return
	}
	if info.Size() < t.offset {
		// Source was truncated or replaced; start over rather than miss rows.
		t.logger.Warn("transaction stream shrank, resetting offset",
			"path", t.path, "size", info.Size(), "offset", t.offset)
		t.offset = 0
	}
	if info.Size() == t.offset {
		return
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		t.logger.Error("seek transaction stream", "error", err)
		return
	}

	buf, err := io.ReadAll(f)
	if err != nil {
		t.logger.Error("read transaction stream", "error", err)
		return
	}

	// Only consume up to the last newline: a producer may be mid-append.
	last := strings.LastIndexByte(string(buf), '\n')
	if last < 0 {
		return
	}
	chunk := string(buf[:last+1])
	t.offset += int64(last + 1)

	r := csv.NewReader(strings.NewReader(chunk))
	r.FieldsPerRecord = -1 // tolerate ragged rows; the parser validates
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.logger.Warn("malformed csv row skipped", "error", err)
			continue
		}
		t.dispatch(fields)
	}
}

func (t *Tailer) dispatch(fields []string) {
	// Skip a header row if the producer wrote one.
	if len(fields) > 0 && strings.EqualFold(strings.TrimSpace(fields[0]), "time") {
		return
	}

	metrics.EventsIngestedTotal.Inc()

	tx, err := t.parser.Parse(fields)
	switch {
	case errors.Is(err, ErrBadTimestamp):
		metrics.ParseFailuresTotal.WithLabelValues("timestamp").Inc()
		t.logger.Debug("record excluded from windowing", "reason", "timestamp", "fields", fields)
		return
	case errors.Is(err, ErrBadAmount):
		metrics.ParseFailuresTotal.WithLabelValues("amount").Inc()
		t.logger.Debug("record excluded from windowing", "reason", "amount", "fields", fields)
		return
	case err != nil:
		metrics.ParseFailuresTotal.WithLabelValues("record").Inc()
		t.logger.Debug("record unusable", "error", err)
		return
	}

	if tx.AmountCoerced {
		metrics.ParseFailuresTotal.WithLabelValues("amount").Inc()
	}

	t.handler(tx)
}
