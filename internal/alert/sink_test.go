package alert

import (
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sinkLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSinkWritesFixedColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suspicious_alerts.csv")
	s := NewSink(path, sinkLogger())

	s.Append(sample("alrt_1", "u101"))
	require.NoError(t, s.Flush())

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"time", "account_id", "amount", "velocity_avg_1h", "risk_level", "analysis"}, rows[0])
	assert.Equal(t, []string{
		"2025-01-15T10:30:00",
		"u101",
		"3000.00",
		"1750.00",
		"",
		"verdict=SUSPICIOUS || Single transaction $3000.00 exceeded threshold.",
	}, rows[1])
}

func TestSinkAccumulatesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.csv")
	s := NewSink(path, sinkLogger())

	s.Append(sample("alrt_1", "u101"))
	require.NoError(t, s.Flush())
	s.Append(sample("alrt_2", "u202"))
	require.NoError(t, s.Flush())

	rows := readRows(t, path)
	assert.Len(t, rows, 3) // header + 2 alerts
}

func TestSinkPublishIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.csv")
	s := NewSink(path, sinkLogger())

	s.Append(sample("alrt_1", "u101"))
	require.NoError(t, s.Flush())

	// No temp leftovers after publish.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alerts.csv", entries[0].Name())
}

func TestSinkFlushWithoutRowsIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.csv")
	s := NewSink(path, sinkLogger())

	require.NoError(t, s.Flush())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no file until the first alert")
}
