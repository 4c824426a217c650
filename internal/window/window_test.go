package window

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelhq/sentinel/internal/ingest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tx(t *testing.T, raw, account string, amount float64) ingest.Transaction {
	t.Helper()
	ts, err := time.Parse(ingest.TimeLayout, raw)
	require.NoError(t, err)
	return ingest.Transaction{Time: ts, RawTime: raw, AccountID: account, Amount: amount}
}

func collect(out *[]Aggregate) Emit {
	return func(agg Aggregate) { *out = append(*out, agg) }
}

func TestWindowSumCountHalfOpen(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 500))
	g.Observe(tx(t, "2025-01-15T10:30:00", "u101", 3000))
	// Drive the watermark past 11:00 so the [10:00, 11:00) window closes.
	g.Observe(tx(t, "2025-01-15T11:00:00", "u101", 1))

	var target *Aggregate
	for i := range got {
		if got[i].WindowEnd.Equal(time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)) {
			target = &got[i]
		}
	}
	require.NotNil(t, target, "window [10:00,11:00) must be emitted")

	// The 11:00:00 event is outside [10:00, 11:00): half-open on the right.
	assert.Equal(t, 3500.0, target.Sum)
	assert.Equal(t, 2, target.Count)
	assert.InDelta(t, 1750.0, target.VelocityAvg(), 0.001)
	assert.Equal(t, "2025-01-15T10:30:00", target.Latest.RawTime)
}

func TestPerAccountEmissionOrder(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 100))
	g.Observe(tx(t, "2025-01-15T10:05:00", "u202", 100))
	g.Observe(tx(t, "2025-01-15T10:20:00", "u101", 100))
	g.Observe(tx(t, "2025-01-15T11:30:00", "u202", 100))
	g.Flush()

	last := map[string]time.Time{}
	for _, agg := range got {
		prev, ok := last[agg.AccountID]
		if ok {
			assert.False(t, agg.WindowEnd.Before(prev),
				"account %s: window end %s before %s", agg.AccountID, agg.WindowEnd, prev)
		}
		last[agg.AccountID] = agg.WindowEnd
	}
}

func TestEvictionNoStaleWindows(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 500))
	// Jump the watermark far past the retention horizon.
	g.Observe(tx(t, "2025-01-15T13:00:00", "u101", 100))

	for _, agg := range got {
		if agg.WindowEnd.After(time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)) {
			assert.NotContains(t, []string{"2025-01-15T10:00:00"}, agg.Latest.RawTime,
				"the 10:00 event must not appear in windows past its horizon")
		}
	}

	// After the jump only the 13:00 event remains buffered; windows emitted
	// later must count it alone.
	g.Observe(tx(t, "2025-01-15T13:05:00", "u101", 50))
	for _, agg := range got {
		if agg.WindowEnd.After(time.Date(2025, 1, 15, 13, 0, 0, 0, time.UTC)) {
			assert.LessOrEqual(t, agg.Count, 2)
		}
	}
}

func TestLateEventIsSilentNoOp(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T12:00:00", "u101", 100))
	before := len(got)

	// Older than watermark minus the window duration: accepted, no effect.
	g.Observe(tx(t, "2025-01-15T10:30:00", "u101", 9999))
	assert.Equal(t, before, len(got), "late event must not emit or reopen windows")

	g.Flush()
	for _, agg := range got {
		assert.NotEqual(t, 9999.0, agg.Latest.Amount)
	}
}

func TestLatestSnapshotTieBreakIsLexicographic(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	// Identical timestamps: "999.000000" > "1000.000000" lexicographically,
	// so the 999 transaction wins even though 1000 is numerically larger.
	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 1000))
	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 999))
	g.Flush()

	require.NotEmpty(t, got)
	assert.Equal(t, 999.0, got[len(got)-1].Latest.Amount)
}

func TestLatestSnapshotTimestampDominates(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T10:00:00", "u101", 99999))
	g.Observe(tx(t, "2025-01-15T10:30:00", "u101", 1))
	g.Flush()

	require.NotEmpty(t, got)
	assert.Equal(t, "2025-01-15T10:30:00", got[len(got)-1].Latest.RawTime,
		"later timestamp wins regardless of amount")
}

func TestSnapshotTieBreakFieldsOrder(t *testing.T) {
	a := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Location: "Delhi"}
	b := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Location: "Mumbai"}
	assert.True(t, snapshotLess(a, b), "location breaks amount ties")

	c := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Location: "Delhi", Merchant: "Amazon"}
	d := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Location: "Delhi", Merchant: "Uber"}
	assert.True(t, snapshotLess(c, d), "merchant breaks location ties")

	e := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Status: "APPROVED"}
	f := ingest.Transaction{RawTime: "2025-01-15T10:00:00", Amount: 5, Status: "DECLINED"}
	assert.True(t, snapshotLess(e, f), "status is the final tie-break")
}

func TestVelocityAvgEmptyWindowIsZero(t *testing.T) {
	agg := Aggregate{}
	assert.Equal(t, 0.0, agg.VelocityAvg())
}

func TestIdempotentReplay(t *testing.T) {
	input := []struct {
		raw    string
		amount float64
	}{
		{"2025-01-15T10:00:00", 500},
		{"2025-01-15T10:02:00", 1200},
		{"2025-01-15T10:30:00", 3000},
		{"2025-01-15T11:05:00", 10},
	}

	run := func() []Aggregate {
		var got []Aggregate
		g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())
		for _, in := range input {
			g.Observe(tx(t, in.raw, "u101", in.amount))
		}
		g.Flush()
		return got
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "replaying the same input must re-emit identical aggregates")
}

func TestFlushEmitsPendingWindow(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())

	g.Observe(tx(t, "2025-01-15T10:00:30", "u101", 2500))
	assert.Empty(t, got, "nothing closes before the watermark reaches a boundary")

	g.Flush()
	require.Len(t, got, 1)
	assert.Equal(t, 2500.0, got[0].Sum)
	assert.Equal(t, 1, got[0].Count)
	assert.Equal(t, time.Date(2025, 1, 15, 10, 1, 0, 0, time.UTC), got[0].WindowEnd)
}

func TestFlushOnEmptyAggregatorIsNoOp(t *testing.T) {
	var got []Aggregate
	g := NewAggregator(60*time.Minute, time.Minute, collect(&got), testLogger())
	g.Flush()
	assert.Empty(t, got)
}

func TestHopGranularityIndependence(t *testing.T) {
	// The same window interval must yield the same sum/count regardless of
	// the hop used to reach it.
	input := []struct {
		raw    string
		amount float64
	}{
		{"2025-01-15T10:00:00", 500},
		{"2025-01-15T10:30:00", 3000},
		{"2025-01-15T11:00:00", 42},
	}

	sums := map[string]float64{}
	for name, hop := range map[string]time.Duration{"1m": time.Minute, "5m": 5 * time.Minute} {
		var got []Aggregate
		g := NewAggregator(60*time.Minute, hop, collect(&got), testLogger())
		for _, in := range input {
			g.Observe(tx(t, in.raw, "u101", in.amount))
		}
		for _, agg := range got {
			if agg.WindowEnd.Equal(time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)) {
				sums[name] = agg.Sum
				assert.Equal(t, 2, agg.Count, "hop %s", name)
			}
		}
	}
	assert.Equal(t, sums["1m"], sums["5m"])
}
