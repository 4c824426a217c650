// Package window maintains per-account sliding-window statistics over the
// transaction stream.
//
// Windows have a fixed duration D and advance in fixed hops H. The watermark
// is event time: the maximum parsed timestamp observed so far. A window
// [end-D, end) closes, and its aggregate is emitted, once the watermark
// reaches end.
package window

import (
	"time"

	"github.com/sentinelhq/sentinel/internal/ingest"
)

// Epsilon keeps velocity averages total without distorting the ratio for
// any realistic count.
const Epsilon = 1e-9

// Aggregate is the statistics for one (account, window) pair: the sum and
// count over transactions whose timestamp falls in [WindowStart, WindowEnd),
// plus the snapshot of the maximal contributing transaction.
type Aggregate struct {
	AccountID   string
	WindowStart time.Time
	WindowEnd   time.Time
	Sum         float64
	Count       int
	Latest      ingest.Transaction
}

// VelocityAvg is the average transaction amount over the window. A window
// with no contributions yields 0.0, never NaN or a fault.
func (a Aggregate) VelocityAvg() float64 {
	return a.Sum / (float64(a.Count) + Epsilon)
}

// snapshotLess defines the total order used to pick the "latest" snapshot
// among a window's transactions: timestamp string, then the six-decimal
// amount string, then location, merchant, status, all compared
// lexicographically. Timestamps are fixed-width ISO-8601, so differing
// timestamps order chronologically; ties fall through to the amount string.
//
// The amount comparison is intentionally lexicographic on the formatted
// string, not numeric: "999.000000" sorts after "1000.000000". Downstream
// consumers depend on this ordering, so it is preserved exactly.
func snapshotLess(a, b ingest.Transaction) bool {
	if a.RawTime != b.RawTime {
		return a.RawTime < b.RawTime
	}
	af, bf := ingest.FormatAmount(a.Amount), ingest.FormatAmount(b.Amount)
	if af != bf {
		return af < bf
	}
	if a.Location != b.Location {
		return a.Location < b.Location
	}
	if a.Merchant != b.Merchant {
		return a.Merchant < b.Merchant
	}
	return a.Status < b.Status
}
