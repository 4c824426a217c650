package window

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/internal/ingest"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/syncutil"
)

// Emit receives each closed window aggregate. Called synchronously from the
// goroutine that advanced the watermark; per account, calls arrive in
// non-decreasing WindowEnd order.
type Emit func(agg Aggregate)

// accountState holds the time-ordered buffer of recent transactions for one
// account. Aggregates are recomputed from this buffer at each hop boundary,
// which keeps the state simple and makes replays idempotent; the scan per
// hop is bounded by the retention horizon.
type accountState struct {
	buf []ingest.Transaction // ordered by Time ascending
}

// insert adds tx keeping the buffer time-ordered. The stream is mostly
// in order, so the scan from the tail is short in practice.
func (s *accountState) insert(tx ingest.Transaction) {
	i := len(s.buf)
	for i > 0 && s.buf[i-1].Time.After(tx.Time) {
		i--
	}
	s.buf = append(s.buf, ingest.Transaction{})
	copy(s.buf[i+1:], s.buf[i:])
	s.buf[i] = tx
}

// evictBefore drops transactions older than cutoff. They can no longer
// contribute to any window that has not been emitted yet.
func (s *accountState) evictBefore(cutoff time.Time) {
	i := 0
	for i < len(s.buf) && s.buf[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.buf = append(s.buf[:0], s.buf[i:]...)
	}
}

// aggregate computes the window [start, end) over the buffer. Returns the
// zero Aggregate and false when no transaction contributes.
func (s *accountState) aggregate(account string, start, end time.Time) (Aggregate, bool) {
	agg := Aggregate{AccountID: account, WindowStart: start, WindowEnd: end}
	for _, tx := range s.buf {
		if tx.Time.Before(start) {
			continue
		}
		if !tx.Time.Before(end) {
			break // buffer is time-ordered
		}
		agg.Sum += tx.Amount
		agg.Count++
		if agg.Count == 1 || snapshotLess(agg.Latest, tx) {
			agg.Latest = tx
		}
	}
	return agg, agg.Count > 0
}

// Aggregator owns all per-account window state. Accounts are fully
// independent; each account's buffer is updated under a sharded per-key
// mutex so there is exactly one writer per account at a time.
type Aggregator struct {
	duration time.Duration
	hop      time.Duration
	emit     Emit
	logger   *slog.Logger

	locks syncutil.ShardedMutex // serializes per-account buffer access

	mu        sync.Mutex // guards accounts map, watermark, boundary
	accounts  map[string]*accountState
	watermark time.Time
	boundary  time.Time // most recent hop boundary already emitted
}

// NewAggregator creates an aggregator emitting one aggregate per live
// (account, hop boundary) pair to emit.
func NewAggregator(duration, hop time.Duration, emit Emit, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		duration: duration,
		hop:      hop,
		emit:     emit,
		logger:   logger,
		accounts: make(map[string]*accountState),
	}
}

// Watermark returns the current event-time watermark (zero before any event).
func (g *Aggregator) Watermark() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.watermark
}

// Observe feeds one transaction into the aggregator and closes any windows
// whose end the watermark has now passed.
//
// A transaction older than watermark-D is too late to affect any still-live
// window: it is silently a no-op, not an error, and never reopens closed
// windows.
func (g *Aggregator) Observe(tx ingest.Transaction) {
	g.mu.Lock()

	if !g.watermark.IsZero() && tx.Time.Before(g.watermark.Add(-g.duration)) {
		g.mu.Unlock()
		metrics.LateEventsTotal.Inc()
		g.logger.Debug("late event ignored",
			"account", tx.AccountID, "time", tx.RawTime, "watermark", g.watermark)
		return
	}

	state, ok := g.accounts[tx.AccountID]
	if !ok {
		state = &accountState{}
		g.accounts[tx.AccountID] = state
	}

	if g.watermark.IsZero() {
		g.watermark = tx.Time
		g.boundary = tx.Time.Truncate(g.hop)
	}

	// Insert under the account's shard lock while still holding g.mu: the
	// map entry must not be evicted concurrently. Shard locks matter for
	// readers (aggregate computation) running against other accounts.
	unlock := g.locks.Lock(tx.AccountID)
	state.insert(tx)
	unlock()

	if tx.Time.After(g.watermark) {
		g.watermark = tx.Time
	}
	closed := g.advanceLocked()
	g.mu.Unlock()

	for _, agg := range closed {
		metrics.WindowsEmittedTotal.Inc()
		g.emit(agg)
	}
}

// advanceLocked emits every hop boundary the watermark has reached, in
// order. Caller holds g.mu.
func (g *Aggregator) advanceLocked() []Aggregate {
	var out []Aggregate
	for next := g.boundary.Add(g.hop); !next.After(g.watermark); next = next.Add(g.hop) {
		out = append(out, g.closeBoundaryLocked(next)...)
		g.boundary = next
	}
	return out
}

// closeBoundaryLocked computes the window [end-D, end) for every account,
// evicting state that has fallen out of the retention horizon. Accounts are
// visited in sorted order so a replay of the same input produces the same
// emission sequence. Caller holds g.mu.
func (g *Aggregator) closeBoundaryLocked(end time.Time) []Aggregate {
	start := end.Add(-g.duration)

	ids := make([]string, 0, len(g.accounts))
	for id := range g.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Aggregate
	for _, id := range ids {
		state := g.accounts[id]

		unlock := g.locks.Lock(id)
		state.evictBefore(start)
		agg, ok := state.aggregate(id, start, end)
		empty := len(state.buf) == 0
		unlock()

		if ok {
			out = append(out, agg)
		}
		if empty {
			// Nothing left inside the retention horizon; drop the account
			// so memory stays bounded by active accounts.
			delete(g.accounts, id)
		}
	}
	return out
}

// Flush closes the first hop boundary past the watermark so every buffered
// transaction is covered by one final window. Called on graceful shutdown;
// no pending window is dropped.
func (g *Aggregator) Flush() {
	g.mu.Lock()
	if g.watermark.IsZero() {
		g.mu.Unlock()
		return
	}
	final := g.watermark.Truncate(g.hop).Add(g.hop)
	var closed []Aggregate
	if final.After(g.boundary) {
		closed = g.closeBoundaryLocked(final)
		g.boundary = final
	}
	g.mu.Unlock()

	for _, agg := range closed {
		metrics.WindowsEmittedTotal.Inc()
		g.emit(agg)
	}
}
