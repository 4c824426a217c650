// Package alert defines the joined record and alert types, alert
// persistence, and the CSV sink.
package alert

import (
	"context"
	"time"

	"github.com/sentinelhq/sentinel/internal/watchlist"
	"github.com/sentinelhq/sentinel/internal/window"
)

// Record is one window aggregate enriched with at most one watchlist entry.
// Watch is nil when the account has no reference row (left outer join).
type Record struct {
	Aggregate window.Aggregate
	Watch     *watchlist.Entry
}

// RiskLevel returns the watchlist risk level, or "" when unmatched.
func (r Record) RiskLevel() string {
	if r.Watch == nil {
		return ""
	}
	return r.Watch.RiskLevel
}

// Notes returns the watchlist notes, or "" when unmatched.
func (r Record) Notes() string {
	if r.Watch == nil {
		return ""
	}
	return r.Watch.Notes
}

// Verdict is the binary outcome of rule evaluation.
type Verdict string

const (
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictOK         Verdict = "OK"
)

// Alert is a joined record that crossed at least one risk threshold.
type Alert struct {
	ID          string    `json:"id"`
	Time        string    `json:"time"` // latest snapshot timestamp, raw ISO-8601 text
	AccountID   string    `json:"account_id"`
	Amount      float64   `json:"amount"`
	VelocityAvg float64   `json:"velocity_avg_1h"`
	TxCount     int       `json:"tx_count_1h"`
	RiskLevel   string    `json:"risk_level,omitempty"`
	Merchant    string    `json:"merchant,omitempty"`
	Location    string    `json:"location,omitempty"`
	Verdict     Verdict   `json:"verdict"`
	Explanation string    `json:"explanation"`
	Rules       []string  `json:"rules"` // names of the triggering rules, in evaluation order
	CreatedAt   time.Time `json:"created_at"`
}

// Analysis renders the sink's analysis column: "verdict=<V> || <explanation>".
func (a *Alert) Analysis() string {
	return "verdict=" + string(a.Verdict) + " || " + a.Explanation
}

// Store persists alerts for the query API.
type Store interface {
	Record(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	List(ctx context.Context, opts ListOptions) ([]*Alert, error)
	Count(ctx context.Context) (int, error)
}

// ListOptions filters alert listings.
type ListOptions struct {
	AccountID string // only this account when non-empty
	Limit     int    // most recent first; 0 means a sensible default
}

// DefaultListLimit bounds unpaginated listings.
const DefaultListLimit = 100
