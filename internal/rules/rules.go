// Package rules evaluates joined window records against configurable
// trigger predicates and produces explainable alerts.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/alert"
	"github.com/sentinelhq/sentinel/internal/idgen"
	"github.com/sentinelhq/sentinel/internal/metrics"
)

// Default thresholds for the built-in rules.
const (
	DefaultAmountThreshold   = 2000.0
	DefaultVelocityThreshold = 5000.0
)

// Rule is a single trigger predicate. Evaluate returns whether the record
// trips the rule and a human-readable reason fragment when it does.
type Rule interface {
	Name() string
	Evaluate(rec alert.Record) (bool, string)
}

// Engine runs all registered rules against a joined record. Any rule firing
// makes the verdict SUSPICIOUS; the explanation concatenates one reason per
// fired rule, in registration order, followed by merchant and location
// context.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine with the given rules, evaluated in order.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// DefaultRules returns the built-in rule set: single-transaction amount,
// 1h velocity average, and watchlist membership.
func DefaultRules(amountThreshold, velocityThreshold float64) []Rule {
	return []Rule{
		&AmountRule{Threshold: amountThreshold},
		&VelocityRule{Threshold: velocityThreshold},
		&WatchlistRule{},
	}
}

// Evaluate produces an alert for the record. The alert is always returned,
// with Verdict OK when no rule fired; callers forward only SUSPICIOUS ones.
func (e *Engine) Evaluate(rec alert.Record) *alert.Alert {
	var fired []string
	var reasons []string
	for _, r := range e.rules {
		hit, reason := r.Evaluate(rec)
		if !hit {
			continue
		}
		fired = append(fired, r.Name())
		reasons = append(reasons, reason)
	}

	verdict := alert.VerdictOK
	if len(fired) > 0 {
		verdict = alert.VerdictSuspicious
		for _, name := range fired {
			metrics.AlertsTotal.WithLabelValues(name).Inc()
		}
	}

	latest := rec.Aggregate.Latest
	if latest.Merchant != "" {
		reasons = append(reasons, fmt.Sprintf("Merchant: %s", latest.Merchant))
	}
	if latest.Location != "" {
		reasons = append(reasons, fmt.Sprintf("Location: %s", latest.Location))
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "No suspicious indicators.")
	}

	return &alert.Alert{
		ID:          idgen.WithPrefix("alrt_"),
		Time:        latest.RawTime,
		AccountID:   rec.Aggregate.AccountID,
		Amount:      latest.Amount,
		VelocityAvg: rec.Aggregate.VelocityAvg(),
		TxCount:     rec.Aggregate.Count,
		RiskLevel:   rec.RiskLevel(),
		Merchant:    latest.Merchant,
		Location:    latest.Location,
		Verdict:     verdict,
		Explanation: strings.Join(reasons, " "),
		Rules:       fired,
		CreatedAt:   time.Now().UTC(),
	}
}

// AmountRule fires when the latest snapshot's amount exceeds the threshold.
type AmountRule struct {
	Threshold float64
}

func (r *AmountRule) Name() string { return "amount" }

func (r *AmountRule) Evaluate(rec alert.Record) (bool, string) {
	amount := rec.Aggregate.Latest.Amount
	if amount <= r.Threshold {
		return false, ""
	}
	return true, fmt.Sprintf("Single transaction $%.2f exceeded threshold.", amount)
}

// VelocityRule fires when the trailing-window velocity average exceeds the
// threshold.
type VelocityRule struct {
	Threshold float64
}

func (r *VelocityRule) Name() string { return "velocity" }

func (r *VelocityRule) Evaluate(rec alert.Record) (bool, string) {
	vel := rec.Aggregate.VelocityAvg()
	if vel <= r.Threshold {
		return false, ""
	}
	return true, fmt.Sprintf("1h velocity $%.2f exceeded threshold across %d txns.",
		vel, rec.Aggregate.Count)
}

// WatchlistRule fires when the joined watchlist entry carries a real risk
// level. Empty and "None" levels do not count.
type WatchlistRule struct{}

func (r *WatchlistRule) Name() string { return "watchlist" }

func (r *WatchlistRule) Evaluate(rec alert.Record) (bool, string) {
	if !rec.Watch.Flagged() {
		return false, ""
	}
	notes := rec.Watch.Notes
	if notes == "" {
		notes = "N/A"
	}
	return true, fmt.Sprintf("Watchlist flag: %s. Notes: %s", rec.Watch.RiskLevel, notes)
}
