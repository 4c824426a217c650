package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelhq/sentinel/internal/alert"
	"github.com/sentinelhq/sentinel/internal/ingest"
	"github.com/sentinelhq/sentinel/internal/watchlist"
	"github.com/sentinelhq/sentinel/internal/window"
)

func newEngine() *Engine {
	return NewEngine(DefaultRules(DefaultAmountThreshold, DefaultVelocityThreshold)...)
}

func record(amount, sum float64, count int, watch *watchlist.Entry) alert.Record {
	return alert.Record{
		Aggregate: window.Aggregate{
			AccountID: "u101",
			Sum:       sum,
			Count:     count,
			Latest: ingest.Transaction{
				RawTime:   "2025-01-15T10:30:00",
				AccountID: "u101",
				Amount:    amount,
			},
		},
		Watch: watch,
	}
}

func TestAmountTrigger(t *testing.T) {
	a := newEngine().Evaluate(record(2500, 100, 1, nil))
	assert.Equal(t, alert.VerdictSuspicious, a.Verdict)
	assert.Equal(t, []string{"amount"}, a.Rules)
}

func TestVelocityTrigger(t *testing.T) {
	a := newEngine().Evaluate(record(100, 6000, 1, nil))
	assert.Equal(t, alert.VerdictSuspicious, a.Verdict)
	assert.Equal(t, []string{"velocity"}, a.Rules)
}

func TestWatchlistTrigger(t *testing.T) {
	watch := &watchlist.Entry{EntityID: "u101", RiskLevel: "HIGH", Notes: "prior fraud case"}
	a := newEngine().Evaluate(record(100, 100, 1, watch))
	assert.Equal(t, alert.VerdictSuspicious, a.Verdict)
	assert.Equal(t, []string{"watchlist"}, a.Rules)
	assert.Equal(t, "HIGH", a.RiskLevel)
}

func TestNoTrigger(t *testing.T) {
	a := newEngine().Evaluate(record(100, 100, 1, nil))
	assert.Equal(t, alert.VerdictOK, a.Verdict)
	assert.Empty(t, a.Rules)
	assert.Equal(t, "No suspicious indicators.", a.Explanation)
}

func TestRiskLevelNoneIsNotFlagged(t *testing.T) {
	watch := &watchlist.Entry{EntityID: "u101", RiskLevel: "None"}
	a := newEngine().Evaluate(record(100, 100, 1, watch))
	assert.Equal(t, alert.VerdictOK, a.Verdict)
}

func TestReasonOrderAndWording(t *testing.T) {
	watch := &watchlist.Entry{EntityID: "u101", RiskLevel: "HIGH", Notes: "prior fraud case"}
	rec := record(2500, 6000, 1, watch)
	rec.Aggregate.Latest.Merchant = "acme-store"
	rec.Aggregate.Latest.Location = "NYC"

	a := newEngine().Evaluate(rec)
	require.Equal(t, alert.VerdictSuspicious, a.Verdict)
	assert.Equal(t, []string{"amount", "velocity", "watchlist"}, a.Rules)
	assert.Equal(t,
		"Single transaction $2500.00 exceeded threshold. "+
			"1h velocity $6000.00 exceeded threshold across 1 txns. "+
			"Watchlist flag: HIGH. Notes: prior fraud case "+
			"Merchant: acme-store "+
			"Location: NYC",
		a.Explanation)
}

func TestWatchlistNotesFallback(t *testing.T) {
	watch := &watchlist.Entry{EntityID: "u101", RiskLevel: "MEDIUM"}
	a := newEngine().Evaluate(record(100, 100, 1, watch))
	assert.Contains(t, a.Explanation, "Watchlist flag: MEDIUM. Notes: N/A")
}

func TestContextFragmentsOnOKVerdict(t *testing.T) {
	rec := record(100, 100, 1, nil)
	rec.Aggregate.Latest.Merchant = "acme-store"

	a := newEngine().Evaluate(rec)
	assert.Equal(t, alert.VerdictOK, a.Verdict)
	assert.Equal(t, "Merchant: acme-store", a.Explanation)
}

func TestAlertCarriesAggregateFields(t *testing.T) {
	a := newEngine().Evaluate(record(3000, 3500, 2, nil))
	assert.True(t, len(a.ID) > 5 && a.ID[:5] == "alrt_")
	assert.Equal(t, "2025-01-15T10:30:00", a.Time)
	assert.Equal(t, "u101", a.AccountID)
	assert.Equal(t, 3000.0, a.Amount)
	assert.InDelta(t, 1750.0, a.VelocityAvg, 0.001)
	assert.Equal(t, 2, a.TxCount)
	assert.Equal(t,
		"verdict=SUSPICIOUS || Single transaction $3000.00 exceeded threshold.",
		a.Analysis())
}

func TestThresholdBoundaryIsExclusive(t *testing.T) {
	a := newEngine().Evaluate(record(2000, 100, 1, nil))
	assert.Equal(t, alert.VerdictOK, a.Verdict)
}
