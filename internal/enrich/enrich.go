// Package enrich turns a triggered alert into a narrative analysis string.
//
// Two narrators exist: RuleNarrator renders the deterministic rule-engine
// explanation and always succeeds; GeminiNarrator asks a model for a richer
// narrative and may fail. The Enricher wraps an optional best-effort
// narrator with retry, a circuit breaker, and a guaranteed fallback to the
// deterministic one. Enrichment never changes which alerts fire.
package enrich

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/sentinelhq/sentinel/internal/alert"
	"github.com/sentinelhq/sentinel/internal/circuitbreaker"
	"github.com/sentinelhq/sentinel/internal/metrics"
	"github.com/sentinelhq/sentinel/internal/retry"
)

// Narrator produces the analysis string for an alert.
type Narrator interface {
	Narrate(ctx context.Context, a *alert.Alert) (string, error)
}

// RuleNarrator renders the deterministic explanation built by the rule
// engine. It never fails.
type RuleNarrator struct{}

func (RuleNarrator) Narrate(_ context.Context, a *alert.Alert) (string, error) {
	return a.Analysis(), nil
}

const (
	breakerKey       = "enrich"
	retryBaseDelay   = 200 * time.Millisecond
	breakerThreshold = 3
	breakerOpenFor   = 30 * time.Second
)

// Enricher drives a best-effort primary narrator with a deterministic
// fallback. A nil primary means rule-based narration only.
type Enricher struct {
	primary  Narrator
	fallback Narrator
	timeout  time.Duration
	attempts int
	breaker  *circuitbreaker.Breaker
	logger   *slog.Logger
}

// New creates an Enricher. primary may be nil.
func New(primary Narrator, timeout time.Duration, attempts int, logger *slog.Logger) *Enricher {
	return &Enricher{
		primary:  primary,
		fallback: RuleNarrator{},
		timeout:  timeout,
		attempts: attempts,
		breaker:  circuitbreaker.New(breakerThreshold, breakerOpenFor),
		logger:   logger,
	}
}

// Analyze returns the analysis string for a. It cannot fail: when the
// primary narrator is absent, tripped, or erroring, the deterministic
// explanation is used instead.
func (e *Enricher) Analyze(ctx context.Context, a *alert.Alert) string {
	if e.primary == nil {
		return e.fallbackAnalysis(ctx, a)
	}
	if !e.breaker.Allow(breakerKey) {
		metrics.EnrichmentsTotal.WithLabelValues("fallback").Inc()
		return e.fallbackAnalysis(ctx, a)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var narrative string
	err := retry.Do(ctx, e.attempts, retryBaseDelay, func() error {
		var nerr error
		narrative, nerr = e.primary.Narrate(ctx, a)
		return nerr
	})
	if err != nil {
		e.breaker.Failure(breakerKey)
		metrics.EnrichmentsTotal.WithLabelValues("fallback").Inc()
		e.logger.Warn("enrichment failed, using rule-based analysis",
			"alert_id", a.ID, "error", err)
		return e.fallbackAnalysis(ctx, a)
	}

	e.breaker.Success(breakerKey)
	metrics.EnrichmentsTotal.WithLabelValues("ok").Inc()
	return normalize(narrative, a.Verdict)
}

func (e *Enricher) fallbackAnalysis(ctx context.Context, a *alert.Alert) string {
	s, _ := e.fallback.Narrate(ctx, a)
	return s
}

// normalize forces model replies into the "verdict=... || ..." shape the
// sink and its consumers expect.
func normalize(reply string, verdict alert.Verdict) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(strings.ToLower(reply), "verdict") {
		return reply
	}
	return "verdict=" + string(verdict) + " || " + reply
}
