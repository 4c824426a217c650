package enrich

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/sentinelhq/sentinel/internal/alert"
)

// GeminiNarrator asks a Gemini model for a short compliance narrative.
type GeminiNarrator struct {
	client *genai.Client
	model  string
}

// NewGeminiNarrator creates a Gemini-backed narrator.
func NewGeminiNarrator(ctx context.Context, apiKey, model string) (*GeminiNarrator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiNarrator{client: client, model: model}, nil
}

func (n *GeminiNarrator) Narrate(ctx context.Context, a *alert.Alert) (string, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildPrompt(a)},
			},
		},
	}

	resp, err := n.client.Models.GenerateContent(ctx, n.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

func buildPrompt(a *alert.Alert) string {
	return fmt.Sprintf(
		"You are a transaction compliance analyst. Analyze this alert.\n"+
			"Amount: %.2f\n"+
			"Velocity (1h): %.2f across %d txns\n"+
			"Watchlist: %s\n"+
			"Merchant: %s\n"+
			"Location: %s\n"+
			"Rule findings: %s\n\n"+
			"Answer with a short verdict (SUSPICIOUS/OK) and a concise reason (<= 40 words).",
		a.Amount, a.VelocityAvg, a.TxCount,
		a.RiskLevel, a.Merchant, a.Location, a.Explanation)
}
