package narrative

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/signals"
)

// GeminiNarrator explains decisions with Google Gemini.
type GeminiNarrator struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGeminiNarrator creates a Gemini client for the configured model.
func NewGeminiNarrator(ctx context.Context, cfg domain.NarrativeConfig) (*GeminiNarrator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	model := client.GenerativeModel(modelName)
	if cfg.Temperature > 0 {
		model.SetTemperature(cfg.Temperature)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &GeminiNarrator{client: client, model: model, timeout: timeout}, nil
}

// Explain asks the model for a short customer-facing explanation.
func (g *GeminiNarrator) Explain(ctx context.Context, d *domain.Decision, app *domain.ApplicationRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, genai.Text(BuildPrompt(d, app)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrUnavailable
	}
	return strings.TrimSpace(sb.String()), nil
}

// Close releases the client.
func (g *GeminiNarrator) Close() error {
	return g.client.Close()
}

// BuildPrompt renders the advisor prompt for a decision.
func BuildPrompt(d *domain.Decision, app *domain.ApplicationRecord) string {
	var success float64
	if d.Analysis != nil {
		success = d.Analysis.SuccessRate
	}
	if app == nil {
		app = &domain.ApplicationRecord{}
	}
	fico := "unknown"
	if app.FICO != nil {
		fico = fmt.Sprintf("%.0f", *app.FICO)
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful and empathetic financial advisor at 'CreditTwin', a premium financial intelligence platform.\n")
	sb.WriteString("Your task is to explain a credit decision to a customer based on 'Financial Twin Matching' (comparing them to similar historical cases).\n\n")

	sb.WriteString("DECISION DETAILS:\n")
	fmt.Fprintf(&sb, "- Decision: %s\n", d.Verdict)
	fmt.Fprintf(&sb, "- Confidence: %.1f%%\n", d.Confidence*100)
	fmt.Fprintf(&sb, "- Core Reason: %s\n", d.Reason)
	fmt.Fprintf(&sb, "- Success Rate among similar profiles: %.1f%%\n\n", success*100)

	sb.WriteString("APPLICANT PROFILE:\n")
	fmt.Fprintf(&sb, "- Requested Amount: $%s\n", signals.Thousands(int64(app.Amount())))
	fmt.Fprintf(&sb, "- FICO Score: %s\n", fico)
	fmt.Fprintf(&sb, "- Debt-to-Income (DTI): %.1f%%\n", domain.Value(app.DTI))
	fmt.Fprintf(&sb, "- Monthly Income: $%s\n\n", signals.Thousands(int64(math.Round(domain.Value(app.AnnualIncome)/12))))

	sb.WriteString("GUIDELINES:\n")
	sb.WriteString("1. Be transparent but supportive.\n")
	sb.WriteString("2. Use the 'Financial Twin' concept: explain that we found thousands of similar historical profiles and their outcomes influenced this decision.\n")
	sb.WriteString("3. If APPROVED: Be celebratory and mention why they are a strong match.\n")
	sb.WriteString("4. If REJECTED: Be professional, empathetic, and briefly mention what they could improve (DTI, FICO) based on the data.\n")
	sb.WriteString("5. Keep it concise (3-4 sentences).\n")
	sb.WriteString("6. Do not use technical jargon like 'vector embeddings'. Use terms like 'financial profile matching'.\n\n")
	sb.WriteString("Write the explanation for the customer:")
	return sb.String()
}
