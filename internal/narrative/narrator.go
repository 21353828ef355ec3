package narrative

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// ErrUnavailable signals that a narrator has nothing to say.
var ErrUnavailable = errors.New("narrator unavailable")

// Narrator produces a free-form explanation for a decision.
type Narrator interface {
	Explain(ctx context.Context, d *domain.Decision, app *domain.ApplicationRecord) (string, error)
}

// Generator prefers the narrator and falls back to the template. It never fails.
type Generator struct {
	narrator Narrator
}

// NewGenerator creates a generator. A nil narrator means templates only.
func NewGenerator(narrator Narrator) *Generator {
	return &Generator{narrator: narrator}
}

// Generate returns the explanation and its source.
func (g *Generator) Generate(ctx context.Context, d *domain.Decision, app *domain.ApplicationRecord) (string, string) {
	if g.narrator != nil {
		text, err := g.narrator.Explain(ctx, d, app)
		text = strings.TrimSpace(text)
		switch {
		case err == nil && text != "":
			return text, domain.ExplanationLLM
		case err != nil && !errors.Is(err, ErrUnavailable):
			slog.Warn("narrative generation failed, using template",
				"decision_id", d.ID,
				"error", err,
			)
		}
	}
	return Template(d), domain.ExplanationTemplate
}

// Explain fills the decision's explanation fields.
func (g *Generator) Explain(ctx context.Context, d *domain.Decision, app *domain.ApplicationRecord) {
	d.Explanation, d.ExplanationSource = g.Generate(ctx, d, app)
}
