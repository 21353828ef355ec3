// Package engine runs the twin-matching evaluation pipeline.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/credittwin/internal/anomaly"
	"github.com/opensource-finance/credittwin/internal/cohort"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/encoder"
	"github.com/opensource-finance/credittwin/internal/narrative"
	"github.com/opensource-finance/credittwin/internal/policy"
	"github.com/opensource-finance/credittwin/internal/rules"
	"github.com/opensource-finance/credittwin/internal/signals"
)

var tracer = otel.Tracer("credittwin-engine")

// MissingFieldsError reports required application fields that were absent.
type MissingFieldsError struct {
	Missing []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// Is matches domain.ErrValidation.
func (e *MissingFieldsError) Is(target error) bool {
	return target == domain.ErrValidation
}

// Evaluator turns an application into a decision.
type Evaluator struct {
	index     domain.NeighborIndex
	scorer    *anomaly.Scorer
	policy    *policy.Policy
	narrative *narrative.Generator
	cfg       domain.EngineConfig

	rules          *rules.Engine
	velocityWindow int

	repo    domain.Repository
	bus     domain.EventBus
	version string
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithRules attaches applicant flag rules.
func WithRules(e *rules.Engine, velocityWindowSecs int) Option {
	return func(ev *Evaluator) {
		ev.rules = e
		ev.velocityWindow = velocityWindowSecs
	}
}

// WithNarrator sets the narrative generator. The template is used otherwise.
func WithNarrator(g *narrative.Generator) Option {
	return func(ev *Evaluator) { ev.narrative = g }
}

// WithRepository enables decision persistence.
func WithRepository(repo domain.Repository) Option {
	return func(ev *Evaluator) { ev.repo = repo }
}

// WithEventBus enables decision and alert publication.
func WithEventBus(bus domain.EventBus) Option {
	return func(ev *Evaluator) { ev.bus = bus }
}

// WithVersion stamps decisions with the server version.
func WithVersion(v string) Option {
	return func(ev *Evaluator) { ev.version = v }
}

// New creates an evaluator over the given index.
func New(index domain.NeighborIndex, cfg domain.EngineConfig, pol domain.PolicyConfig, opts ...Option) *Evaluator {
	if cfg.TopK <= 0 {
		cfg.TopK = 100
	}
	if cfg.AmountBandLow <= 0 {
		cfg.AmountBandLow = 0.7
	}
	if cfg.AmountBandHigh <= 0 {
		cfg.AmountBandHigh = 1.3
	}

	ev := &Evaluator{
		index:     index,
		scorer:    anomaly.NewScorer(anomaly.ConfigFromPolicy(pol)),
		policy:    policy.New(policy.FromConfig(pol)),
		narrative: narrative.NewGenerator(nil),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Request carries one evaluation and its correlation id.
type Request struct {
	RequestID   string
	Application *domain.ApplicationRecord
}

// Evaluate runs the full pipeline for one application.
func (e *Evaluator) Evaluate(ctx context.Context, app *domain.ApplicationRecord) (*domain.Decision, error) {
	return e.EvaluateRequest(ctx, &Request{Application: app})
}

// EvaluateRequest runs the pipeline. Only validation failures are returned
// as errors; an unreachable or empty index yields ANOMALY_DETECTED.
func (e *Evaluator) EvaluateRequest(ctx context.Context, req *Request) (*domain.Decision, error) {
	start := time.Now()
	app := req.Application

	ctx, span := tracer.Start(ctx, "engine.Evaluate")
	defer span.End()

	if missing := app.Validate(); len(missing) > 0 {
		err := &MissingFieldsError{Missing: missing}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	_, encodeSpan := tracer.Start(ctx, "engine.encode")
	vector := encoder.Encode(app)
	encodeSpan.End()

	queryStart := time.Now()
	neighbors, err := e.Neighbors(ctx, vector, app)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	queryMs := time.Since(queryStart).Milliseconds()

	_, decideSpan := tracer.Start(ctx, "engine.decide")
	stats := cohort.Analyze(neighbors)
	assessment := e.scorer.Assess(neighbors, stats)
	d := e.policy.Decide(stats, assessment, app)
	signals.Apply(d, neighbors, app)
	decideSpan.SetAttributes(
		attribute.String("verdict", string(d.Verdict)),
		attribute.Float64("anomaly_score", d.AnomalyScore),
	)
	decideSpan.End()

	if e.rules != nil {
		_, flagSpan := tracer.Start(ctx, "engine.flags")
		d.Flags = e.rules.Flags(ctx, &rules.EvaluateInput{
			ApplicantID:    app.ApplicantID,
			Application:    app,
			VelocityWindow: e.velocityWindow,
		})
		flagSpan.SetAttributes(attribute.Int("flags", len(d.Flags)))
		flagSpan.End()
	}

	narrCtx, narrSpan := tracer.Start(ctx, "engine.narrative")
	e.narrative.Explain(narrCtx, d, app)
	narrSpan.SetAttributes(attribute.String("source", d.ExplanationSource))
	narrSpan.End()

	d.ID = uuid.New().String()
	d.ApplicantID = app.ApplicantID
	d.EvaluatedAt = time.Now().UTC()
	d.Metadata = map[string]any{
		"trace_id": traceID(span, req.RequestID),
		"query_ms": queryMs,
		"total_ms": time.Since(start).Milliseconds(),
		"version":  e.version,
	}
	if req.RequestID != "" {
		d.Metadata["request_id"] = req.RequestID
	}

	span.SetAttributes(
		attribute.String("decision.id", d.ID),
		attribute.String("verdict", string(d.Verdict)),
		attribute.Int("neighbors", len(neighbors)),
	)

	e.persist(ctx, d, app)
	e.publish(ctx, d, req.RequestID)

	slog.Info("application evaluated",
		"decision_id", d.ID,
		"verdict", d.Verdict,
		"neighbors", len(neighbors),
		"flags", len(d.Flags),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return d, nil
}

// Neighbors retrieves the twins of an application within the amount band.
// Validation errors are returned; any other index failure degrades to zero
// neighbours.
func (e *Evaluator) Neighbors(ctx context.Context, vector []float64, app *domain.ApplicationRecord) ([]domain.Neighbor, error) {
	ctx, span := tracer.Start(ctx, "engine.query", trace.WithAttributes(
		attribute.Int("top_k", e.cfg.TopK),
	))
	defer span.End()

	neighbors, err := e.index.Query(ctx, vector, e.cfg.TopK, e.Filters(app))
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return nil, err
		}
		span.RecordError(err)
		slog.Warn("neighbour query failed, treating as no twins",
			"error", err,
			"not_ready", errors.Is(err, domain.ErrNotReady),
		)
		return nil, nil
	}

	span.SetAttributes(attribute.Int("neighbors", len(neighbors)))
	return neighbors, nil
}

// Filters restricts twins to requested amounts within the configured band.
func (e *Evaluator) Filters(app *domain.ApplicationRecord) []domain.Filter {
	amount := app.Amount()
	if amount <= 0 {
		return nil
	}
	return []domain.Filter{
		{Field: "requested_amount", Op: domain.OpGTE, Value: amount * e.cfg.AmountBandLow},
		{Field: "requested_amount", Op: domain.OpLTE, Value: amount * e.cfg.AmountBandHigh},
	}
}

// ReloadRules swaps the flag rule set. It is a no-op without a rule engine.
func (e *Evaluator) ReloadRules(configs []*domain.RuleConfig) error {
	if e.rules == nil {
		return nil
	}
	return e.rules.ReloadRules(configs)
}

// Rules returns the attached rule engine, or nil.
func (e *Evaluator) Rules() *rules.Engine {
	return e.rules
}

func (e *Evaluator) persist(ctx context.Context, d *domain.Decision, app *domain.ApplicationRecord) {
	if !e.cfg.PersistDecisions || e.repo == nil {
		return
	}
	rec := &domain.DecisionRecord{Decision: d, Application: app, CreatedAt: d.EvaluatedAt}
	if err := e.repo.SaveDecision(ctx, rec); err != nil {
		slog.Error("failed to save decision",
			"decision_id", d.ID,
			"error", err,
		)
	}
}

func (e *Evaluator) publish(ctx context.Context, d *domain.Decision, requestID string) {
	if !e.cfg.PublishDecisions || e.bus == nil {
		return
	}
	if err := Publish(ctx, e.bus, d, requestID); err != nil {
		slog.Error("failed to publish decision",
			"decision_id", d.ID,
			"error", err,
		)
	}
}

// Publish emits the decision event and, for fraud and anomaly verdicts, an alert.
func Publish(ctx context.Context, bus domain.EventBus, d *domain.Decision, requestID string) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	if err := bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		return fmt.Errorf("failed to publish decision: %w", err)
	}

	if !ShouldAlert(d) {
		return nil
	}
	alert, err := json.Marshal(domain.AlertEvent{
		DecisionID:  d.ID,
		RequestID:   requestID,
		ApplicantID: d.ApplicantID,
		Verdict:     d.Verdict,
		Reason:      d.Reason,
		Fraud:       d.IsFraudSuspect,
		Score:       d.AnomalyScore,
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := bus.Publish(ctx, domain.TopicAlert, alert); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// ShouldAlert reports whether a decision needs operator attention.
func ShouldAlert(d *domain.Decision) bool {
	return d.IsFraudSuspect || d.Verdict == domain.VerdictAnomalyDetected
}

func traceID(span trace.Span, requestID string) string {
	if sc := span.SpanContext(); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	if requestID != "" {
		return requestID
	}
	return uuid.New().String()
}
