// Package rules provides the CEL-Go based applicant flag engine.
package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/credittwin/internal/domain"
)

// Engine is the CEL-based flag rule evaluation engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	order          []string
	velocityGetter VelocityGetter
	maxWorkers     int
}

// CompiledRule holds pre-compiled CEL programs.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program

	// Value is nil unless the rule has a value expression
	Value cel.Program
}

// VelocityGetter records an evaluation for an applicant and returns the
// number of evaluations seen in the window.
type VelocityGetter func(ctx context.Context, applicantID string, windowSecs int) (int64, error)

// NewEngine creates a new rule evaluation engine.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Applicant variables; absent numerics evaluate as 0
	env, err := cel.NewEnv(
		cel.Variable("income", cel.DoubleType),
		cel.Variable("credit_score", cel.DoubleType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("debt_ratio", cel.DoubleType),
		cel.Variable("assets", cel.DoubleType),
		cel.Variable("utilization", cel.DoubleType),
		cel.Variable("delinquencies", cel.DoubleType),
		cel.Variable("history_length", cel.DoubleType),
		cel.Variable("age", cel.DoubleType),
		cel.Variable("recent_applications", cel.IntType),
		cel.Variable("purpose", cel.StringType),
		cel.Variable("grade", cel.StringType),
		cel.Variable("employment", cel.StringType),
		cel.Variable("region", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	if _, exists := e.compiledRules[cfg.ID]; !exists {
		e.order = append(e.order, cfg.ID)
	}
	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput holds the applicant data for rule evaluation.
type EvaluateInput struct {
	ApplicantID    string
	Application    *domain.ApplicationRecord
	VelocityWindow int // seconds
	AdditionalData map[string]any
}

// EvaluateAll evaluates all loaded rules in parallel. Results keep load order.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.compiledRules[id])
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	// Get velocity count if getter is available
	var velocityCount int64
	if e.velocityGetter != nil && input.ApplicantID != "" && input.VelocityWindow > 0 {
		count, err := e.velocityGetter(ctx, input.ApplicantID, input.VelocityWindow)
		if err == nil {
			velocityCount = count
		}
	}

	activation := Activation(input.Application, velocityCount)
	for k, v := range input.AdditionalData {
		activation[k] = v
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// Flags evaluates all rules and returns the flags that fired.
func (e *Engine) Flags(ctx context.Context, input *EvaluateInput) []domain.Flag {
	results, _ := e.EvaluateAll(ctx, input)
	var flags []domain.Flag
	for _, r := range results {
		if r.Fired {
			flags = append(flags, r.Flag())
		}
	}
	return flags
}

// Activation builds the CEL variables for an application.
func Activation(app *domain.ApplicationRecord, recentApplications int64) map[string]any {
	if app == nil {
		app = &domain.ApplicationRecord{}
	}
	return map[string]any{
		"income":              domain.Value(app.AnnualIncome),
		"credit_score":        domain.Value(app.FICO),
		"loan_amount":         domain.Value(app.RequestedAmount),
		"debt_ratio":          domain.Value(app.DTI) / 100,
		"assets":              domain.Value(app.Assets),
		"utilization":         domain.Value(app.RevolvingUtilization),
		"delinquencies":       domain.Value(app.Delinquencies2y),
		"history_length":      domain.Value(app.CreditHistoryLength),
		"age":                 domain.Value(app.Age),
		"recent_applications": recentApplications,
		"purpose":             app.LoanPurpose,
		"grade":               app.Grade,
		"employment":          app.Employment,
		"region":              app.Region,
	}
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:   rule.Config.ID,
		Severity: rule.Config.Severity,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Fired = toBool(out)
	if result.Fired {
		result.Message = rule.Config.Message
		if rule.Value != nil {
			val, _, err := rule.Value.Eval(activation)
			if err == nil {
				result.Message = strings.ReplaceAll(result.Message, "{value}", strconv.FormatFloat(toScore(val), 'f', 1, 64))
			}
		}
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

func toBool(val ref.Val) bool {
	b, ok := val.(types.Bool)
	return ok && bool(b)
}

// toScore converts a CEL value to a number.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	var order []string

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		if _, exists := newRules[cfg.ID]; !exists {
			order = append(order, cfg.ID)
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	e.order = order

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations in load order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.order))
	for _, id := range e.order {
		rules = append(rules, e.compiledRules[id].Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	e.order = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	switch cfg.Severity {
	case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityAlert:
	default:
		return nil, fmt.Errorf("rule %s: severity must be info, warning or alert, got %q", cfg.ID, cfg.Severity)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	compiled := &CompiledRule{
		Config:  cfg,
		Program: program,
	}

	if cfg.ValueExpression != "" {
		vast, issues := e.env.Compile(cfg.ValueExpression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile value expression for rule %s: %w", cfg.ID, issues.Err())
		}
		if vast.OutputType() != cel.DoubleType && vast.OutputType() != cel.IntType {
			return nil, fmt.Errorf("rule %s: value expression must return int or double, got %s", cfg.ID, vast.OutputType())
		}
		compiled.Value, err = e.env.Program(vast)
		if err != nil {
			return nil, fmt.Errorf("failed to create value program for rule %s: %w", cfg.ID, err)
		}
	}

	return compiled, nil
}
