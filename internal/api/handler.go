package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/credittwin/internal/cache"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/engine"
	"github.com/opensource-finance/credittwin/internal/ingest"
	"github.com/opensource-finance/credittwin/internal/repository"
	"github.com/opensource-finance/credittwin/internal/storage"
)

const (
	statsCacheKey    = "corpus:stats"
	statsCacheTTL    = 5 * time.Minute
	decisionCacheTTL = 10 * time.Minute
	historyLimit     = 50
)

// Deps are the components the API serves.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Index     domain.NeighborIndex
	Evaluator *engine.Evaluator
	Corpus    *ingest.Service
	Archive   storage.Storage
	Version   string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	index     domain.NeighborIndex
	evaluator *engine.Evaluator
	corpus    *ingest.Service
	archive   storage.Storage
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		repo:      d.Repo,
		cache:     d.Cache,
		bus:       d.Bus,
		index:     d.Index,
		evaluator: d.Evaluator,
		corpus:    d.Corpus,
		archive:   d.Archive,
		version:   d.Version,
	}
}

// MissingFieldsResponse is returned when an application lacks required fields.
type MissingFieldsResponse struct {
	Error          string   `json:"error"`
	MissingFields  []string `json:"missing_fields"`
	RequiredFields []string `json:"required_fields"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var app domain.ApplicationRecord
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	decision, err := h.evaluator.EvaluateRequest(ctx, &engine.Request{
		RequestID:   GetRequestID(ctx),
		Application: &app,
	})
	if err != nil {
		var missing *engine.MissingFieldsError
		if errors.As(err, &missing) {
			writeJSON(w, http.StatusBadRequest, MissingFieldsResponse{
				Error:          "Missing required fields",
				MissingFields:  missing.Missing,
				RequiredFields: domain.RequiredFields,
			})
			return
		}
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// EvaluateAsync handles POST /evaluate/async by queueing the application.
func (h *Handler) EvaluateAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var app domain.ApplicationRecord
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if missing := app.Validate(); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, MissingFieldsResponse{
			Error:          "Missing required fields",
			MissingFields:  missing,
			RequiredFields: domain.RequiredFields,
		})
		return
	}
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	requestID := GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	payload, err := json.Marshal(domain.ApplicationSubmitted{RequestID: requestID, Application: &app})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode application")
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicApplicationSubmitted, payload); err != nil {
		slog.Error("failed to queue application", "request_id", requestID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue application")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": requestID,
		"status":     "queued",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the neighbour index can answer queries.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	stats, err := h.index.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":  stats.Exists,
		"points": stats.Count,
	})
}

// GetDecision retrieves a persisted decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	key := "decision:" + id
	var rec domain.DecisionRecord
	if h.cache != nil {
		if found, err := cache.GetJSON(ctx, h.cache, key, &rec); err == nil && found {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	stored, err := h.repo.GetDecision(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		slog.Error("failed to get decision", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get decision")
		return
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, key, stored, decisionCacheTTL); err != nil {
			slog.Debug("failed to cache decision", "id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, stored)
}

// ClientHistory is the response for GET /clients/{id}/history.
type ClientHistory struct {
	Client       *domain.Client           `json:"client"`
	Applications []*domain.HistoricalCase `json:"applications"`
	Decisions    []*domain.DecisionRecord `json:"decisions"`
}

// GetClientHistory returns an applicant's profile, past loans and decisions.
func (h *Handler) GetClientHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	client, err := h.repo.GetClient(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		slog.Error("failed to get client", "applicant_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get client")
		return
	}
	cases, err := h.repo.ListCasesByApplicant(ctx, id)
	if err != nil {
		slog.Error("failed to list client cases", "applicant_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}
	decisions, err := h.repo.ListDecisionsByApplicant(ctx, id, historyLimit)
	if err != nil {
		slog.Error("failed to list client decisions", "applicant_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}

	if client == nil && len(cases) == 0 && len(decisions) == 0 {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	writeJSON(w, http.StatusOK, ClientHistory{
		Client:       client,
		Applications: cases,
		Decisions:    decisions,
	})
}

// ListRules returns the flag rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	re := h.evaluator.Rules()
	if re == nil {
		writeJSON(w, http.StatusOK, map[string]any{"rules": []*domain.RuleConfig{}, "count": 0})
		return
	}
	loaded := re.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if re := h.evaluator.Rules(); re != nil {
		for _, rule := range re.GetLoadedRules() {
			if rule.ID == ruleID {
				writeJSON(w, http.StatusOK, rule)
				return
			}
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	Expression      string `json:"expression"`
	ValueExpression string `json:"valueExpression,omitempty"`
	Severity        string `json:"severity"`
	Message         string `json:"message"`
	Enabled         bool   `json:"enabled"`
}

// CreateRule validates a rule and saves it. POST /rules/reload applies it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	severity := req.Severity
	if severity == "" {
		severity = domain.SeverityWarning
	}
	cfg := &domain.RuleConfig{
		ID:              req.ID,
		Name:            req.Name,
		Description:     req.Description,
		Version:         "1.0.0",
		Expression:      req.Expression,
		ValueExpression: req.ValueExpression,
		Severity:        severity,
		Message:         req.Message,
		Enabled:         req.Enabled,
	}

	re := h.evaluator.Rules()
	if re == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}
	if err := re.ValidateRule(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	if err := h.repo.SaveRuleConfig(ctx, cfg); err != nil {
		slog.Error("failed to save rule config", "id", cfg.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}

	slog.Info("rule created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    cfg,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads every stored rule into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}
	if err := h.evaluator.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", len(stored))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(stored),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "index not ready")
	case errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "backend unavailable")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
