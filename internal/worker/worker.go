// Package worker evaluates applications submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/credittwin/internal/bus"
	"github.com/opensource-finance/credittwin/internal/domain"
	"github.com/opensource-finance/credittwin/internal/engine"
)

// Worker consumes application.submitted messages and evaluates them.
type Worker struct {
	bus       domain.EventBus
	evaluator *engine.Evaluator

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds concurrent evaluations
	WorkerCount int
}

// Result is the reply sent to a requester.
type Result struct {
	RequestID     string           `json:"request_id,omitempty"`
	Decision      *domain.Decision `json:"decision,omitempty"`
	Error         string           `json:"error,omitempty"`
	MissingFields []string         `json:"missing_fields,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, evaluator *engine.Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       b,
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted applications.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.dispatch)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicApplicationSubmitted,
		"workers", cfg.WorkerCount,
	)
	return nil
}

// dispatch hands the message to the pool, blocking while it is full.
func (w *Worker) dispatch(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.processApplication(w.ctx, msg)
	}()
	return nil
}

// processApplication evaluates one submitted application and replies if asked.
func (w *Worker) processApplication(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sub domain.ApplicationSubmitted
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		slog.Error("failed to parse application message",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, &Result{Error: "invalid payload"})
		return err
	}

	requestID := sub.RequestID
	if requestID == "" {
		requestID = msg.ID
	}

	slog.Debug("processing application",
		"request_id", requestID,
		"applicant_id", applicantID(sub.Application),
	)

	d, err := w.evaluator.EvaluateRequest(ctx, &engine.Request{
		RequestID:   requestID,
		Application: sub.Application,
	})
	if err != nil {
		result := &Result{RequestID: requestID, Error: err.Error()}
		var mf *engine.MissingFieldsError
		if errors.As(err, &mf) {
			result.MissingFields = mf.Missing
		}
		slog.Warn("application evaluation failed",
			"request_id", requestID,
			"error", err,
		)
		w.reply(ctx, msg, result)
		return err
	}

	w.reply(ctx, msg, &Result{RequestID: requestID, Decision: d})

	slog.Info("application processed",
		"request_id", requestID,
		"decision_id", d.ID,
		"verdict", d.Verdict,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, result *Result) {
	if msg.Metadata["reply_to"] == "" {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode reply", "error", err)
		return
	}
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to send reply",
			"request_id", result.RequestID,
			"error", err,
		)
	}
}

func applicantID(app *domain.ApplicationRecord) string {
	if app == nil {
		return ""
	}
	return app.ApplicantID
}

// Stop unsubscribes and waits for in-flight evaluations.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
