// Package worker provides async prediction processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/predict"
)

// Worker consumes prediction requests from the bus and runs them through
// the prediction pipeline. Completion and high-risk events are published
// by the pipeline itself.
type Worker struct {
	bus       domain.EventBus
	predictor *predict.Predictor
	logger    *slog.Logger

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global worker).
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, predictor *predict.Predictor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		predictor: predictor,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing prediction requests for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"_global"}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	w.logger.Info("workers started", "tenant_count", len(tenants))
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicPredictionRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicPredictionRequested,
	)
	return nil
}

// processRequest runs one queued return request through the pipeline.
func (w *Worker) processRequest(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var raw map[string]any
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		w.logger.Error("failed to parse prediction request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if msg.TenantID != "" {
		tenantID = msg.TenantID
	}

	req, err := domain.ParsePredictionRequest(raw)
	if err != nil {
		w.logger.Error("invalid prediction request",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	result, err := w.predictor.Predict(ctx, tenantID, req)
	if err != nil {
		w.logger.Error("prediction failed",
			"order_id", req.OrderID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	w.logger.Info("prediction processed",
		"prediction_id", result.PredictionID,
		"order_id", result.OrderID,
		"tenant_id", tenantID,
		"risk_level", result.RiskLevel,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
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
	}
}
