// Package predict orchestrates the scoring pipeline: feature scoring,
// decision policy, explanation, audit, and event publication.
package predict

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/explain"
	"github.com/opensource-retail/kestrel/internal/metrics"
	"github.com/opensource-retail/kestrel/internal/policy"
	"github.com/opensource-retail/kestrel/internal/rules"
)

// auditTimeout bounds the detached audit write and event publish.
const auditTimeout = 5 * time.Second

// Predictor runs the full prediction pipeline for one return request.
// The engine and composer are required; scorer, repo, cache and bus are
// optional and degrade gracefully when absent.
type Predictor struct {
	engine   *rules.Engine
	scorer   domain.Scorer
	composer *explain.Composer
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	cacheTTL time.Duration
	logger   *slog.Logger

	now func() time.Time
}

// Options carries the optional collaborators for a Predictor.
type Options struct {
	Scorer     domain.Scorer
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// NewPredictor wires a prediction pipeline.
func NewPredictor(engine *rules.Engine, composer *explain.Composer, opts Options) *Predictor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Predictor{
		engine:   engine,
		scorer:   opts.Scorer,
		composer: composer,
		repo:     opts.Repository,
		cache:    opts.Cache,
		bus:      opts.Bus,
		cacheTTL: ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Predict scores one return request. The external scorer is tried first;
// when it is unavailable the rule engine takes over and the result is
// tagged rule-based. Audit persistence and event publication happen after
// the result is final and never fail the request.
func (p *Predictor) Predict(ctx context.Context, tenantID string, req domain.PredictionRequest) (*domain.PredictionResult, error) {
	start := p.now()
	defer func() {
		metrics.PredictionDuration.Observe(time.Since(start).Seconds())
	}()

	score, factors, modelType := p.score(ctx, req.Features)

	decision := policy.Decide(score)
	explanation := p.composer.Compose(ctx, score, factors, req.Features, req.UseNarrative)

	result := &domain.PredictionResult{
		PredictionID:      domain.NewPredictionID(req.OrderID, start),
		TenantID:          tenantID,
		OrderID:           req.OrderID,
		RiskScore:         policy.Round3(score),
		RiskLevel:         decision.RiskLevel,
		RecommendedAction: decision.RecommendedAction,
		Explanation:       explanation,
		Confidence:        policy.Confidence(score),
		ModelType:         modelType,
		ModelVersion:      domain.ModelVersion,
		Timestamp:         start.UTC(),
	}

	metrics.PredictionsTotal.WithLabelValues(result.ModelType, string(result.RiskLevel)).Inc()

	if p.cache != nil {
		if err := p.cache.SetPrediction(ctx, tenantID, result, p.cacheTTL); err != nil {
			p.logger.Warn("failed to cache prediction", "prediction_id", result.PredictionID, "error", err)
		}
	}

	// Audit and events run detached so a slow store cannot hold the
	// response. The request context may already be cancelled by then.
	go p.finalize(tenantID, result)

	return result, nil
}

// score tries the external scorer first. On success the rule engine does
// not run and the factor list stays empty; on unavailability the rule
// engine takes over and provides both the score and the factor breakdown.
func (p *Predictor) score(ctx context.Context, features domain.FeatureSet) (float64, []domain.RiskFactor, string) {
	if p.scorer != nil {
		mlScore, err := p.scorer.Invoke(ctx, features)
		if err == nil {
			return mlScore, nil, domain.ModelTypeML
		}
		if !errors.Is(err, domain.ErrUnavailable) {
			p.logger.Warn("external scorer failed", "error", err)
		}
		metrics.CollaboratorFallbacks.WithLabelValues("scorer").Inc()
	}

	ruleScore, factors := p.engine.Score(features)
	return ruleScore, factors, domain.ModelTypeRuleBased
}

func (p *Predictor) finalize(tenantID string, result *domain.PredictionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	if p.repo != nil {
		if err := p.repo.SavePrediction(ctx, tenantID, result); err != nil {
			metrics.AuditFailures.Inc()
			p.logger.Error("failed to persist prediction",
				"prediction_id", result.PredictionID,
				"order_id", result.OrderID,
				"error", err)
		}
	}

	if p.bus == nil {
		return
	}

	payload, err := encodeResult(result)
	if err != nil {
		p.logger.Error("failed to encode prediction event", "error", err)
		return
	}

	if err := p.bus.Publish(ctx, tenantID, domain.TopicPredictionCompleted, payload); err != nil {
		p.logger.Warn("failed to publish completion event", "error", err)
	}

	if result.RiskLevel == domain.RiskHigh {
		if err := p.bus.Publish(ctx, tenantID, domain.TopicHighRisk, payload); err != nil {
			p.logger.Warn("failed to publish high-risk event", "error", err)
		}
	}
}

// Lookup retrieves a stored prediction, checking the cache before the
// audit store.
func (p *Predictor) Lookup(ctx context.Context, tenantID string, predictionID string) (*domain.PredictionResult, error) {
	if p.cache != nil {
		if cached, err := p.cache.GetPrediction(ctx, tenantID, predictionID); err == nil && cached != nil {
			return cached, nil
		}
	}

	if p.repo == nil {
		return nil, domain.ErrNotFound
	}

	result, err := p.repo.GetPrediction(ctx, tenantID, predictionID)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.SetPrediction(ctx, tenantID, result, p.cacheTTL); err != nil {
			p.logger.Warn("failed to cache prediction", "prediction_id", predictionID, "error", err)
		}
	}
	return result, nil
}

// History returns the audit trail for an order, newest first.
func (p *Predictor) History(ctx context.Context, tenantID string, orderID string) ([]*domain.PredictionResult, error) {
	if p.repo == nil {
		return nil, domain.ErrNotFound
	}
	return p.repo.ListPredictionsByOrder(ctx, tenantID, orderID)
}

func encodeResult(result *domain.PredictionResult) ([]byte, error) {
	return json.Marshal(result)
}
