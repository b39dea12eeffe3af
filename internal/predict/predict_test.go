package predict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/explain"
	"github.com/opensource-retail/kestrel/internal/rules"
)

type stubScorer struct {
	score float64
	err   error
	calls int
}

func (s *stubScorer) Invoke(_ context.Context, _ domain.FeatureSet) (float64, error) {
	s.calls++
	return s.score, s.err
}

type stubRepo struct {
	saved   chan *domain.PredictionResult
	saveErr error
	byID    map[string]*domain.PredictionResult
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		saved: make(chan *domain.PredictionResult, 8),
		byID:  make(map[string]*domain.PredictionResult),
	}
}

func (r *stubRepo) SavePrediction(_ context.Context, _ string, result *domain.PredictionResult) error {
	r.saved <- result
	if r.saveErr != nil {
		return r.saveErr
	}
	r.byID[result.PredictionID] = result
	return nil
}

func (r *stubRepo) GetPrediction(_ context.Context, _ string, id string) (*domain.PredictionResult, error) {
	if result, ok := r.byID[id]; ok {
		return result, nil
	}
	return nil, domain.ErrNotFound
}

func (r *stubRepo) ListPredictionsByOrder(_ context.Context, _ string, orderID string) ([]*domain.PredictionResult, error) {
	var out []*domain.PredictionResult
	for _, result := range r.byID {
		if result.OrderID == orderID {
			out = append(out, result)
		}
	}
	return out, nil
}

func (r *stubRepo) PurgeExpired(_ context.Context) (int64, error) { return 0, nil }
func (r *stubRepo) Ping(_ context.Context) error                  { return nil }
func (r *stubRepo) Close() error                                  { return nil }

type publishedEvent struct {
	topic   string
	payload []byte
}

type stubBus struct {
	events chan publishedEvent
}

func newStubBus() *stubBus {
	return &stubBus{events: make(chan publishedEvent, 8)}
}

func (b *stubBus) Publish(_ context.Context, _ string, topic string, payload []byte) error {
	b.events <- publishedEvent{topic: topic, payload: payload}
	return nil
}

func (b *stubBus) Subscribe(_ context.Context, _ string, _ string, _ domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBus) Request(_ context.Context, _ string, _ string, _ []byte) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (b *stubBus) Ping(_ context.Context) error { return nil }
func (b *stubBus) Close() error                 { return nil }

func newTestPredictor(t *testing.T, opts Options) *Predictor {
	t.Helper()
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	composer := explain.NewComposer(nil, nil)
	return NewPredictor(engine, composer, opts)
}

func highRiskRequest() domain.PredictionRequest {
	return domain.PredictionRequest{
		OrderID: "ORD-1001",
		Features: domain.FeatureSet{
			CustomerReturnRate: 0.6,
			TotalOrders:        2,
			IsCOD:              true,
			Amount:             60000,
			ProductReturnRate:  0.5,
		},
		UseNarrative: false,
	}
}

func waitSaved(t *testing.T, repo *stubRepo) *domain.PredictionResult {
	t.Helper()
	select {
	case result := <-repo.saved:
		return result
	case <-time.After(2 * time.Second):
		t.Fatal("audit write did not happen")
		return nil
	}
}

func TestPredictRuleBased(t *testing.T) {
	repo := newStubRepo()
	p := newTestPredictor(t, Options{Repository: repo})

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if result.RiskScore != 0.85 {
		t.Errorf("expected score 0.85, got %v", result.RiskScore)
	}
	if result.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high risk, got %s", result.RiskLevel)
	}
	if result.RecommendedAction != domain.ActionQualityCheck {
		t.Errorf("expected quality check, got %s", result.RecommendedAction)
	}
	if result.Confidence != 0.7 {
		t.Errorf("expected confidence 0.7, got %v", result.Confidence)
	}
	if result.ModelType != domain.ModelTypeRuleBased {
		t.Errorf("expected rule-based model type, got %s", result.ModelType)
	}
	if result.ModelVersion != domain.ModelVersion {
		t.Errorf("expected model version %s, got %s", domain.ModelVersion, result.ModelVersion)
	}
	if result.Explanation.GeneratedBy != domain.GeneratedByFallback {
		t.Errorf("expected fallback explanation, got %s", result.Explanation.GeneratedBy)
	}
	if len(result.Explanation.TopFactors) != 5 {
		t.Errorf("expected 5 top factors, got %v", result.Explanation.TopFactors)
	}
	if got := result.Explanation.TopFactors[0]; got != "Very high return rate: 60% of orders returned" {
		t.Errorf("top factors must be business sentences, got %q", got)
	}
	if result.TenantID != "tenant-a" {
		t.Errorf("expected tenant on result, got %q", result.TenantID)
	}

	saved := waitSaved(t, repo)
	if saved.PredictionID != result.PredictionID {
		t.Errorf("audit saved different prediction: %s vs %s", saved.PredictionID, result.PredictionID)
	}
}

func TestPredictMLPrecedence(t *testing.T) {
	scorer := &stubScorer{score: 0.42}
	p := newTestPredictor(t, Options{Scorer: scorer})

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if scorer.calls != 1 {
		t.Errorf("expected one scorer call, got %d", scorer.calls)
	}
	if result.ModelType != domain.ModelTypeML {
		t.Errorf("expected ml model type, got %s", result.ModelType)
	}
	if result.RiskScore != 0.42 {
		t.Errorf("expected ml score, got %v", result.RiskScore)
	}
	if len(result.Explanation.TopFactors) != 1 || result.Explanation.TopFactors[0] != explain.NoFactorText {
		t.Errorf("ml path must not emit rule factors, got %v", result.Explanation.TopFactors)
	}
	if result.RiskLevel != domain.RiskMedium {
		t.Errorf("expected medium risk, got %s", result.RiskLevel)
	}
}

func TestPredictFallsBackWhenScorerUnavailable(t *testing.T) {
	scorer := &stubScorer{err: domain.ErrUnavailable}
	p := newTestPredictor(t, Options{Scorer: scorer})

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if result.ModelType != domain.ModelTypeRuleBased {
		t.Errorf("expected rule-based fallback, got %s", result.ModelType)
	}
	if result.RiskScore != 0.85 {
		t.Errorf("expected rule score 0.85, got %v", result.RiskScore)
	}
}

func TestPredictSucceedsWhenAuditFails(t *testing.T) {
	repo := newStubRepo()
	repo.saveErr = errors.New("disk full")
	p := newTestPredictor(t, Options{Repository: repo})

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict must not fail on audit errors: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	waitSaved(t, repo)
}

func TestPredictPublishesEvents(t *testing.T) {
	bus := newStubBus()
	p := newTestPredictor(t, Options{Bus: bus})

	if _, err := p.Predict(context.Background(), "tenant-a", highRiskRequest()); err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	topics := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-bus.events:
			topics[ev.topic] = true
		case <-time.After(2 * time.Second):
			t.Fatal("expected two published events")
		}
	}

	if !topics[domain.TopicPredictionCompleted] {
		t.Error("missing completion event")
	}
	if !topics[domain.TopicHighRisk] {
		t.Error("high risk prediction must publish a high-risk event")
	}
}

func TestPredictLowRiskSkipsHighRiskEvent(t *testing.T) {
	bus := newStubBus()
	p := newTestPredictor(t, Options{Bus: bus})

	req := domain.PredictionRequest{
		OrderID:  "ORD-2002",
		Features: domain.FeatureSet{TotalOrders: 15, Amount: 1500},
	}

	result, err := p.Predict(context.Background(), "tenant-a", req)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if result.RiskLevel != domain.RiskLow {
		t.Fatalf("expected low risk, got %s", result.RiskLevel)
	}

	select {
	case ev := <-bus.events:
		if ev.topic != domain.TopicPredictionCompleted {
			t.Errorf("unexpected topic %s", ev.topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected completion event")
	}

	select {
	case ev := <-bus.events:
		t.Errorf("unexpected extra event on topic %s", ev.topic)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPredictionIDFormat(t *testing.T) {
	p := newTestPredictor(t, Options{})
	p.now = func() time.Time { return time.Unix(1735689600, 0) }

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	if result.PredictionID != "ORD-1001_1735689600" {
		t.Errorf("unexpected prediction id %s", result.PredictionID)
	}
}

func TestLookupReadsThroughToRepo(t *testing.T) {
	repo := newStubRepo()
	p := newTestPredictor(t, Options{Repository: repo})

	result, err := p.Predict(context.Background(), "tenant-a", highRiskRequest())
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	waitSaved(t, repo)

	got, err := p.Lookup(context.Background(), "tenant-a", result.PredictionID)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.PredictionID != result.PredictionID {
		t.Errorf("expected %s, got %s", result.PredictionID, got.PredictionID)
	}

	if _, err := p.Lookup(context.Background(), "tenant-a", "missing_0"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
