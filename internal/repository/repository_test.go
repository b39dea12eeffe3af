package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-retail/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func samplePrediction(orderID string, at time.Time) *domain.PredictionResult {
	return &domain.PredictionResult{
		PredictionID:      domain.NewPredictionID(orderID, at),
		OrderID:           orderID,
		RiskScore:         0.85,
		RiskLevel:         domain.RiskHigh,
		RecommendedAction: domain.ActionQualityCheck,
		Explanation: domain.Explanation{
			GeneratedBy:     domain.GeneratedByFallback,
			ExplanationText: "Cash on Delivery payment method (higher risk)",
			TopFactors:      []string{"Cash on Delivery payment method (higher risk)"},
		},
		Confidence:   0.7,
		ModelType:    domain.ModelTypeRuleBased,
		ModelVersion: domain.ModelVersion,
		Timestamp:    at.UTC(),
	}
}

func TestSaveAndGetPrediction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	want := samplePrediction("ORD-1001", time.Now())
	if err := repo.SavePrediction(ctx, "tenant-a", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetPrediction(ctx, "tenant-a", want.PredictionID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got.PredictionID != want.PredictionID {
		t.Errorf("expected id %s, got %s", want.PredictionID, got.PredictionID)
	}
	if got.TenantID != "tenant-a" {
		t.Errorf("expected tenant-a, got %s", got.TenantID)
	}
	if got.RiskScore != want.RiskScore {
		t.Errorf("expected score %v, got %v", want.RiskScore, got.RiskScore)
	}
	if got.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high, got %s", got.RiskLevel)
	}
	if got.RecommendedAction != domain.ActionQualityCheck {
		t.Errorf("expected quality check, got %s", got.RecommendedAction)
	}
	if got.Explanation.GeneratedBy != domain.GeneratedByFallback {
		t.Errorf("explanation did not round-trip: %+v", got.Explanation)
	}
	if len(got.Explanation.TopFactors) != 1 || got.Explanation.TopFactors[0] != "Cash on Delivery payment method (higher risk)" {
		t.Errorf("top factors did not round-trip: %v", got.Explanation.TopFactors)
	}
	if got.ModelVersion != domain.ModelVersion {
		t.Errorf("expected model version %s, got %s", domain.ModelVersion, got.ModelVersion)
	}
}

func TestGetPredictionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetPrediction(context.Background(), "tenant-a", "missing_0")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pred := samplePrediction("ORD-1001", time.Now())
	if err := repo.SavePrediction(ctx, "tenant-a", pred); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := repo.GetPrediction(ctx, "tenant-b", pred.PredictionID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("tenant-b must not see tenant-a data, got %v", err)
	}

	results, err := repo.ListPredictionsByOrder(ctx, "tenant-b", "ORD-1001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("tenant-b must see no history, got %d records", len(results))
	}
}

func TestSaveRequiresTenant(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.SavePrediction(context.Background(), "", samplePrediction("ORD-1", time.Now()))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListPredictionsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		pred := samplePrediction("ORD-1001", base.Add(time.Duration(i)*time.Minute))
		if err := repo.SavePrediction(ctx, "tenant-a", pred); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	results, err := repo.ListPredictionsByOrder(ctx, "tenant-a", "ORD-1001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 records, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Timestamp.After(results[i-1].Timestamp) {
			t.Errorf("records not newest-first at position %d", i)
		}
	}
}

func TestPurgeExpired(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_test.db"),
		Retention:  time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	old := samplePrediction("ORD-OLD", time.Now().Add(-2*time.Hour))
	fresh := samplePrediction("ORD-NEW", time.Now())

	if err := repo.SavePrediction(ctx, "tenant-a", old); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.SavePrediction(ctx, "tenant-a", fresh); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	purged, err := repo.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged record, got %d", purged)
	}

	if _, err := repo.GetPrediction(ctx, "tenant-a", old.PredictionID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired record should be gone, got %v", err)
	}
	if _, err := repo.GetPrediction(ctx, "tenant-a", fresh.PredictionID); err != nil {
		t.Errorf("fresh record should survive purge, got %v", err)
	}
}

func TestGetPredictionCorruptExplanation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	want := samplePrediction("ORD-1001", time.Now())
	if err := repo.SavePrediction(ctx, "tenant-a", want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	sqlRepo := repo.(*SQLRepository)
	_, err := sqlRepo.db.ExecContext(ctx,
		sqlRepo.rebind("UPDATE predictions SET explanation = ? WHERE prediction_id = ?"),
		"{not valid json", want.PredictionID,
	)
	if err != nil {
		t.Fatalf("failed to corrupt row: %v", err)
	}

	if _, err := repo.GetPrediction(ctx, "tenant-a", want.PredictionID); err == nil {
		t.Error("expected an error for a corrupt explanation column")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	got := repo.rebind("INSERT INTO t (a, b, c) VALUES (?, ?, ?)")
	want := "INSERT INTO t (a, b, c) VALUES ($1, $2, $3)"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	repo.driver = "sqlite"
	passthrough := "SELECT * FROM t WHERE a = ?"
	if got := repo.rebind(passthrough); got != passthrough {
		t.Errorf("sqlite queries must pass through, got %q", got)
	}
}
