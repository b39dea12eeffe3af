package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-retail/kestrel/internal/cache"
	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/explain"
	"github.com/opensource-retail/kestrel/internal/predict"
	"github.com/opensource-retail/kestrel/internal/repository"
	"github.com/opensource-retail/kestrel/internal/rules"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cacheLayer := cache.NewLRUCache(100)
	composer := explain.NewComposer(nil, nil)
	predictor := predict.NewPredictor(engine, composer, predict.Options{
		Repository: repo,
		Cache:      cacheLayer,
	})

	return NewServer(domain.ServerConfig{Port: 8080}, predictor, engine, repo, cacheLayer, nil, "test")
}

func doRequest(t *testing.T, srv *Server, method, path string, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(TenantIDHeader, tenant)
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func highRiskBody() map[string]any {
	return map[string]any{
		"order_id":             "ORD-1001",
		"customer_return_rate": 0.6,
		"total_orders":         2,
		"payment_method":       "COD",
		"amount":               60000,
		"product_return_rate":  0.5,
		"use_bedrock":          false,
	}
}

func TestPredictEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", highRiskBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.PredictionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unparseable response: %v", err)
	}

	if result.RiskScore != 0.85 {
		t.Errorf("expected score 0.85, got %v", result.RiskScore)
	}
	if result.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high, got %s", result.RiskLevel)
	}
	if result.RecommendedAction != domain.ActionQualityCheck {
		t.Errorf("expected quality_check_required, got %s", result.RecommendedAction)
	}
	if result.Confidence != 0.7 {
		t.Errorf("expected confidence 0.7, got %v", result.Confidence)
	}
	if result.ModelType != domain.ModelTypeRuleBased {
		t.Errorf("expected rule-based, got %s", result.ModelType)
	}
	if result.Explanation.GeneratedBy != domain.GeneratedByFallback {
		t.Errorf("expected fallback explanation, got %s", result.Explanation.GeneratedBy)
	}
	if len(result.Explanation.TopFactors) != 5 {
		t.Errorf("expected 5 top factors, got %v", result.Explanation.TopFactors)
	} else if got := result.Explanation.TopFactors[0]; got != "Very high return rate: 60% of orders returned" {
		t.Errorf("top factors must be business sentences, got %q", got)
	}
	if !strings.HasPrefix(result.PredictionID, "ORD-1001_") {
		t.Errorf("unexpected prediction id %s", result.PredictionID)
	}
	if result.OrderID != "ORD-1001" {
		t.Errorf("expected ORD-1001, got %s", result.OrderID)
	}
}

func TestPredictDefaults(t *testing.T) {
	srv := newTestServer(t)

	// An empty body still scores: every feature defaults to zero, which
	// triggers the new-customer rule.
	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.PredictionResult
	json.Unmarshal(rec.Body.Bytes(), &result)

	if result.OrderID != "unknown" {
		t.Errorf("expected order id to default to unknown, got %s", result.OrderID)
	}
	if result.RiskScore != 0.1 {
		t.Errorf("expected score 0.1, got %v", result.RiskScore)
	}
	if result.RiskLevel != domain.RiskLow {
		t.Errorf("expected low, got %s", result.RiskLevel)
	}
}

func TestPredictRequiresTenant(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/predict", "", highRiskBody())
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without tenant header, got %d", rec.Code)
	}
}

func TestPredictWrongTypedField(t *testing.T) {
	srv := newTestServer(t)

	// Valid JSON carrying a string where a number belongs must fail
	// loudly instead of scoring a silently zeroed feature set.
	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", `{"order_id":"ORD-1001","amount":"60000"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for wrong-typed field, got %d", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] != "Internal server error" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestPredictInvalidJSON(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", "{not valid json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["error"] == "" {
		t.Error("expected an error message in the response")
	}
}

func TestGetPrediction(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", highRiskBody())
	var created domain.PredictionResult
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doRequest(t, srv, http.MethodGet, "/predictions/"+created.PredictionID, "merchant-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var fetched domain.PredictionResult
	json.Unmarshal(rec.Body.Bytes(), &fetched)
	if fetched.PredictionID != created.PredictionID {
		t.Errorf("expected %s, got %s", created.PredictionID, fetched.PredictionID)
	}

	// Another tenant must not see it.
	rec = doRequest(t, srv, http.MethodGet, "/predictions/"+created.PredictionID, "merchant-002", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for other tenant, got %d", rec.Code)
	}
}

func TestGetPredictionNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/predictions/missing_0", "merchant-001", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListOrderPredictions(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/predict", "merchant-001", highRiskBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("predict failed: %s", rec.Body.String())
	}

	// The audit write is asynchronous; poll until it lands.
	var listed struct {
		OrderID     string                     `json:"order_id"`
		Predictions []*domain.PredictionResult `json:"predictions"`
		Count       int                        `json:"count"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(t, srv, http.MethodGet, "/orders/ORD-1001/predictions", "merchant-001", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		json.Unmarshal(rec.Body.Bytes(), &listed)
		if listed.Count > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if listed.Count != 1 {
		t.Fatalf("expected 1 prediction, got %d", listed.Count)
	}
	if listed.Predictions[0].OrderID != "ORD-1001" {
		t.Errorf("unexpected order id %s", listed.Predictions[0].OrderID)
	}
}

func TestListOrderPredictionsEmpty(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/orders/ORD-NONE/predictions", "merchant-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty history, got %d", rec.Code)
	}

	var listed struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if listed.Count != 0 {
		t.Errorf("expected empty history, got %d", listed.Count)
	}
}

func TestListRules(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/rules", "merchant-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Rules []rules.RuleInfo `json:"rules"`
		Count int              `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)

	if resp.Count != 12 {
		t.Errorf("expected 12 rules, got %d", resp.Count)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	var health map[string]string
	json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", health["status"])
	}

	rec = doRequest(t, srv, http.MethodGet, "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://merchant.example")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://merchant.example" {
		t.Errorf("missing CORS origin header")
	}
}
