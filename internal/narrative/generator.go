// Package narrative provides the HTTP client for the external
// text-generation endpoint used to produce prose explanations.
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/explain"
)

const (
	defaultModelID   = "anthropic.claude-3-haiku"
	defaultMaxTokens = 500

	maxResponseSize = 1 << 20
)

// Generator invokes an external message-based completion endpoint.
type Generator struct {
	endpoint  string
	modelID   string
	maxTokens int
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// generateRequest is the completion request body.
type generateRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// generateResponse is the completion response body.
type generateResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// NewGenerator creates a generator for the given endpoint. Returns nil when
// the endpoint is empty, which disables narrative generation entirely.
func NewGenerator(cfg domain.NarrativeConfig, logger *slog.Logger) *Generator {
	if cfg.Endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = defaultModelID
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "narrative-generator",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Generator{
		endpoint:  cfg.Endpoint,
		modelID:   modelID,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
		breaker:   breaker,
		logger:    logger,
	}
}

// Generate asks the endpoint for a prose explanation of the assessment.
// Any failure maps to domain.ErrUnavailable.
func (g *Generator) Generate(ctx context.Context, score float64, factors []domain.RiskFactor, features domain.FeatureSet) (string, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		return g.generate(ctx, score, factors, features)
	})
	if err != nil {
		g.logger.Debug("narrative generator unavailable", "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return out.(string), nil
}

func (g *Generator) generate(ctx context.Context, score float64, factors []domain.RiskFactor, features domain.FeatureSet) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:       g.modelID,
		MaxTokens:   g.maxTokens,
		Temperature: 0.3,
		Messages: []message{
			{Role: "user", Content: buildPrompt(score, factors, features)},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("narrative endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", err
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("unparseable narrative response: %w", err)
	}
	if len(parsed.Content) == 0 || strings.TrimSpace(parsed.Content[0].Text) == "" {
		return "", fmt.Errorf("empty narrative response")
	}

	return strings.TrimSpace(parsed.Content[0].Text), nil
}

// buildPrompt renders the score, the raw factor list, and a plain-language
// summary of every feature for the model to explain.
func buildPrompt(score float64, factors []domain.RiskFactor, features domain.FeatureSet) string {
	factorJSON, err := json.Marshal(factors)
	if err != nil {
		factorJSON = []byte("[]")
	}

	var b strings.Builder
	b.WriteString("You are a risk analyst for an e-commerce returns desk. ")
	b.WriteString("Explain the following return-risk assessment to an operations agent in two or three plain sentences.\n\n")
	fmt.Fprintf(&b, "Risk score: %.3f (0 = safe, 1 = certain abuse)\n", score)
	fmt.Fprintf(&b, "Triggered risk factors: %s\n\n", factorJSON)
	b.WriteString("Customer and order profile:\n")
	fmt.Fprintf(&b, "- Customer return rate: %.1f%%\n", features.CustomerReturnRate*100)
	fmt.Fprintf(&b, "- Previous orders: %d\n", features.TotalOrders)
	fmt.Fprintf(&b, "- Payment method: %s\n", paymentLabel(features.IsCOD))
	fmt.Fprintf(&b, "- Order amount: ₹%s\n", explain.FormatAmount(features.Amount))
	fmt.Fprintf(&b, "- Product return rate: %.1f%%\n", features.ProductReturnRate*100)
	fmt.Fprintf(&b, "- Festival season: %s\n", yesNo(features.IsFestivalSeason))
	b.WriteString("\nDo not mention the raw score. Focus on what drove the assessment.")
	return b.String()
}

func paymentLabel(isCOD bool) string {
	if isCOD {
		return "COD"
	}
	return "Prepaid"
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
