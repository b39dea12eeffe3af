// Package ml provides the HTTP client for the external scoring endpoint.
//
// The endpoint speaks CSV in and a bare float out. Every failure mode,
// transport errors, non-200 statuses, unparseable or out-of-range bodies,
// maps to domain.ErrUnavailable so the caller can branch into the
// rule-based fallback without inspecting causes.
package ml

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// maxResponseSize caps how much of a scoring response is read.
const maxResponseSize = 4096

// Scorer invokes an external scoring endpoint over HTTP.
type Scorer struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewScorer creates a scorer for the given endpoint. Returns nil when the
// endpoint is empty, which disables external scoring entirely.
func NewScorer(cfg domain.MLConfig, logger *slog.Logger) *Scorer {
	if cfg.Endpoint == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ml-scorer",
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

	return &Scorer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
		logger:   logger,
	}
}

// Invoke posts the feature vector and returns the model's score.
func (s *Scorer) Invoke(ctx context.Context, features domain.FeatureSet) (float64, error) {
	out, err := s.breaker.Execute(func() (any, error) {
		return s.invoke(ctx, features)
	})
	if err != nil {
		s.logger.Debug("external scorer unavailable", "error", err)
		return 0, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	return out.(float64), nil
}

func (s *Scorer) invoke(ctx context.Context, features domain.FeatureSet) (float64, error) {
	body := csvVector(features)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Accept", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scoring endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, err
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable score %q", strings.TrimSpace(string(raw)))
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("score %v out of range", score)
	}

	return score, nil
}

// csvVector renders the ordered feature vector as a single CSV row.
func csvVector(features domain.FeatureSet) string {
	vec := features.Vector()
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
