// Load generator for exercising Kestrel with synthetic return requests.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -count 1000 -concurrency 8
//
// This tool:
//   1. Generates randomized return-request payloads across the risk spectrum
//   2. Sends each one to Kestrel's /predict endpoint
//   3. Tallies risk levels, actions, and model types from the responses
//   4. Reports throughput and latency percentiles
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PredictRequest is the Kestrel API request format
type PredictRequest struct {
	OrderID          string  `json:"order_id"`
	CustomerRate     float64 `json:"customer_return_rate"`
	TotalOrders      int     `json:"total_orders"`
	PaymentMethod    string  `json:"payment_method"`
	OrderAmount      float64 `json:"amount"`
	ProductRate      float64 `json:"product_return_rate"`
	IsFestivalSeason bool    `json:"is_festival_season"`
	UseBedrock       bool    `json:"use_bedrock"`
}

// PredictResponse is the subset of the Kestrel response we tally
type PredictResponse struct {
	PredictionID string  `json:"prediction_id"`
	RiskScore    float64 `json:"risk_score"`
	RiskLevel    string  `json:"risk_level"`
	Action       string  `json:"recommended_action"`
	ModelType    string  `json:"model_type"`
}

// Metrics tracks load test results
type Metrics struct {
	Sent   int64
	OK     int64
	Failed int64

	mu        sync.Mutex
	latencies []time.Duration
	riskTally map[string]int64
	modeTally map[string]int64
}

func (m *Metrics) record(latency time.Duration, resp *PredictResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latency)
	m.riskTally[resp.RiskLevel]++
	m.modeTally[resp.ModelType]++
}

func (m *Metrics) percentile(p float64) time.Duration {
	if len(m.latencies) == 0 {
		return 0
	}
	idx := int(float64(len(m.latencies)-1) * p)
	return m.latencies[idx]
}

var paymentMethods = []string{"COD", "UPI", "Credit Card", "Debit Card", "Net Banking"}

// randomRequest produces payloads spanning clean repeat buyers through
// serial returners, so the response mix covers all three risk levels.
func randomRequest(rng *rand.Rand, seq int) PredictRequest {
	return PredictRequest{
		OrderID:          fmt.Sprintf("LOAD-%06d", seq),
		CustomerRate:     rng.Float64() * 0.8,
		TotalOrders:      rng.Intn(40),
		PaymentMethod:    paymentMethods[rng.Intn(len(paymentMethods))],
		OrderAmount:      500 + rng.Float64()*79500,
		ProductRate:      rng.Float64() * 0.6,
		IsFestivalSeason: rng.Intn(4) == 0,
		UseBedrock:       false,
	}
}

func main() {
	url := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	count := flag.Int("count", 1000, "number of requests to send")
	concurrency := flag.Int("concurrency", 8, "number of concurrent workers")
	tenant := flag.String("tenant", "loadgen", "X-Tenant-ID header value")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	metrics := &Metrics{
		riskTally: make(map[string]int64),
		modeTally: make(map[string]int64),
	}

	client := &http.Client{Timeout: 10 * time.Second}
	jobs := make(chan PredictRequest, *concurrency*2)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				sendOne(client, *url, *tenant, req, metrics)
			}
		}()
	}

	rng := rand.New(rand.NewSource(*seed))
	for i := 0; i < *count; i++ {
		jobs <- randomRequest(rng, i)
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	report(metrics, elapsed)

	if atomic.LoadInt64(&metrics.Failed) > 0 {
		os.Exit(1)
	}
}

func sendOne(client *http.Client, baseURL, tenant string, req PredictRequest, metrics *Metrics) {
	atomic.AddInt64(&metrics.Sent, 1)

	body, err := json.Marshal(req)
	if err != nil {
		atomic.AddInt64(&metrics.Failed, 1)
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&metrics.Failed, 1)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenant)

	began := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		atomic.AddInt64(&metrics.Failed, 1)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		atomic.AddInt64(&metrics.Failed, 1)
		return
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		atomic.AddInt64(&metrics.Failed, 1)
		return
	}

	atomic.AddInt64(&metrics.OK, 1)
	metrics.record(time.Since(began), &result)
}

func report(metrics *Metrics, elapsed time.Duration) {
	metrics.mu.Lock()
	sort.Slice(metrics.latencies, func(i, j int) bool {
		return metrics.latencies[i] < metrics.latencies[j]
	})
	metrics.mu.Unlock()

	ok := atomic.LoadInt64(&metrics.OK)
	fmt.Println()
	fmt.Println("=== Kestrel Load Test Results ===")
	fmt.Printf("Requests:    %d sent, %d ok, %d failed\n",
		atomic.LoadInt64(&metrics.Sent), ok, atomic.LoadInt64(&metrics.Failed))
	fmt.Printf("Duration:    %s\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Printf("Throughput:  %.1f req/s\n", float64(ok)/elapsed.Seconds())
	}
	fmt.Printf("Latency:     p50=%s p95=%s p99=%s\n",
		metrics.percentile(0.50).Round(time.Microsecond),
		metrics.percentile(0.95).Round(time.Microsecond),
		metrics.percentile(0.99).Round(time.Microsecond))

	fmt.Println("\nRisk levels:")
	for _, level := range []string{"low", "medium", "high"} {
		fmt.Printf("  %-8s %d\n", level, metrics.riskTally[level])
	}

	fmt.Println("\nModel types:")
	for mode, n := range metrics.modeTally {
		fmt.Printf("  %-12s %d\n", mode, n)
	}
}
