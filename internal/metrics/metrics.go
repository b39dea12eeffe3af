// Package metrics exposes Prometheus instrumentation for the prediction
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PredictionsTotal counts completed predictions by scoring path and
	// resulting risk tier.
	PredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "predictions_total",
		Help:      "Completed predictions by model type and risk level.",
	}, []string{"model_type", "risk_level"})

	// CollaboratorFallbacks counts degradations from an external
	// collaborator to the local fallback path.
	CollaboratorFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "collaborator_fallbacks_total",
		Help:      "Fallbacks taken when an external collaborator was unavailable.",
	}, []string{"collaborator"})

	// AuditFailures counts audit writes that could not be persisted.
	// Predictions still succeed when this fires.
	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "audit_failures_total",
		Help:      "Prediction results that failed to persist to the audit store.",
	})

	// PredictionDuration observes end-to-end prediction latency.
	PredictionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "prediction_duration_seconds",
		Help:      "End-to-end prediction latency.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	// PurgedRecords counts audit records removed by the retention janitor.
	PurgedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Name:      "audit_purged_records_total",
		Help:      "Audit records removed after their retention window.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
