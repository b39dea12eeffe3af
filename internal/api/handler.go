package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-retail/kestrel/internal/domain"
	"github.com/opensource-retail/kestrel/internal/predict"
	"github.com/opensource-retail/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	predictor *predict.Predictor
	engine    *rules.Engine
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(predictor *predict.Predictor, engine *rules.Engine, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		predictor: predictor,
		engine:    engine,
		repo:      repo,
		cache:     cache,
		bus:       bus,
		version:   version,
	}
}

// Predict handles POST /predict requests. The body is a loosely-typed
// return request; missing fields default rather than fail, matching how
// upstream order systems deliver partial feature data.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	req, err := domain.ParsePredictionRequest(raw)
	if err != nil {
		slog.Error("prediction failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	result, err := h.predictor.Predict(ctx, tenantID, req)
	if err != nil {
		slog.Error("prediction failed", "order_id", req.OrderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetPrediction retrieves a stored prediction by its composite ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	predictionID := chi.URLParam(r, "id")

	if predictionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "prediction id is required",
		})
		return
	}

	result, err := h.predictor.Lookup(ctx, tenantID, predictionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "prediction not found",
			})
			return
		}
		slog.Error("failed to get prediction", "id", predictionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListOrderPredictions retrieves the audit trail for an order, newest
// first.
func (h *Handler) ListOrderPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "orderID")

	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "order id is required",
		})
		return
	}

	results, err := h.predictor.History(ctx, tenantID, orderID)
	if err != nil {
		slog.Error("failed to list predictions", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Internal server error",
			"message": err.Error(),
		})
		return
	}

	if results == nil {
		results = []*domain.PredictionResult{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":    orderID,
		"predictions": results,
		"count":       len(results),
	})
}

// ListRules returns the scoring table loaded in the engine. The table is
// fixed at startup; this endpoint is read-only.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
