// Package domain defines the core interfaces and types for Kestrel.
package domain

import "fmt"

// FeatureSet is the canonical scoring input. Every field is populated
// before scoring; the scorer never sees partial data.
type FeatureSet struct {
	CustomerReturnRate float64 `json:"customer_return_rate"`
	TotalOrders        int     `json:"total_orders"`
	IsCOD              bool    `json:"is_cod"`
	Amount             float64 `json:"amount"`
	ProductReturnRate  float64 `json:"product_return_rate"`
	IsFestivalSeason   bool    `json:"is_festival_season"`
}

// Vector returns the features as the ordered numeric vector expected by
// external scoring endpoints: [customer_return_rate, total_orders, is_cod,
// amount, product_return_rate, is_festival_season].
func (f FeatureSet) Vector() []float64 {
	return []float64{
		f.CustomerReturnRate,
		float64(f.TotalOrders),
		boolToFloat(f.IsCOD),
		f.Amount,
		f.ProductReturnRate,
		boolToFloat(f.IsFestivalSeason),
	}
}

// PredictionRequest is a parsed /predict request body.
type PredictionRequest struct {
	OrderID      string
	Features     FeatureSet
	UseNarrative bool
}

// ParsePredictionRequest extracts the order identifier, the canonical
// feature set, and the narrative toggle from a loosely-typed request body.
// Missing fields default to zero values; use_bedrock defaults to true.
// A present numeric field of the wrong type is an error, never a silent
// zero.
func ParsePredictionRequest(raw map[string]any) (PredictionRequest, error) {
	features, err := NormalizeFeatures(raw)
	if err != nil {
		return PredictionRequest{}, err
	}

	req := PredictionRequest{
		OrderID:      asString(raw["order_id"], "unknown"),
		Features:     features,
		UseNarrative: true,
	}
	if v, ok := raw["use_bedrock"]; ok {
		req.UseNarrative = truthy(v)
	}
	return req, nil
}

// NormalizeFeatures coerces a loosely-typed request mapping into a fully
// populated FeatureSet. Coercion rules:
//   - is_cod is true when payment_method equals "COD" (case-sensitive) or
//     an explicit true/1 flag is set
//   - is_festival_season is true only on an explicit true/1 flag
//   - missing numeric fields default to zero; a present numeric field that
//     is not a number fails with ErrInvalidInput
//
// Range sanity is not enforced here; out-of-range values are caller error
// and pass through unchanged.
func NormalizeFeatures(raw map[string]any) (FeatureSet, error) {
	customerRate, err := asFloat(raw, "customer_return_rate")
	if err != nil {
		return FeatureSet{}, err
	}
	totalOrders, err := asInt(raw, "total_orders")
	if err != nil {
		return FeatureSet{}, err
	}
	amount, err := asFloat(raw, "amount")
	if err != nil {
		return FeatureSet{}, err
	}
	productRate, err := asFloat(raw, "product_return_rate")
	if err != nil {
		return FeatureSet{}, err
	}

	isCOD := asString(raw["payment_method"], "") == "COD" || flagSet(raw["is_cod"])

	return FeatureSet{
		CustomerReturnRate: customerRate,
		TotalOrders:        totalOrders,
		IsCOD:              isCOD,
		Amount:             amount,
		ProductReturnRate:  productRate,
		IsFestivalSeason:   flagSet(raw["is_festival_season"]),
	}, nil
}

// flagSet reports whether v is an explicit boolean true or the number 1.
func flagSet(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	default:
		return false
	}
}

// truthy mirrors loose boolean coercion for optional toggles.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	default:
		return v != nil
	}
}

func asFloat(raw map[string]any, field string) (float64, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidInput, field, v)
	}
}

func asInt(raw map[string]any, field string) (int, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidInput, field, v)
	}
}

func asString(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
