package domain

import (
	"fmt"
	"time"
)

// RiskFactor is one triggered scoring rule. Value holds the raw triggering
// value, which varies by factor: a rate, an order count, or a label.
type RiskFactor struct {
	Factor string  `json:"factor"`
	Value  any     `json:"value"`
	Weight float64 `json:"weight"`
}

// RiskLevel classifies a risk score into a tier.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Action is the operational step recommended for a return request.
type Action string

const (
	ActionInstantRefund   Action = "instant_refund"
	ActionOTPVerification Action = "otp_verification"
	ActionQualityCheck    Action = "quality_check_required"
)

// Decision pairs a risk tier with its recommended action.
type Decision struct {
	RiskLevel         RiskLevel `json:"risk_level"`
	RecommendedAction Action    `json:"recommended_action"`
}

// Explanation describes why a score came out the way it did.
type Explanation struct {
	GeneratedBy     string   `json:"generated_by"`
	ExplanationText string   `json:"explanation_text"`
	TopFactors      []string `json:"top_factors,omitempty"`
}

// Explanation provenance tags.
const (
	GeneratedByNarrative = "narrative-generated"
	GeneratedByFallback  = "rule-based-fallback"
)

// Model provenance tags.
const (
	ModelTypeML        = "ml"
	ModelTypeRuleBased = "rule-based"

	ModelVersion = "v1.2-hybrid"
)

// PredictionResult is the complete outcome for one return request.
// Immutable after construction.
type PredictionResult struct {
	PredictionID      string      `json:"prediction_id"`
	TenantID          string      `json:"tenant_id,omitempty"`
	OrderID           string      `json:"order_id"`
	RiskScore         float64     `json:"risk_score"`
	RiskLevel         RiskLevel   `json:"risk_level"`
	RecommendedAction Action      `json:"recommended_action"`
	Explanation       Explanation `json:"explanation"`
	Confidence        float64     `json:"confidence"`
	ModelType         string      `json:"model_type"`
	ModelVersion      string      `json:"model_version"`
	Timestamp         time.Time   `json:"timestamp"`
}

// NewPredictionID builds the composite audit key for a prediction.
func NewPredictionID(orderID string, at time.Time) string {
	return fmt.Sprintf("%s_%d", orderID, at.Unix())
}

// Factor identifiers, in rule evaluation order. This enumeration is closed:
// the scorer emits nothing else and the explanation composer maps all of it.
const (
	FactorVeryHighCustomerReturnRate = "very_high_customer_return_rate"
	FactorHighCustomerReturnRate     = "high_customer_return_rate"
	FactorModerateCustomerReturnRate = "moderate_customer_return_rate"
	FactorNewCustomer                = "new_customer"
	FactorRelativelyNewCustomer      = "relatively_new_customer"
	FactorCODPayment                 = "cod_payment"
	FactorVeryHighValueOrder         = "very_high_value_order"
	FactorHighValueOrder             = "high_value_order"
	FactorModerateValueOrder         = "moderate_value_order"
	FactorHighProductReturnRate      = "high_product_return_rate"
	FactorModerateProductReturnRate  = "moderate_product_return_rate"
	FactorFestivalSeason             = "festival_season"
)

// FactorIdentifiers returns the closed factor enumeration in evaluation order.
func FactorIdentifiers() []string {
	return []string{
		FactorVeryHighCustomerReturnRate,
		FactorHighCustomerReturnRate,
		FactorModerateCustomerReturnRate,
		FactorNewCustomer,
		FactorRelativelyNewCustomer,
		FactorCODPayment,
		FactorVeryHighValueOrder,
		FactorHighValueOrder,
		FactorModerateValueOrder,
		FactorHighProductReturnRate,
		FactorModerateProductReturnRate,
		FactorFestivalSeason,
	}
}
