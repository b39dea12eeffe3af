// Package policy maps risk scores to operational decisions.
package policy

import (
	"math"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// Tier boundaries. A score on a boundary belongs to the higher tier.
const (
	MediumThreshold = 0.3
	HighThreshold   = 0.7
)

// Decide maps a risk score to its tier and recommended action.
func Decide(score float64) domain.Decision {
	switch {
	case score >= HighThreshold:
		return domain.Decision{RiskLevel: domain.RiskHigh, RecommendedAction: domain.ActionQualityCheck}
	case score >= MediumThreshold:
		return domain.Decision{RiskLevel: domain.RiskMedium, RecommendedAction: domain.ActionOTPVerification}
	default:
		return domain.Decision{RiskLevel: domain.RiskLow, RecommendedAction: domain.ActionInstantRefund}
	}
}

// Confidence measures how far a score sits from the decision midpoint,
// scaled to [0,1]. Scores near 0.5 are the least certain.
func Confidence(score float64) float64 {
	return Round3(math.Abs(score-0.5) * 2.0)
}

// Round3 rounds to three decimal places, the precision used on the wire.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
