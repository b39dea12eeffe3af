// Package explain turns scored risk factors into human-readable text.
//
// Narrative generation is best-effort: when the generator is unavailable
// the composer falls back to deterministic templates covering every
// factor the rule engine can emit.
package explain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-retail/kestrel/internal/domain"
)

// NoFactorText is returned when no risk factor triggered.
const NoFactorText = "Normal return pattern with no significant risk indicators."

// maxTopFactors caps how many factor sentences an explanation surfaces.
const maxTopFactors = 5

// Composer builds explanations, preferring the narrative generator when
// one is configured and the caller asked for it.
type Composer struct {
	generator domain.NarrativeGenerator
	logger    *slog.Logger
}

// NewComposer creates a composer. generator may be nil, in which case
// only template explanations are produced.
func NewComposer(generator domain.NarrativeGenerator, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{generator: generator, logger: logger}
}

// Compose builds the explanation for a scored request. Any generator
// failure degrades to the template path; Compose never fails.
func (c *Composer) Compose(ctx context.Context, score float64, factors []domain.RiskFactor, features domain.FeatureSet, useNarrative bool) domain.Explanation {
	top := TopFactors(factors)

	if useNarrative && c.generator != nil {
		text, err := c.generator.Generate(ctx, score, factors, features)
		if err == nil && strings.TrimSpace(text) != "" {
			return domain.Explanation{
				GeneratedBy:     domain.GeneratedByNarrative,
				ExplanationText: text,
				TopFactors:      top,
			}
		}
		if err != nil {
			c.logger.Warn("narrative generation failed, using template explanation", "error", err)
		}
	}

	return domain.Explanation{
		GeneratedBy:     domain.GeneratedByFallback,
		ExplanationText: Template(factors),
		TopFactors:      top,
	}
}

// Template renders the deterministic explanation for a factor list.
// At most five factors are rendered, in scoring order.
func Template(factors []domain.RiskFactor) string {
	return strings.Join(TopFactors(factors), " | ")
}

// TopFactors renders the business sentences for a factor list, at most
// five, in scoring order. An empty factor list yields the single
// normal-pattern sentence.
func TopFactors(factors []domain.RiskFactor) []string {
	if len(factors) == 0 {
		return []string{NoFactorText}
	}

	limit := len(factors)
	if limit > maxTopFactors {
		limit = maxTopFactors
	}

	sentences := make([]string, 0, limit)
	for _, f := range factors[:limit] {
		sentences = append(sentences, factorSentence(f))
	}
	return sentences
}

func factorSentence(f domain.RiskFactor) string {
	switch f.Factor {
	case domain.FactorVeryHighCustomerReturnRate:
		return fmt.Sprintf("Very high return rate: %.0f%% of orders returned", asFloat(f.Value)*100)
	case domain.FactorHighCustomerReturnRate:
		return fmt.Sprintf("High return rate: %.0f%% of orders returned", asFloat(f.Value)*100)
	case domain.FactorModerateCustomerReturnRate:
		return fmt.Sprintf("Moderate return rate: %.0f%% of orders returned", asFloat(f.Value)*100)
	case domain.FactorNewCustomer:
		return fmt.Sprintf("New customer with only %d previous orders", asInt(f.Value))
	case domain.FactorRelativelyNewCustomer:
		return fmt.Sprintf("Relatively new customer with %d previous orders", asInt(f.Value))
	case domain.FactorCODPayment:
		return "Cash on Delivery payment method (higher risk)"
	case domain.FactorVeryHighValueOrder:
		return fmt.Sprintf("Very high value order: ₹%s", FormatAmount(asFloat(f.Value)))
	case domain.FactorHighValueOrder:
		return fmt.Sprintf("High value order: ₹%s", FormatAmount(asFloat(f.Value)))
	case domain.FactorModerateValueOrder:
		return fmt.Sprintf("Moderate value order: ₹%s", FormatAmount(asFloat(f.Value)))
	case domain.FactorHighProductReturnRate:
		return fmt.Sprintf("Product has high return rate: %.0f%% of orders returned", asFloat(f.Value)*100)
	case domain.FactorModerateProductReturnRate:
		return fmt.Sprintf("Product has moderate return rate: %.0f%% of orders returned", asFloat(f.Value)*100)
	case domain.FactorFestivalSeason:
		return "Festival season - normal shopping behavior expected"
	default:
		return fmt.Sprintf("Risk factor: %s", f.Factor)
	}
}

// FormatAmount renders a monetary amount with thousands separators and
// no decimal places, e.g. 60000 -> "60,000".
func FormatAmount(v float64) string {
	raw := fmt.Sprintf("%.0f", v)

	neg := strings.HasPrefix(raw, "-")
	if neg {
		raw = raw[1:]
	}

	var b strings.Builder
	lead := len(raw) % 3
	if lead > 0 {
		b.WriteString(raw[:lead])
		if len(raw) > lead {
			b.WriteByte(',')
		}
	}
	for i := lead; i < len(raw); i += 3 {
		b.WriteString(raw[i : i+3])
		if i+3 < len(raw) {
			b.WriteByte(',')
		}
	}

	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
