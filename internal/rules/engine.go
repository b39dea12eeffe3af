// Package rules provides the CEL-Go based risk scoring engine.
//
// The engine evaluates a fixed, ordered table of scoring categories. Within
// a category the tiers are mutually exclusive: they are checked in
// descending order of severity and the first matching tier wins. Categories
// are independent of each other. The final score is the clamped sum of the
// triggered tier weights.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-retail/kestrel/internal/domain"
)

// Engine is the deterministic rule-based risk scorer.
type Engine struct {
	env        *cel.Env
	categories []compiledCategory
}

type compiledCategory struct {
	name  string
	tiers []compiledTier
}

type compiledTier struct {
	def     TierDef
	program cel.Program
}

// TierDef is one row of the scoring table: a predicate over the feature
// set, the factor identifier it emits, and its signed weight.
type TierDef struct {
	Factor     string
	Expression string
	Weight     float64

	// value extracts the raw triggering value recorded on the factor.
	value func(domain.FeatureSet) any
}

// CategoryDef groups the tiers of one scoring category, most severe first.
type CategoryDef struct {
	Name  string
	Tiers []TierDef
}

// NewEngine compiles the default scoring table.
func NewEngine() (*Engine, error) {
	return NewEngineWithTable(DefaultTable())
}

// NewEngineWithTable compiles an explicit scoring table. Tables are fixed
// at construction; there is no hot reload because the factor enumeration
// is closed.
func NewEngineWithTable(table []CategoryDef) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("customer_return_rate", cel.DoubleType),
		cel.Variable("total_orders", cel.IntType),
		cel.Variable("is_cod", cel.BoolType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("product_return_rate", cel.DoubleType),
		cel.Variable("is_festival_season", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}

	for _, cat := range table {
		compiled := compiledCategory{name: cat.Name}
		for _, tier := range cat.Tiers {
			program, err := e.compileTier(tier)
			if err != nil {
				return nil, err
			}
			compiled.tiers = append(compiled.tiers, compiledTier{def: tier, program: program})
		}
		e.categories = append(e.categories, compiled)
	}

	return e, nil
}

func (e *Engine) compileTier(tier TierDef) (cel.Program, error) {
	ast, issues := e.env.Compile(tier.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", tier.Factor, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", tier.Factor, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", tier.Factor, err)
	}

	return program, nil
}

// Score evaluates the full table against a feature set. It is pure and
// deterministic: identical features always yield an identical score and an
// identical, evaluation-ordered factor list.
func (e *Engine) Score(features domain.FeatureSet) (float64, []domain.RiskFactor) {
	activation := map[string]any{
		"customer_return_rate": features.CustomerReturnRate,
		"total_orders":         int64(features.TotalOrders),
		"is_cod":               features.IsCOD,
		"amount":               features.Amount,
		"product_return_rate":  features.ProductReturnRate,
		"is_festival_season":   features.IsFestivalSeason,
	}

	var score float64
	var factors []domain.RiskFactor

	for _, cat := range e.categories {
		for _, tier := range cat.tiers {
			out, _, err := tier.program.Eval(activation)
			if err != nil {
				continue
			}
			matched, ok := out.(types.Bool)
			if !ok || !bool(matched) {
				continue
			}

			score += tier.def.Weight
			factors = append(factors, domain.RiskFactor{
				Factor: tier.def.Factor,
				Value:  tier.def.value(features),
				Weight: tier.def.Weight,
			})
			break // highest matching tier only
		}
	}

	return clamp(score), factors
}

// RuleInfo describes one table row for the read-only rules API.
type RuleInfo struct {
	Category   string  `json:"category"`
	Factor     string  `json:"factor"`
	Expression string  `json:"expression"`
	Weight     float64 `json:"weight"`
}

// Rules returns the loaded table in evaluation order.
func (e *Engine) Rules() []RuleInfo {
	var infos []RuleInfo
	for _, cat := range e.categories {
		for _, tier := range cat.tiers {
			infos = append(infos, RuleInfo{
				Category:   cat.name,
				Factor:     tier.def.Factor,
				Expression: tier.def.Expression,
				Weight:     tier.def.Weight,
			})
		}
	}
	return infos
}

// RulesCount returns the number of tiers in the loaded table.
func (e *Engine) RulesCount() int {
	n := 0
	for _, cat := range e.categories {
		n += len(cat.tiers)
	}
	return n
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
