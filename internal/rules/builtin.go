package rules

import "github.com/opensource-retail/kestrel/internal/domain"

// DefaultTable returns the canonical return-abuse scoring table. The tier
// order inside each category is load-bearing: most severe first, first
// match wins. The festival adjustment carries a negative weight.
func DefaultTable() []CategoryDef {
	returnRate := func(f domain.FeatureSet) any { return f.CustomerReturnRate }
	orderCount := func(f domain.FeatureSet) any { return f.TotalOrders }
	orderValue := func(f domain.FeatureSet) any { return f.Amount }
	productRate := func(f domain.FeatureSet) any { return f.ProductReturnRate }

	return []CategoryDef{
		{
			Name: "customer_behavior",
			Tiers: []TierDef{
				{Factor: domain.FactorVeryHighCustomerReturnRate, Expression: "customer_return_rate > 0.5", Weight: 0.30, value: returnRate},
				{Factor: domain.FactorHighCustomerReturnRate, Expression: "customer_return_rate > 0.3", Weight: 0.15, value: returnRate},
				{Factor: domain.FactorModerateCustomerReturnRate, Expression: "customer_return_rate > 0.15", Weight: 0.05, value: returnRate},
			},
		},
		{
			Name: "order_history",
			Tiers: []TierDef{
				{Factor: domain.FactorNewCustomer, Expression: "total_orders < 3", Weight: 0.10, value: orderCount},
				{Factor: domain.FactorRelativelyNewCustomer, Expression: "total_orders < 10", Weight: 0.05, value: orderCount},
			},
		},
		{
			Name: "payment_method",
			Tiers: []TierDef{
				{Factor: domain.FactorCODPayment, Expression: "is_cod", Weight: 0.15, value: func(domain.FeatureSet) any { return "COD" }},
			},
		},
		{
			Name: "order_value",
			Tiers: []TierDef{
				{Factor: domain.FactorVeryHighValueOrder, Expression: "amount > 50000.0", Weight: 0.20, value: orderValue},
				{Factor: domain.FactorHighValueOrder, Expression: "amount > 20000.0", Weight: 0.10, value: orderValue},
				{Factor: domain.FactorModerateValueOrder, Expression: "amount > 10000.0", Weight: 0.05, value: orderValue},
			},
		},
		{
			Name: "product_category",
			Tiers: []TierDef{
				{Factor: domain.FactorHighProductReturnRate, Expression: "product_return_rate > 0.4", Weight: 0.10, value: productRate},
				{Factor: domain.FactorModerateProductReturnRate, Expression: "product_return_rate > 0.2", Weight: 0.05, value: productRate},
			},
		},
		{
			Name: "seasonal_adjustment",
			Tiers: []TierDef{
				{Factor: domain.FactorFestivalSeason, Expression: "is_festival_season", Weight: -0.05, value: func(domain.FeatureSet) any { return "Yes" }},
			},
		},
	}
}
