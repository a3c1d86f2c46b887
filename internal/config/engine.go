package config

import (
	"github.com/spf13/viper"

	"github.com/fenwick-systems/docket/internal/engine"
)

// LoadEngineConfig materializes the engine configuration from viper. Unset
// keys fall back to component defaults; everything is validated by
// engine.New before any work starts.
func LoadEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()

	setInt := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	setFloat := func(key string, dst *float64) {
		if viper.IsSet(key) {
			*dst = viper.GetFloat64(key)
		}
	}

	setInt("matching.date_window_days", &cfg.Match.DateWindowDays)
	setFloat("matching.amount_proximity_pct", &cfg.Match.AmountProximityPct)
	setFloat("matching.qty_tol_rel", &cfg.Match.QtyTolRel)
	setFloat("matching.qty_tol_abs", &cfg.Match.QtyTolAbs)
	setFloat("matching.price_tol_rel", &cfg.Match.PriceTolRel)
	setFloat("matching.fuzzy_desc_threshold", &cfg.Match.FuzzyDescThreshold)
	setFloat("matching.accept_threshold", &cfg.Match.AcceptThreshold)
	setFloat("matching.weights.supplier", &cfg.Match.Weights.Supplier)
	setFloat("matching.weights.items", &cfg.Match.Weights.Items)
	setFloat("matching.weights.value", &cfg.Match.Weights.Value)
	setFloat("matching.weights.date", &cfg.Match.Weights.Date)
	if viper.IsSet("matching.supplier_aliases") {
		cfg.Match.Aliases = viper.GetStringMapString("matching.supplier_aliases")
	}

	if viper.IsSet("discount.residual_cap_pennies") {
		cfg.Discount.ResidualCapPennies = viper.GetInt64("discount.residual_cap_pennies")
	}

	setFloat("evaluate.qty_tol_rel", &cfg.Evaluate.QtyTolRel)
	setFloat("evaluate.qty_tol_abs", &cfg.Evaluate.QtyTolAbs)
	setFloat("evaluate.price_tol_rel", &cfg.Evaluate.PriceTolRel)
	setFloat("evaluate.total_tol_pct", &cfg.Evaluate.TotalTolPct)

	// The drift tolerances are shared tunables: set once under matching,
	// applied by the evaluator too unless overridden.
	if viper.IsSet("matching.qty_tol_rel") && !viper.IsSet("evaluate.qty_tol_rel") {
		cfg.Evaluate.QtyTolRel = cfg.Match.QtyTolRel
	}
	if viper.IsSet("matching.qty_tol_abs") && !viper.IsSet("evaluate.qty_tol_abs") {
		cfg.Evaluate.QtyTolAbs = cfg.Match.QtyTolAbs
	}
	if viper.IsSet("matching.price_tol_rel") && !viper.IsSet("evaluate.price_tol_rel") {
		cfg.Evaluate.PriceTolRel = cfg.Match.PriceTolRel
	}

	return cfg
}
