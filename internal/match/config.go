// Package match implements the document and line scoring pipeline that pairs
// supplier invoices with delivery notes.
package match

import (
	"fmt"

	"github.com/fenwick-systems/docket/internal/common"
)

// Weights control the blend of sub-scores in the fine-grained document score.
// They must sum to 1.
type Weights struct {
	Supplier float64
	Items    float64
	Value    float64
	Date     float64
}

// Config holds every tunable the scoring pipeline reads. Constructed once
// from the external config source and passed in explicitly; there is no
// process-wide mutable state.
type Config struct {
	Aliases map[string]string

	// DateWindowDays is the max day gap for a candidate to receive date
	// credit.
	DateWindowDays int

	// AmountProximityPct is the header-total proximity tolerance used by
	// the coarse pre-filter.
	AmountProximityPct float64

	// QtyTolRel / QtyTolAbs are the tolerances before a quantity
	// difference counts as drift.
	QtyTolRel float64
	QtyTolAbs float64

	// PriceTolRel is the relative tolerance before a price difference
	// counts as drift.
	PriceTolRel float64

	// FuzzyDescThreshold is the minimum token-overlap score for two
	// descriptions to count as a match.
	FuzzyDescThreshold float64

	// AcceptThreshold is the minimum kernel score for a line pair to be
	// accepted during assignment.
	AcceptThreshold float64

	Weights Weights
}

// DefaultConfig returns the tolerances the engine ships with.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:     7,
		AmountProximityPct: 10.0,
		QtyTolRel:          0.0,
		QtyTolAbs:          0.0,
		PriceTolRel:        0.05,
		FuzzyDescThreshold: 0.5,
		AcceptThreshold:    0.72,
		Weights: Weights{
			Supplier: 0.4,
			Items:    0.2,
			Value:    0.2,
			Date:     0.2,
		},
	}
}

// Validate fails fast on out-of-range tunables so a bad config aborts the
// run at load time rather than surfacing per call.
func (c Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("%w: date_window_days must be >= 0, got %d", common.ErrInvalidConfig, c.DateWindowDays)
	}
	if c.AmountProximityPct < 0 || c.AmountProximityPct > 100 {
		return fmt.Errorf("%w: amount_proximity_pct must be in [0,100], got %v", common.ErrInvalidConfig, c.AmountProximityPct)
	}
	if c.QtyTolRel < 0 || c.QtyTolAbs < 0 {
		return fmt.Errorf("%w: quantity tolerances must be >= 0", common.ErrInvalidConfig)
	}
	if c.PriceTolRel < 0 || c.PriceTolRel > 1 {
		return fmt.Errorf("%w: price_tol_rel must be in [0,1], got %v", common.ErrInvalidConfig, c.PriceTolRel)
	}
	if c.FuzzyDescThreshold < 0 || c.FuzzyDescThreshold > 1 {
		return fmt.Errorf("%w: fuzzy_desc_threshold must be in [0,1], got %v", common.ErrInvalidConfig, c.FuzzyDescThreshold)
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("%w: accept_threshold must be in [0,1], got %v", common.ErrInvalidConfig, c.AcceptThreshold)
	}
	sum := c.Weights.Supplier + c.Weights.Items + c.Weights.Value + c.Weights.Date
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: score weights must sum to 1, got %v", common.ErrInvalidConfig, sum)
	}
	return nil
}
