// Package discount recovers hidden discount policies from noisy line totals.
//
// A line whose observed net value sits below the naive qty x unit price
// expectation is tested against a small closed hypothesis space: a percent
// discount, a fixed amount off per case, or a fixed amount off per litre.
// The hypothesis whose rounded value reproduces the observed total with the
// smallest residual wins, provided the residual clears a cap.
package discount

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/uom"
)

// Config holds the solver's tunables.
type Config struct {
	// ResidualCapPennies is the largest unexplained remainder a hypothesis
	// may leave and still be accepted.
	ResidualCapPennies int64
}

// DefaultConfig returns the solver defaults.
func DefaultConfig() Config {
	return Config{ResidualCapPennies: 50}
}

// Validate fails fast on a nonsensical cap.
func (c Config) Validate() error {
	if c.ResidualCapPennies <= 0 {
		return fmt.Errorf("%w: residual cap must be > 0, got %d", common.ErrInvalidConfig, c.ResidualCapPennies)
	}
	return nil
}

// Solver tests discount hypotheses against invoice lines.
type Solver struct {
	cfg Config
}

// NewSolver validates the config and builds a solver.
func NewSolver(cfg Config) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{cfg: cfg}, nil
}

type hypothesis struct {
	kind     model.DiscountKind
	value    float64
	residual int64
}

// Solve explains one line's shortfall, or returns nil when there is nothing
// to explain or no hypothesis clears the residual cap. Nil is the normal
// outcome for a full-price line, not an error.
func (s *Solver) Solve(line model.LineItem) *model.DiscountRecord {
	if line.Quantity <= 0 || line.UnitPricePennies <= 0 {
		return nil
	}
	naive := line.NaivePennies()
	observed := line.TotalPennies
	if observed <= 0 || observed >= naive {
		return nil
	}

	unit, _ := uom.Parse(line.UOM)

	var candidates []hypothesis
	if h, ok := s.percentHypothesis(naive, observed); ok {
		candidates = append(candidates, h)
	}
	// Per-case only makes sense when the line is quantified in cases;
	// with a quantity of 1 it would otherwise "explain" any shortfall
	// exactly and shadow the percent hypothesis.
	if unit.Kind == "case" {
		if h, ok := s.perUnitHypothesis(model.DiscountPerCase, naive, observed, line.Quantity); ok {
			candidates = append(candidates, h)
		}
	}
	if litres := uom.LitreEquivalent(line.Quantity, unit); litres > 0 {
		if h, ok := s.perUnitHypothesis(model.DiscountPerLitre, naive, observed, litres); ok {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Smallest residual wins; on a tie the simpler policy (declaration
	// order above) is preferred.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].residual < candidates[j].residual
	})
	best := candidates[0]
	if best.residual >= s.cfg.ResidualCapPennies {
		return nil
	}

	return &model.DiscountRecord{
		LineIdx:         line.RowIndex,
		Kind:            best.kind,
		Value:           best.value,
		ResidualPennies: best.residual,
		Confidence:      s.confidence(best.residual),
	}
}

// percentHypothesis fits a percent-off policy, rounding the implied rate to
// the nearest 0.1% before measuring the residual.
func (s *Solver) percentHypothesis(naive, observed int64) (hypothesis, bool) {
	naiveDec := decimal.NewFromInt(naive)
	observedDec := decimal.NewFromInt(observed)

	rate := decimal.NewFromInt(1).
		Sub(observedDec.Div(naiveDec)).
		Mul(decimal.NewFromInt(100)).
		Round(1)
	rateF, _ := rate.Float64()
	if rateF < 0 || rateF > 100 {
		return hypothesis{}, false
	}

	predicted := naiveDec.
		Mul(decimal.NewFromInt(1).Sub(rate.Div(decimal.NewFromInt(100)))).
		Round(0)
	residual := observedDec.Sub(predicted).Abs().IntPart()

	return hypothesis{kind: model.DiscountPercent, value: rateF, residual: residual}, true
}

// perUnitHypothesis fits a fixed pennies-off-per-unit policy, where the unit
// count is cases for per_case and litre equivalents for per_litre. The
// implied per-unit value is rounded to the nearest penny.
func (s *Solver) perUnitHypothesis(kind model.DiscountKind, naive, observed int64, units float64) (hypothesis, bool) {
	if units <= 0 {
		return hypothesis{}, false
	}
	unitsDec := decimal.NewFromFloat(units)
	shortfall := decimal.NewFromInt(naive - observed)

	perUnit := shortfall.Div(unitsDec).Round(0)
	perUnitF, _ := perUnit.Float64()
	if perUnitF < 0 {
		return hypothesis{}, false
	}

	predicted := decimal.NewFromInt(naive).Sub(perUnit.Mul(unitsDec).Round(0))
	residual := decimal.NewFromInt(observed).Sub(predicted).Abs().IntPart()

	return hypothesis{kind: kind, value: perUnitF, residual: residual}, true
}

// confidence decreases linearly as the residual approaches the cap.
func (s *Solver) confidence(residual int64) float64 {
	c := 1 - float64(residual)/float64(s.cfg.ResidualCapPennies)
	if c < 0 {
		return 0
	}
	return c
}
