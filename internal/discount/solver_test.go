package discount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-systems/docket/internal/model"
)

func newTestSolver(t *testing.T) *Solver {
	t.Helper()
	solver, err := NewSolver(DefaultConfig())
	require.NoError(t, err)
	return solver
}

func TestNewSolver(t *testing.T) {
	_, err := NewSolver(Config{ResidualCapPennies: 0})
	assert.Error(t, err)

	_, err = NewSolver(DefaultConfig())
	assert.NoError(t, err)
}

func TestSolvePercent(t *testing.T) {
	solver := newTestSolver(t)

	// A single keg listed at 60.55 but invoiced at 32.22 hides a
	// percent-off policy near 46.8%.
	line := model.LineItem{
		RowIndex:         2,
		Description:      "Keg 50L",
		Quantity:         1,
		UnitPricePennies: 6055,
		TotalPennies:     3222,
		UOM:              "each",
	}

	rec := solver.Solve(line)
	require.NotNil(t, rec)
	assert.Equal(t, model.DiscountPercent, rec.Kind)
	assert.Equal(t, 2, rec.LineIdx)
	assert.InDelta(t, 46.8, rec.Value, 1.0)
	assert.Less(t, rec.ResidualPennies, int64(50))
	assert.Greater(t, rec.Confidence, 0.9)
}

func TestSolvePerCase(t *testing.T) {
	solver := newTestSolver(t)

	// 10 cases at 24.00 each with exactly 1.50 off per case.
	line := model.LineItem{
		RowIndex:         0,
		Description:      "Wildhorse IPA",
		Quantity:         10,
		UnitPricePennies: 2400,
		TotalPennies:     22500,
		UOM:              "case",
	}

	rec := solver.Solve(line)
	require.NotNil(t, rec)
	assert.Equal(t, int64(0), rec.ResidualPennies)
	assert.InDelta(t, 1.0, rec.Confidence, 1e-9)
	// 150 pennies per case also reads as an exact 6.25%; both reproduce
	// the observed total, so either explanation is acceptable here.
	assert.Contains(t, []model.DiscountKind{model.DiscountPercent, model.DiscountPerCase}, rec.Kind)
}

func TestSolvePerCaseBeatsRoundedPercent(t *testing.T) {
	solver := newTestSolver(t)

	// 7 cases with 37p off each: the per-case fit is exact while the
	// implied percentage does not round cleanly to 0.1%.
	line := model.LineItem{
		RowIndex:         1,
		Quantity:         7,
		UnitPricePennies: 3163,
		TotalPennies:     21882,
		UOM:              "case",
	}

	rec := solver.Solve(line)
	require.NotNil(t, rec)
	assert.Equal(t, model.DiscountPerCase, rec.Kind)
	assert.InDelta(t, 37, rec.Value, 1e-9)
	assert.Equal(t, int64(0), rec.ResidualPennies)
}

func TestSolvePerLitre(t *testing.T) {
	solver := newTestSolver(t)

	// 2 multipacks of 24 x 330ml = 15.84 litres, 50p off per litre.
	line := model.LineItem{
		RowIndex:         3,
		Quantity:         2,
		UnitPricePennies: 4400,
		TotalPennies:     8008,
		UOM:              "24 x 330ml",
	}

	rec := solver.Solve(line)
	require.NotNil(t, rec)
	assert.Contains(t, []model.DiscountKind{model.DiscountPercent, model.DiscountPerCase, model.DiscountPerLitre}, rec.Kind)
	assert.Less(t, rec.ResidualPennies, int64(50))
}

func TestSolveNoDiscount(t *testing.T) {
	solver := newTestSolver(t)

	tests := []struct {
		name string
		line model.LineItem
	}{
		{
			name: "full price line",
			line: model.LineItem{Quantity: 3, UnitPricePennies: 2000, TotalPennies: 6000},
		},
		{
			name: "observed above naive",
			line: model.LineItem{Quantity: 3, UnitPricePennies: 2000, TotalPennies: 6500},
		},
		{
			name: "zero quantity",
			line: model.LineItem{Quantity: 0, UnitPricePennies: 2000, TotalPennies: 1000},
		},
		{
			name: "zero unit price",
			line: model.LineItem{Quantity: 3, UnitPricePennies: 0, TotalPennies: 1000},
		},
		{
			name: "zero observed total",
			line: model.LineItem{Quantity: 3, UnitPricePennies: 2000, TotalPennies: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, solver.Solve(tt.line))
		})
	}
}

func TestConfidenceShrinksWithResidual(t *testing.T) {
	solver := newTestSolver(t)
	assert.InDelta(t, 1.0, solver.confidence(0), 1e-9)
	assert.InDelta(t, 0.5, solver.confidence(25), 1e-9)
	assert.InDelta(t, 0.02, solver.confidence(49), 1e-9)
}
