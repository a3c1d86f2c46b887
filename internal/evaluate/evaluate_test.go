package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-systems/docket/internal/model"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator(DefaultConfig())
	require.NoError(t, err)
	return ev
}

func intPtr(v int) *int { return &v }

func TestNewEvaluator(t *testing.T) {
	_, err := NewEvaluator(Config{PriceTolRel: 1.5})
	assert.Error(t, err)

	_, err = NewEvaluator(DefaultConfig())
	assert.NoError(t, err)
}

func TestDocumentFlags(t *testing.T) {
	ev := newTestEvaluator(t)

	lines := []model.LineItem{
		{RowIndex: 0, TotalPennies: 40000},
		{RowIndex: 1, TotalPennies: 20000},
	}

	tests := []struct {
		name        string
		headerTotal int64
		wantFlag    model.Flag
		wantFlagged bool
	}{
		{
			// 600.00 header vs 600.00 line sum.
			name:        "exact agreement",
			headerTotal: 60000,
			wantFlagged: false,
		},
		{
			// 605.00 header: off by 5.00, inside the 3% band.
			name:        "inside tolerance",
			headerTotal: 60500,
			wantFlagged: false,
		},
		{
			// 700.00 header: off by 100.00, well outside 3%.
			name:        "outside tolerance",
			headerTotal: 70000,
			wantFlag:    model.FlagTotalMismatch,
			wantFlagged: true,
		},
		{
			name:        "missing header falls back to line sum",
			headerTotal: 0,
			wantFlag:    model.FlagSubtotalFallback,
			wantFlagged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := model.Document{ID: "inv-1", Kind: model.KindInvoice, TotalPennies: tt.headerTotal}
			fs := ev.DocumentFlags(doc, lines)
			if tt.wantFlagged {
				require.Equal(t, 1, fs.Len())
				assert.True(t, fs.Has(tt.wantFlag))
			} else {
				assert.Zero(t, fs.Len())
			}
		})
	}
}

func TestDocumentFlagsMinimumTolerance(t *testing.T) {
	ev := newTestEvaluator(t)

	// 3% of a 20p header is under a penny; the tolerance floors at 1p.
	doc := model.Document{ID: "inv-1", TotalPennies: 20}
	lines := []model.LineItem{{RowIndex: 0, TotalPennies: 19}}
	assert.Zero(t, ev.DocumentFlags(doc, lines).Len())

	lines[0].TotalPennies = 18
	assert.True(t, ev.DocumentFlags(doc, lines).Has(model.FlagTotalMismatch))
}

func TestEvaluateLines(t *testing.T) {
	ev := newTestEvaluator(t)

	inv := model.Document{ID: "inv-1", Kind: model.KindInvoice, TotalPennies: 4400}
	dn := model.Document{ID: "dn-1", Kind: model.KindDeliveryNote, TotalPennies: 4400}
	invLines := []model.LineItem{
		{RowIndex: 0, DocumentID: "inv-1", Quantity: 2, UnitPricePennies: 2200, TotalPennies: 4400},
	}
	dnLines := []model.LineItem{
		{RowIndex: 0, DocumentID: "dn-1", Quantity: 2, UnitPricePennies: 2200, TotalPennies: 4400},
	}

	t.Run("clean pair", func(t *testing.T) {
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, invLines, dn, dnLines, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineOK, res.Lines[0].Status)
		assert.Zero(t, res.Lines[0].Flags.Len())
		assert.Zero(t, res.Lines[0].QtyDelta)
		assert.Zero(t, res.Lines[0].PriceDeltaPennies)
	})

	t.Run("quantity drift", func(t *testing.T) {
		short := []model.LineItem{
			{RowIndex: 0, DocumentID: "dn-1", Quantity: 1, UnitPricePennies: 2200, TotalPennies: 2200},
		}
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, invLines, dn, short, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineQtyMismatch, res.Lines[0].Status)
		assert.True(t, res.Lines[0].Flags.Has(model.FlagQtyDrift))
		assert.InDelta(t, 1.0, res.Lines[0].QtyDelta, 1e-9)
	})

	t.Run("price drift outside tolerance", func(t *testing.T) {
		pricey := []model.LineItem{
			{RowIndex: 0, DocumentID: "dn-1", Quantity: 2, UnitPricePennies: 2000, TotalPennies: 4000},
		}
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, invLines, dn, pricey, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LinePriceMismatch, res.Lines[0].Status)
		assert.True(t, res.Lines[0].Flags.Has(model.FlagPriceDrift))
		assert.Equal(t, int64(200), res.Lines[0].PriceDeltaPennies)
	})

	t.Run("price gap inside tolerance is ok", func(t *testing.T) {
		near := []model.LineItem{
			{RowIndex: 0, DocumentID: "dn-1", Quantity: 2, UnitPricePennies: 2150, TotalPennies: 4300},
		}
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, invLines, dn, near, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineOK, res.Lines[0].Status)
	})

	t.Run("missing on delivery note", func(t *testing.T) {
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, invLines, dn, nil, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineMissingOnDN, res.Lines[0].Status)
		assert.True(t, res.Lines[0].Flags.Has(model.FlagMissingOnDN))
	})

	t.Run("missing on invoice", func(t *testing.T) {
		links := []model.LineLink{{MatchLinkID: "ml-1", DNLineIdx: intPtr(0)}}
		res := ev.Evaluate(inv, nil, dn, dnLines, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineMissingOnInv, res.Lines[0].Status)
		assert.True(t, res.Lines[0].Flags.Has(model.FlagMissingOnInv))
	})

	t.Run("dangling row index evaluates against a zero baseline", func(t *testing.T) {
		links := []model.LineLink{{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(99)}}
		res := ev.Evaluate(inv, invLines, dn, dnLines, links)
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineQtyMismatch, res.Lines[0].Status)
		assert.InDelta(t, 2.0, res.Lines[0].QtyDelta, 1e-9)
	})

	t.Run("flags replace previous verdicts", func(t *testing.T) {
		stale := model.LineLink{
			MatchLinkID:    "ml-1",
			InvoiceLineIdx: intPtr(0),
			DNLineIdx:      intPtr(0),
			Status:         model.LineQtyMismatch,
			Flags:          model.NewFlagSet(model.FlagQtyDrift, model.FlagPriceDrift),
		}
		res := ev.Evaluate(inv, invLines, dn, dnLines, []model.LineLink{stale})
		require.Len(t, res.Lines, 1)
		assert.Equal(t, model.LineOK, res.Lines[0].Status)
		assert.Zero(t, res.Lines[0].Flags.Len())
	})
}
