package engine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/storage"
)

func newTestEngine(t *testing.T) (*ReconcileEngine, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	eng, err := New(store, DefaultConfig())
	require.NoError(t, err)
	return eng, store
}

func saveDoc(t *testing.T, store *storage.SQLiteStorage, doc model.Document, lines []model.LineItem) {
	t.Helper()
	require.NoError(t, store.SaveDocument(context.Background(), &doc, lines))
}

func seedMatchedPair(t *testing.T, store *storage.SQLiteStorage, date time.Time) {
	t.Helper()
	saveDoc(t, store, model.Document{
		ID:           "inv-1",
		Kind:         model.KindInvoice,
		SupplierName: "Wildhorse Brewing Ltd",
		Reference:    "INV-1",
		Date:         date,
		TotalPennies: 33000,
	}, []model.LineItem{
		{DocumentID: "inv-1", RowIndex: 0, Description: "Wildhorse IPA", Quantity: 10, UnitPricePennies: 2400, TotalPennies: 24000, UOM: "case"},
		// Nett 90.00 against a naive 100.00: a hidden 10% discount.
		{DocumentID: "inv-1", RowIndex: 1, Description: "Wildhorse Stout", Quantity: 5, UnitPricePennies: 2000, TotalPennies: 9000, UOM: "case"},
	})
	saveDoc(t, store, model.Document{
		ID:           "dn-1",
		Kind:         model.KindDeliveryNote,
		SupplierName: "Wildhorse Brewing",
		Reference:    "DN-1",
		Date:         date.AddDate(0, 0, 1),
		TotalPennies: 34000,
	}, []model.LineItem{
		{DocumentID: "dn-1", RowIndex: 0, Description: "Wildhorse IPA", Quantity: 10, UnitPricePennies: 2400, TotalPennies: 24000, UOM: "case"},
		{DocumentID: "dn-1", RowIndex: 1, Description: "Wildhorse Stout", Quantity: 5, UnitPricePennies: 2000, TotalPennies: 10000, UOM: "case"},
	})
	// Same week, unrelated supplier: survives the coarse cut but must
	// never outrank the real note.
	saveDoc(t, store, model.Document{
		ID:           "dn-decoy",
		Kind:         model.KindDeliveryNote,
		SupplierName: "Fresh Foods Ltd",
		Reference:    "DN-9",
		Date:         date.AddDate(0, 0, 2),
		TotalPennies: 500,
	}, []model.LineItem{
		{DocumentID: "dn-decoy", RowIndex: 0, Description: "Lettuce", Quantity: 4, UnitPricePennies: 125, TotalPennies: 500, UOM: "each"},
	})
}

func TestReconcile(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedMatchedPair(t, store, date)

	result, err := eng.Reconcile(ctx, "inv-1")
	require.NoError(t, err)

	assert.True(t, result.Matched)
	assert.Equal(t, 2, result.LinesOK)
	assert.Zero(t, result.LinesFlagged)
	assert.Equal(t, 1, result.Discounts)
	assert.Greater(t, result.BestScore, 0.72)

	links, err := store.GetMatchLinksForInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.NotEmpty(t, links)
	best := links[0]
	assert.Equal(t, "dn-1", best.DeliveryNoteID)
	assert.Equal(t, model.MatchPending, best.Status)
	assert.Len(t, best.Reasons, 4)

	lineLinks, err := store.GetLineLinks(ctx, best.ID)
	require.NoError(t, err)
	require.Len(t, lineLinks, 2)
	for _, ll := range lineLinks {
		assert.Equal(t, model.LineOK, ll.Status)
	}
	assert.True(t, lineLinks[1].Flags.Has(model.FlagDiscountApplied))

	discounts, err := store.GetDiscounts(ctx, best.ID)
	require.NoError(t, err)
	require.Len(t, discounts, 1)
	assert.Equal(t, 1, discounts[0].LineIdx)
	assert.Less(t, discounts[0].ResidualPennies, int64(50))

	invFlags, err := store.GetDocumentFlags(ctx, "inv-1")
	require.NoError(t, err)
	assert.Zero(t, invFlags.Len(), "header and line sum agree")
}

func TestReconcileUnmatched(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	saveDoc(t, store, model.Document{
		ID:           "inv-lonely",
		Kind:         model.KindInvoice,
		SupplierName: "Wildhorse Brewing Ltd",
		Date:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		TotalPennies: 1000,
	}, []model.LineItem{
		{DocumentID: "inv-lonely", RowIndex: 0, Description: "Keg", Quantity: 1, UnitPricePennies: 1000, TotalPennies: 1000},
	})

	result, err := eng.Reconcile(ctx, "inv-lonely")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Zero(t, result.Candidates)

	links, err := store.GetMatchLinksForInvoice(ctx, "inv-lonely")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestReconcileRejectsNonInvoice(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()

	saveDoc(t, store, model.Document{
		ID:           "dn-1",
		Kind:         model.KindDeliveryNote,
		SupplierName: "Wildhorse",
		Date:         time.Now(),
	}, nil)

	_, err := eng.Reconcile(ctx, "dn-1")
	assert.Error(t, err)

	_, err = eng.Reconcile(ctx, "ghost")
	assert.Error(t, err)
}

func TestReconcileIsRepeatable(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedMatchedPair(t, store, date)

	_, err := eng.Reconcile(ctx, "inv-1")
	require.NoError(t, err)
	first, err := store.GetMatchLinksForInvoice(ctx, "inv-1")
	require.NoError(t, err)

	_, err = eng.Reconcile(ctx, "inv-1")
	require.NoError(t, err)
	second, err := store.GetMatchLinksForInvoice(ctx, "inv-1")
	require.NoError(t, err)

	// Pending suggestions are replaced wholesale, never duplicated.
	require.Len(t, second, len(first))
	for i := range second {
		assert.Equal(t, first[i].DeliveryNoteID, second[i].DeliveryNoteID)
		assert.InDelta(t, first[i].Score, second[i].Score, 1e-9)
	}
}

func TestReconcilePreservesUserDecision(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedMatchedPair(t, store, date)

	_, err := eng.Reconcile(ctx, "inv-1")
	require.NoError(t, err)
	links, err := store.GetMatchLinksForInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.NotEmpty(t, links)
	require.NoError(t, store.AcceptMatch(ctx, links[0].ID, "alice"))

	_, err = eng.Reconcile(ctx, "inv-1")
	require.NoError(t, err)

	link, err := store.GetMatchLink(ctx, links[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchConfirmed, link.Status)

	// The rerun's line links must land under the confirmed link, not
	// under the fresh id the engine proposed for the same pair.
	lineLinks, err := store.GetLineLinks(ctx, links[0].ID)
	require.NoError(t, err)
	require.Len(t, lineLinks, 2)
	for _, ll := range lineLinks {
		assert.Equal(t, links[0].ID, ll.MatchLinkID)
		require.NotNil(t, ll.InvoiceLineIdx)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "cfg.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	cfg := DefaultConfig()
	cfg.Match.Weights.Supplier = 0.9
	_, err = New(store, cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Discount.ResidualCapPennies = -1
	_, err = New(store, cfg)
	assert.Error(t, err)
}

func TestRebuild(t *testing.T) {
	eng, store := newTestEngine(t)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	seedMatchedPair(t, store, date)

	// Dated three weeks clear of every delivery note, so no candidate
	// survives the date window.
	saveDoc(t, store, model.Document{
		ID:           "inv-lonely",
		Kind:         model.KindInvoice,
		SupplierName: "Nobody Knows Ltd",
		Date:         date.AddDate(0, 0, 21),
		TotalPennies: 777,
	}, nil)

	var units atomic.Int64
	stats, err := eng.Rebuild(ctx, RebuildOptions{
		Workers: 2,
		OnUnit:  func() { units.Add(1) },
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.Unmatched)
	assert.Empty(t, stats.Failures)
	assert.Equal(t, int64(2), units.Load())
	assert.Positive(t, stats.Duration)
}

func TestSinceCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.True(t, sinceCutoff(0, now).IsZero())
	assert.Equal(t, now.AddDate(0, 0, -30), sinceCutoff(30, now))
}
