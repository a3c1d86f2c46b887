package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/service"
)

// seedPairScenario populates three invoices: one cleanly matched, one with
// mixed lines, one with no link at all.
func seedPairScenario(t *testing.T, store *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mustSaveDocument(t, store, testInvoice("inv-clean", date, 2200), testLines("inv-clean", 1))
	mustSaveDocument(t, store, testDeliveryNote("dn-clean", date, 2200), testLines("dn-clean", 1))
	mustSaveDocument(t, store, testInvoice("inv-mixed", date.AddDate(0, 0, 1), 6600), testLines("inv-mixed", 2))
	mustSaveDocument(t, store, testDeliveryNote("dn-mixed", date.AddDate(0, 0, 1), 6600), testLines("dn-mixed", 2))
	mustSaveDocument(t, store, testInvoice("inv-alone", date.AddDate(0, 0, 2), 900), nil)

	clean := []model.MatchLink{{
		ID: "ml-clean", InvoiceID: "inv-clean", DeliveryNoteID: "dn-clean",
		Score: 0.97, Status: model.MatchPending,
	}}
	cleanLines := map[string][]model.LineLink{
		"ml-clean": {
			{MatchLinkID: "ml-clean", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0), Confidence: 1, Status: model.LineOK},
		},
	}
	if err := store.ReplaceMatchResults(ctx, "inv-clean", clean, cleanLines, nil); err != nil {
		t.Fatalf("Failed to seed clean pair: %v", err)
	}

	mixed := []model.MatchLink{{
		ID: "ml-mixed", InvoiceID: "inv-mixed", DeliveryNoteID: "dn-mixed",
		Score: 0.81, Status: model.MatchPending,
	}}
	mixedLines := map[string][]model.LineLink{
		"ml-mixed": {
			{MatchLinkID: "ml-mixed", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0), Confidence: 1, Status: model.LineOK},
			{MatchLinkID: "ml-mixed", InvoiceLineIdx: intPtr(1), Status: model.LineMissingOnDN,
				Flags: model.NewFlagSet(model.FlagMissingOnDN)},
		},
	}
	if err := store.ReplaceMatchResults(ctx, "inv-mixed", mixed, mixedLines, nil); err != nil {
		t.Fatalf("Failed to seed mixed pair: %v", err)
	}
}

func TestListPairs(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedPairScenario(t, store)

	pairs, err := store.ListPairs(ctx, service.PairFilter{})
	if err != nil {
		t.Fatalf("ListPairs failed: %v", err)
	}
	if len(pairs) != 3 {
		t.Fatalf("Got %d pairs, want 3", len(pairs))
	}

	byInvoice := make(map[string]service.PairSummary, len(pairs))
	for _, p := range pairs {
		byInvoice[p.InvoiceID] = p
	}

	if got := byInvoice["inv-clean"].Status; got != service.PairMatched {
		t.Errorf("inv-clean status = %q, want matched", got)
	}
	if got := byInvoice["inv-mixed"].Status; got != service.PairPartial {
		t.Errorf("inv-mixed status = %q, want partial", got)
	}
	if got := byInvoice["inv-alone"].Status; got != service.PairUnmatched {
		t.Errorf("inv-alone status = %q, want unmatched", got)
	}
	if byInvoice["inv-alone"].MatchLinkID != "" {
		t.Error("Unmatched invoice should carry no link id")
	}
	if byInvoice["inv-mixed"].LinesOK != 1 || byInvoice["inv-mixed"].LinesFlagged != 1 {
		t.Errorf("inv-mixed line counts = %d/%d, want 1/1",
			byInvoice["inv-mixed"].LinesOK, byInvoice["inv-mixed"].LinesFlagged)
	}
}

func TestListPairsConflict(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	mustSaveDocument(t, store, testInvoice("inv-1", date, 2200), testLines("inv-1", 1))
	mustSaveDocument(t, store, testDeliveryNote("dn-1", date, 9900), testLines("dn-1", 1))
	links := []model.MatchLink{{
		ID: "ml-1", InvoiceID: "inv-1", DeliveryNoteID: "dn-1",
		Score: 0.75, Status: model.MatchPending,
	}}
	lines := map[string][]model.LineLink{
		"ml-1": {
			{MatchLinkID: "ml-1", InvoiceLineIdx: intPtr(0), DNLineIdx: intPtr(0),
				Status: model.LinePriceMismatch, Flags: model.NewFlagSet(model.FlagPriceDrift)},
		},
	}
	if err := store.ReplaceMatchResults(ctx, "inv-1", links, lines, nil); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	pairs, err := store.ListPairs(ctx, service.PairFilter{Status: service.PairConflict})
	if err != nil {
		t.Fatalf("ListPairs failed: %v", err)
	}
	if len(pairs) != 1 || pairs[0].InvoiceID != "inv-1" {
		t.Errorf("Expected inv-1 as conflict, got %+v", pairs)
	}
}

func TestListPairsPrefersConfirmedLink(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	mustSaveDocument(t, store, testInvoice("inv-1", date, 2200), nil)
	mustSaveDocument(t, store, testDeliveryNote("dn-best", date, 2200), nil)
	mustSaveDocument(t, store, testDeliveryNote("dn-user", date, 2300), nil)

	links := []model.MatchLink{
		{ID: "ml-best", InvoiceID: "inv-1", DeliveryNoteID: "dn-best", Score: 0.95, Status: model.MatchPending},
		{ID: "ml-user", InvoiceID: "inv-1", DeliveryNoteID: "dn-user", Score: 0.60, Status: model.MatchPending},
	}
	if err := store.ReplaceMatchResults(ctx, "inv-1", links, nil, nil); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
	if err := store.AcceptMatch(ctx, "ml-user", "alice"); err != nil {
		t.Fatalf("AcceptMatch failed: %v", err)
	}

	pairs, err := store.ListPairs(ctx, service.PairFilter{})
	if err != nil {
		t.Fatalf("ListPairs failed: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("Got %d pairs, want 1", len(pairs))
	}
	// The user's confirmation outranks the higher-scoring suggestion.
	if pairs[0].MatchLinkID != "ml-user" {
		t.Errorf("Carrying link = %s, want ml-user", pairs[0].MatchLinkID)
	}
	if pairs[0].MatchStatus != model.MatchConfirmed {
		t.Errorf("MatchStatus = %q, want confirmed", pairs[0].MatchStatus)
	}
}

func TestListPairsPagination(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		doc := testInvoice(fmt.Sprintf("inv-%d", i), base.AddDate(0, 0, i), int64(1000+i))
		mustSaveDocument(t, store, doc, nil)
	}

	page, err := store.ListPairs(ctx, service.PairFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListPairs failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("Got %d pairs, want 2", len(page))
	}
	if page[0].InvoiceID != "inv-2" || page[1].InvoiceID != "inv-3" {
		t.Errorf("Page = %s,%s, want inv-2,inv-3", page[0].InvoiceID, page[1].InvoiceID)
	}

	empty, err := store.ListPairs(ctx, service.PairFilter{Offset: 99})
	if err != nil {
		t.Fatalf("ListPairs failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Offset past the end should yield nothing, got %d", len(empty))
	}
}

func TestGetPairDetail(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	seedPair(t, store, "inv-1", "dn-1", "ml-1")
	if err := store.ReplaceDocumentFlags(ctx, "inv-1", model.NewFlagSet(model.FlagTotalMismatch)); err != nil {
		t.Fatalf("ReplaceDocumentFlags failed: %v", err)
	}

	detail, err := store.GetPairDetail(ctx, "ml-1")
	if err != nil {
		t.Fatalf("GetPairDetail failed: %v", err)
	}
	if detail.Link.ID != "ml-1" {
		t.Errorf("Link ID = %s, want ml-1", detail.Link.ID)
	}
	if detail.Invoice.ID != "inv-1" {
		t.Errorf("Invoice ID = %s, want inv-1", detail.Invoice.ID)
	}
	if detail.Delivery == nil || detail.Delivery.ID != "dn-1" {
		t.Errorf("Delivery = %+v, want dn-1", detail.Delivery)
	}
	if len(detail.Lines) != 2 {
		t.Errorf("Got %d lines, want 2", len(detail.Lines))
	}
	if len(detail.Discounts) != 1 {
		t.Errorf("Got %d discounts, want 1", len(detail.Discounts))
	}
	if !detail.InvoiceFlags.Has(model.FlagTotalMismatch) {
		t.Error("Invoice flags should carry TOTAL_MISMATCH")
	}

	if _, err := store.GetPairDetail(ctx, "nope"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
