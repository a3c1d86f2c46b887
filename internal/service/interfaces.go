// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/fenwick-systems/docket/internal/model"
)

// PairStatus groups MatchLinks for the serving layer's summary view.
type PairStatus string

// Pair status constants.
const (
	PairMatched   PairStatus = "matched"
	PairPartial   PairStatus = "partial"
	PairConflict  PairStatus = "conflict"
	PairUnmatched PairStatus = "unmatched"
)

// PairFilter defines pagination and filtering options for pair queries.
type PairFilter struct {
	Status PairStatus
	Limit  int
	Offset int
}

// PairSummary is one row of the grouped summary exposed to the serving
// layer.
type PairSummary struct {
	CreatedAt      time.Time
	MatchLinkID    string
	InvoiceID      string
	DeliveryNoteID string
	Supplier       string
	Status         PairStatus
	MatchStatus    model.MatchStatus
	Score          float64
	LinesOK        int
	LinesFlagged   int
}

// PairDetail is the full picture of one pairing.
type PairDetail struct {
	Link         model.MatchLink
	Invoice      model.Document
	Delivery     *model.Document
	Lines        []model.LineLink
	Discounts    []model.DiscountRecord
	InvoiceFlags model.FlagSet
	DNFlags      model.FlagSet
}

// RebuildFailure records one invoice that failed during a batch rebuild.
// The batch continues past failures; only configuration errors abort it.
type RebuildFailure struct {
	InvoiceID string
	Err       error
}

// RebuildStats summarizes one rebuild run.
type RebuildStats struct {
	Duration  time.Duration
	Processed int
	Matched   int
	Unmatched int
	Failures  []RebuildFailure
}

// Storage defines the contract for the reconciliation persistence layer.
type Storage interface {
	// Document operations. Documents and lines are ingested snapshots
	// owned by the upstream parsing collaborator.
	SaveDocument(ctx context.Context, doc *model.Document, lines []model.LineItem) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	GetDocumentLines(ctx context.Context, id string) ([]model.LineItem, error)
	GetInvoicesSince(ctx context.Context, since time.Time, limit int) ([]model.Document, error)
	GetDeliveryNoteCandidates(ctx context.Context, supplier string, around time.Time, windowDays int) ([]model.Document, error)

	// Match operations. ReplaceMatchResults swaps the whole result set
	// for one invoice atomically: links, line links, discounts, flags.
	ReplaceMatchResults(ctx context.Context, invoiceID string, links []model.MatchLink, lines map[string][]model.LineLink, discounts map[string][]model.DiscountRecord) error
	GetMatchLink(ctx context.Context, id string) (*model.MatchLink, error)
	GetMatchLinksForInvoice(ctx context.Context, invoiceID string) ([]model.MatchLink, error)
	GetLineLinks(ctx context.Context, matchLinkID string) ([]model.LineLink, error)
	GetDiscounts(ctx context.Context, matchLinkID string) ([]model.DiscountRecord, error)
	UpdateMatchStatus(ctx context.Context, id string, status model.MatchStatus) error

	// Flag operations. Flags are recomputed per run: replace, never append.
	ReplaceDocumentFlags(ctx context.Context, documentID string, flags model.FlagSet) error
	GetDocumentFlags(ctx context.Context, documentID string) (model.FlagSet, error)

	// Serving-layer reads.
	ListPairs(ctx context.Context, filter PairFilter) ([]PairSummary, error)
	GetPairDetail(ctx context.Context, matchLinkID string) (*PairDetail, error)

	// Mutations. Each runs in its own transaction and appends one audit
	// entry; partially-applied state is never visible.
	AcceptMatch(ctx context.Context, matchLinkID, actor string) error
	OverrideMatch(ctx context.Context, matchLinkID, newDeliveryNoteID, actor string) error
	ResolveLine(ctx context.Context, lineLinkID int64, resolution model.LineResolution, actor string) error

	// Audit trail. Append-only; there is no update or delete.
	GetAuditTrail(ctx context.Context, matchLinkID string) ([]model.AuditEntry, error)

	// Database management.
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction over the same contract.
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}
