// Package engine orchestrates reconciliation: scoring one invoice against
// its delivery note candidates, pairing lines, explaining discounts and
// persisting the result as one transactional unit of work.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-systems/docket/internal/discount"
	"github.com/fenwick-systems/docket/internal/evaluate"
	"github.com/fenwick-systems/docket/internal/match"
	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/service"
)

// prefilterFloor cuts obviously unrelated candidates before line-level work.
const prefilterFloor = 0.3

// Config bundles the per-component configurations plus engine tunables.
type Config struct {
	Match    match.Config
	Discount discount.Config
	Evaluate evaluate.Config
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Match:    match.DefaultConfig(),
		Discount: discount.DefaultConfig(),
		Evaluate: evaluate.DefaultConfig(),
	}
}

// ReconcileEngine pairs invoices with delivery notes and persists verdicts.
type ReconcileEngine struct {
	storage   service.Storage
	scorer    *match.Scorer
	solver    *discount.Solver
	evaluator *evaluate.Evaluator
}

// New validates every component config up front and builds the engine; a
// bad tolerance aborts here, never mid-batch.
func New(storage service.Storage, cfg Config) (*ReconcileEngine, error) {
	scorer, err := match.NewScorer(cfg.Match)
	if err != nil {
		return nil, err
	}
	solver, err := discount.NewSolver(cfg.Discount)
	if err != nil {
		return nil, err
	}
	evaluator, err := evaluate.NewEvaluator(cfg.Evaluate)
	if err != nil {
		return nil, err
	}
	return &ReconcileEngine{
		storage:   storage,
		scorer:    scorer,
		solver:    solver,
		evaluator: evaluator,
	}, nil
}

// UnitResult summarizes one invoice's reconciliation.
type UnitResult struct {
	InvoiceID    string
	BestScore    float64
	Candidates   int
	LinesOK      int
	LinesFlagged int
	Discounts    int
	Matched      bool
}

// Reconcile runs the full pipeline for one invoice and commits the result
// in a single transaction. The previous committed state stays untouched on
// any failure.
func (e *ReconcileEngine) Reconcile(ctx context.Context, invoiceID string) (*UnitResult, error) {
	inv, err := e.storage.GetDocument(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Kind != model.KindInvoice {
		return nil, fmt.Errorf("document %s is a %s, not an invoice", invoiceID, inv.Kind)
	}
	invLines, err := e.storage.GetDocumentLines(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	pool, err := e.loadCandidates(ctx, inv)
	if err != nil {
		return nil, err
	}

	ranked := e.scorer.RankCandidates(*inv, invLines, pool)
	result := &UnitResult{InvoiceID: invoiceID, Candidates: len(ranked)}

	links := make([]model.MatchLink, 0, len(ranked))
	lineLinks := make(map[string][]model.LineLink)
	discounts := make(map[string][]model.DiscountRecord)
	invoiceFlags := e.evaluator.DocumentFlags(*inv, invLines)

	var topDN *model.Document
	var topDNFlags model.FlagSet

	for i, cand := range ranked {
		link := model.MatchLink{
			ID:             uuid.NewString(),
			InvoiceID:      invoiceID,
			DeliveryNoteID: cand.Document.ID,
			Score:          cand.Score,
			Status:         model.MatchPending,
			Reasons:        cand.Reasons,
		}
		links = append(links, link)

		// Line-level work only for the best candidate; the rest are
		// document-level suggestions.
		if i != 0 {
			continue
		}
		result.BestScore = cand.Score

		dnLines, linesErr := e.storage.GetDocumentLines(ctx, cand.Document.ID)
		if linesErr != nil {
			return nil, linesErr
		}

		assignments := e.scorer.AssignLines(invLines, dnLines)
		rawLinks := make([]model.LineLink, 0, len(assignments))
		for _, a := range assignments {
			rawLinks = append(rawLinks, model.LineLink{
				MatchLinkID:    link.ID,
				InvoiceLineIdx: a.InvIdx,
				DNLineIdx:      a.DNIdx,
				Confidence:     a.Score.Total,
				Status:         a.Status,
			})
		}

		dn := cand.Document
		evaluated := e.evaluator.Evaluate(*inv, invLines, dn, dnLines, rawLinks)
		invoiceFlags = evaluated.InvoiceFlags

		recs := e.solveDiscounts(link.ID, invLines)
		markDiscountedLines(evaluated.Lines, recs)

		lineLinks[link.ID] = evaluated.Lines
		discounts[link.ID] = recs

		topDN = &dn
		topDNFlags = evaluated.DNFlags
		result.Discounts = len(recs)
		for _, ll := range evaluated.Lines {
			if ll.Status == model.LineOK {
				result.LinesOK++
			} else {
				result.LinesFlagged++
			}
		}
		result.Matched = true
	}

	if err := e.persist(ctx, invoiceID, links, lineLinks, discounts, invoiceFlags, topDN, topDNFlags); err != nil {
		return nil, err
	}

	slog.Debug("Reconciled invoice",
		"invoice_id", invoiceID,
		"candidates", result.Candidates,
		"best_score", result.BestScore,
		"lines_ok", result.LinesOK,
		"lines_flagged", result.LinesFlagged,
		"discounts", result.Discounts)
	return result, nil
}

// loadCandidates pulls the delivery note pool and trims it with the coarse
// pre-filter before any line fetching happens.
func (e *ReconcileEngine) loadCandidates(ctx context.Context, inv *model.Document) ([]match.Candidate, error) {
	windowDays := e.scorer.Config().DateWindowDays
	docs, err := e.storage.GetDeliveryNoteCandidates(ctx, inv.SupplierName, inv.Date, windowDays)
	if err != nil {
		return nil, err
	}

	var pool []match.Candidate
	for _, dn := range docs {
		if e.scorer.Prefilter(*inv, dn) < prefilterFloor {
			continue
		}
		lines, linesErr := e.storage.GetDocumentLines(ctx, dn.ID)
		if linesErr != nil {
			return nil, linesErr
		}
		pool = append(pool, match.Candidate{Document: dn, Lines: lines})
	}
	return pool, nil
}

// solveDiscounts runs the solver over every invoice line that came in under
// its naive expectation.
func (e *ReconcileEngine) solveDiscounts(matchLinkID string, invLines []model.LineItem) []model.DiscountRecord {
	var recs []model.DiscountRecord
	for _, line := range invLines {
		if rec := e.solver.Solve(line); rec != nil {
			rec.MatchLinkID = matchLinkID
			recs = append(recs, *rec)
		}
	}
	return recs
}

// markDiscountedLines flags line links whose invoice row carries an
// accepted discount.
func markDiscountedLines(links []model.LineLink, recs []model.DiscountRecord) {
	discounted := make(map[int]bool, len(recs))
	for _, r := range recs {
		discounted[r.LineIdx] = true
	}
	for i := range links {
		if links[i].InvoiceLineIdx != nil && discounted[*links[i].InvoiceLineIdx] {
			links[i].Flags.Add(model.FlagDiscountApplied)
		}
	}
}

// persist commits the whole unit of work in one transaction.
func (e *ReconcileEngine) persist(ctx context.Context, invoiceID string, links []model.MatchLink, lineLinks map[string][]model.LineLink, discounts map[string][]model.DiscountRecord, invoiceFlags model.FlagSet, topDN *model.Document, topDNFlags model.FlagSet) error {
	tx, err := e.storage.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.ReplaceMatchResults(ctx, invoiceID, links, lineLinks, discounts); err != nil {
		return err
	}
	if err := tx.ReplaceDocumentFlags(ctx, invoiceID, invoiceFlags); err != nil {
		return err
	}
	if topDN != nil {
		if err := tx.ReplaceDocumentFlags(ctx, topDN.ID, topDNFlags); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// sinceCutoff converts a day count to the rebuild cutoff date.
func sinceCutoff(days int, now time.Time) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -days)
}
