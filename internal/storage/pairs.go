package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/service"
)

// ListPairs returns the grouped summary the serving layer paginates. Every
// invoice appears exactly once, carried by its best link: the confirmed one
// if any, otherwise the highest-scoring pending suggestion, or no link at
// all (unmatched). Filtering and pagination run after status derivation, so
// offsets are stable for a given committed state.
func (s *SQLiteStorage) ListPairs(ctx context.Context, filter service.PairFilter) ([]service.PairSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return listPairs(ctx, s.db, filter)
}

func listPairs(ctx context.Context, q dbtx, filter service.PairFilter) ([]service.PairSummary, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.id, d.supplier_name,
		       COALESCE(ml.id, ''), COALESCE(ml.delivery_note_id, ''),
		       COALESCE(ml.score, 0), COALESCE(ml.status, ''), ml.created_at,
		       COALESCE((SELECT COUNT(*) FROM match_line_links l
		                 WHERE l.match_link_id = ml.id AND l.status = 'ok'), 0),
		       COALESCE((SELECT COUNT(*) FROM match_line_links l
		                 WHERE l.match_link_id = ml.id AND l.status != 'ok'), 0)
		FROM documents d
		LEFT JOIN match_links ml ON ml.id = (
			SELECT id FROM match_links
			WHERE invoice_id = d.id AND status != 'rejected'
			ORDER BY CASE status WHEN 'confirmed' THEN 0 ELSE 1 END,
			         score DESC, delivery_note_id
			LIMIT 1
		)
		WHERE d.kind = 'invoice'
		ORDER BY d.date, d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []service.PairSummary
	for rows.Next() {
		var p service.PairSummary
		var matchStatus string
		var created sql.NullTime
		if err := rows.Scan(&p.InvoiceID, &p.Supplier, &p.MatchLinkID,
			&p.DeliveryNoteID, &p.Score, &matchStatus, &created,
			&p.LinesOK, &p.LinesFlagged); err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		p.MatchStatus = model.MatchStatus(matchStatus)
		if created.Valid {
			p.CreatedAt = created.Time
		}
		p.Status = deriveStatus(p)
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(all, filter), nil
}

// deriveStatus collapses a pair's state into the closed summary vocabulary.
func deriveStatus(p service.PairSummary) service.PairStatus {
	switch {
	case p.MatchLinkID == "":
		return service.PairUnmatched
	case p.LinesFlagged == 0:
		return service.PairMatched
	case p.LinesOK > 0:
		return service.PairPartial
	default:
		return service.PairConflict
	}
}

func paginate(all []service.PairSummary, filter service.PairFilter) []service.PairSummary {
	filtered := all
	if filter.Status != "" {
		filtered = filtered[:0:0]
		for _, p := range all {
			if p.Status == filter.Status {
				filtered = append(filtered, p)
			}
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(filtered) {
			return nil
		}
		filtered = filtered[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(filtered) {
		filtered = filtered[:filter.Limit]
	}
	return filtered
}

// GetPairDetail assembles the full picture of one pairing: link, both
// documents, line links, discounts and current document flags.
func (s *SQLiteStorage) GetPairDetail(ctx context.Context, matchLinkID string) (*service.PairDetail, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getPairDetail(ctx, s.db, matchLinkID)
}

func getPairDetail(ctx context.Context, q dbtx, matchLinkID string) (*service.PairDetail, error) {
	link, err := getMatchLink(ctx, q, matchLinkID)
	if err != nil {
		return nil, err
	}

	invoice, err := getDocument(ctx, q, link.InvoiceID)
	if err != nil {
		return nil, err
	}

	detail := &service.PairDetail{Link: *link, Invoice: *invoice}

	// The delivery note may have been re-parsed and deleted since the
	// link was written; a detail view with a missing side still renders.
	dn, err := getDocument(ctx, q, link.DeliveryNoteID)
	if err == nil {
		detail.Delivery = dn
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if detail.Lines, err = getLineLinks(ctx, q, matchLinkID); err != nil {
		return nil, err
	}
	if detail.Discounts, err = getDiscounts(ctx, q, matchLinkID); err != nil {
		return nil, err
	}
	if detail.InvoiceFlags, err = getDocumentFlags(ctx, q, link.InvoiceID); err != nil {
		return nil, err
	}
	if detail.DNFlags, err = getDocumentFlags(ctx, q, link.DeliveryNoteID); err != nil {
		return nil, err
	}
	return detail, nil
}
