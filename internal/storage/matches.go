package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
)

// ReplaceMatchResults atomically swaps the whole reconciliation result for
// one invoice: every previous pending link, line link and discount for that
// invoice is removed and the new set written, in one transaction. Confirmed
// and rejected links survive a rebuild; user decisions outrank the engine.
func (s *SQLiteStorage) ReplaceMatchResults(ctx context.Context, invoiceID string, links []model.MatchLink, lines map[string][]model.LineLink, discounts map[string][]model.DiscountRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceMatchResultsTx(ctx, tx, invoiceID, links, lines, discounts)
	})
}

func replaceMatchResultsTx(ctx context.Context, tx *sql.Tx, invoiceID string, links []model.MatchLink, lines map[string][]model.LineLink, discounts map[string][]model.DiscountRecord) error {
	for i := range links {
		if err := validateMatchLink(&links[i]); err != nil {
			return err
		}
		if links[i].InvoiceID != invoiceID {
			return fmt.Errorf("%w: link %s belongs to invoice %s", ErrInvalidMatch, links[i].ID, links[i].InvoiceID)
		}
		if err := validateLineLinks(lines[links[i].ID]); err != nil {
			return err
		}
	}

	// Clear previous pending suggestions and their children.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM match_line_links WHERE match_link_id IN (
			SELECT id FROM match_links WHERE invoice_id = ? AND status = ?
		)`, invoiceID, string(model.MatchPending)); err != nil {
		return fmt.Errorf("failed to clear line links: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM discounts WHERE match_link_id IN (
			SELECT id FROM match_links WHERE invoice_id = ? AND status = ?
		)`, invoiceID, string(model.MatchPending)); err != nil {
		return fmt.Errorf("failed to clear discounts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM match_links WHERE invoice_id = ? AND status = ?
	`, invoiceID, string(model.MatchPending)); err != nil {
		return fmt.Errorf("failed to clear match links: %w", err)
	}

	for _, link := range links {
		reasonsJSON, err := json.Marshal(link.Reasons)
		if err != nil {
			return fmt.Errorf("failed to encode reasons: %w", err)
		}
		// A confirmed or rejected link for the same pair survives the
		// upsert under its own id, so the stored id is the one the new
		// children must hang off.
		var storedID string
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO match_links (id, invoice_id, delivery_note_id, score, status, reasons_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (invoice_id, delivery_note_id) DO UPDATE SET
				score = excluded.score,
				reasons_json = excluded.reasons_json,
				updated_at = CURRENT_TIMESTAMP
			RETURNING id
		`, link.ID, link.InvoiceID, link.DeliveryNoteID, link.Score,
			string(link.Status), string(reasonsJSON)).Scan(&storedID); err != nil {
			return fmt.Errorf("failed to upsert match link: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM match_line_links WHERE match_link_id = ?
		`, storedID); err != nil {
			return fmt.Errorf("failed to clear stale line links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM discounts WHERE match_link_id = ?
		`, storedID); err != nil {
			return fmt.Errorf("failed to clear stale discounts: %w", err)
		}

		for _, ll := range lines[link.ID] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO match_line_links (
					match_link_id, invoice_line_idx, dn_line_idx,
					qty_delta, price_delta_pennies, confidence, status, flags_json
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, storedID, nullableInt(ll.InvoiceLineIdx), nullableInt(ll.DNLineIdx),
				ll.QtyDelta, ll.PriceDeltaPennies, ll.Confidence,
				string(ll.Status), ll.Flags.Encode()); err != nil {
				return fmt.Errorf("failed to insert line link: %w", err)
			}
		}

		for _, d := range discounts[link.ID] {
			rec := d
			if err := validateDiscount(&rec); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO discounts (match_link_id, line_idx, kind, value, residual_pennies, confidence)
				VALUES (?, ?, ?, ?, ?, ?)
			`, storedID, d.LineIdx, string(d.Kind), d.Value, d.ResidualPennies, d.Confidence); err != nil {
				return fmt.Errorf("failed to insert discount: %w", err)
			}
		}
	}
	return nil
}

// GetMatchLink fetches one match link by id.
func (s *SQLiteStorage) GetMatchLink(ctx context.Context, id string) (*model.MatchLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getMatchLink(ctx, s.db, id)
}

func getMatchLink(ctx context.Context, q dbtx, id string) (*model.MatchLink, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, invoice_id, delivery_note_id, score, status,
		       COALESCE(reasons_json, ''), created_at, updated_at
		FROM match_links WHERE id = ?
	`, id)
	link, err := scanMatchLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: match link %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatchLink(row rowScanner) (*model.MatchLink, error) {
	var link model.MatchLink
	var status, reasonsJSON string
	var created, updated sql.NullTime
	if err := row.Scan(&link.ID, &link.InvoiceID, &link.DeliveryNoteID,
		&link.Score, &status, &reasonsJSON, &created, &updated); err != nil {
		return nil, err
	}
	link.Status = model.MatchStatus(status)
	if created.Valid {
		link.CreatedAt = created.Time
	}
	if updated.Valid {
		link.UpdatedAt = updated.Time
	}
	if reasonsJSON != "" {
		if err := json.Unmarshal([]byte(reasonsJSON), &link.Reasons); err != nil {
			// One bad payload must not block the rest of a pass.
			slog.Warn("Discarding corrupt reasons payload", "match_link_id", link.ID)
			link.Reasons = nil
		}
	}
	return &link, nil
}

// GetMatchLinksForInvoice lists an invoice's links, best score first.
func (s *SQLiteStorage) GetMatchLinksForInvoice(ctx context.Context, invoiceID string) ([]model.MatchLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}
	return getMatchLinksForInvoice(ctx, s.db, invoiceID)
}

func getMatchLinksForInvoice(ctx context.Context, q dbtx, invoiceID string) ([]model.MatchLink, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_id, delivery_note_id, score, status,
		       COALESCE(reasons_json, ''), created_at, updated_at
		FROM match_links WHERE invoice_id = ?
		ORDER BY score DESC, delivery_note_id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query match links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.MatchLink
	for rows.Next() {
		link, scanErr := scanMatchLink(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match link: %w", scanErr)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// GetLineLinks lists the line links of one match link in row order.
func (s *SQLiteStorage) GetLineLinks(ctx context.Context, matchLinkID string) ([]model.LineLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getLineLinks(ctx, s.db, matchLinkID)
}

func getLineLinks(ctx context.Context, q dbtx, matchLinkID string) ([]model.LineLink, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, match_link_id, invoice_line_idx, dn_line_idx,
		       qty_delta, price_delta_pennies, confidence, status,
		       COALESCE(flags_json, '')
		FROM match_line_links WHERE match_link_id = ?
		ORDER BY COALESCE(invoice_line_idx, dn_line_idx), id
	`, matchLinkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []model.LineLink
	for rows.Next() {
		var ll model.LineLink
		var invIdx, dnIdx sql.NullInt64
		var status, flagsJSON string
		if err := rows.Scan(&ll.ID, &ll.MatchLinkID, &invIdx, &dnIdx,
			&ll.QtyDelta, &ll.PriceDeltaPennies, &ll.Confidence,
			&status, &flagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan line link: %w", err)
		}
		ll.Status = model.LineLinkStatus(status)
		if invIdx.Valid {
			v := int(invIdx.Int64)
			ll.InvoiceLineIdx = &v
		}
		if dnIdx.Valid {
			v := int(dnIdx.Int64)
			ll.DNLineIdx = &v
		}
		// DecodeFlagSet substitutes LINE_FLAGS_CORRUPT on a bad payload
		// rather than failing the whole read.
		ll.Flags = model.DecodeFlagSet(flagsJSON)
		links = append(links, ll)
	}
	return links, rows.Err()
}

// GetDiscounts lists the discount records of one match link.
func (s *SQLiteStorage) GetDiscounts(ctx context.Context, matchLinkID string) ([]model.DiscountRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getDiscounts(ctx, s.db, matchLinkID)
}

func getDiscounts(ctx context.Context, q dbtx, matchLinkID string) ([]model.DiscountRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, match_link_id, line_idx, kind, value, residual_pennies, confidence
		FROM discounts WHERE match_link_id = ? ORDER BY line_idx
	`, matchLinkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query discounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DiscountRecord
	for rows.Next() {
		var d model.DiscountRecord
		var kind string
		if err := rows.Scan(&d.ID, &d.MatchLinkID, &d.LineIdx, &kind,
			&d.Value, &d.ResidualPennies, &d.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan discount: %w", err)
		}
		d.Kind = model.DiscountKind(kind)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateMatchStatus sets one link's status without audit; user-facing
// mutations go through AcceptMatch / OverrideMatch instead.
func (s *SQLiteStorage) UpdateMatchStatus(ctx context.Context, id string, status model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateMatchStatusTx(ctx, tx, id, status)
	})
}

func updateMatchStatusTx(ctx context.Context, tx *sql.Tx, id string, status model.MatchStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMatch, status)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE match_links SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update match status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: match link %s", common.ErrNotFound, id)
	}
	return nil
}

// ReplaceDocumentFlags swaps a document's flag set. Flags are recomputed
// per run, never appended.
func (s *SQLiteStorage) ReplaceDocumentFlags(ctx context.Context, documentID string, flags model.FlagSet) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceDocumentFlagsTx(ctx, tx, documentID, flags)
	})
}

func replaceDocumentFlagsTx(ctx context.Context, tx *sql.Tx, documentID string, flags model.FlagSet) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_flags (document_id, flags_json, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (document_id) DO UPDATE SET
			flags_json = excluded.flags_json,
			updated_at = CURRENT_TIMESTAMP
	`, documentID, flags.Encode())
	if err != nil {
		return fmt.Errorf("failed to replace document flags: %w", err)
	}
	return nil
}

// GetDocumentFlags reads a document's current flag set. A document without
// a row has an empty set.
func (s *SQLiteStorage) GetDocumentFlags(ctx context.Context, documentID string) (model.FlagSet, error) {
	if err := validateContext(ctx); err != nil {
		return model.FlagSet{}, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return model.FlagSet{}, err
	}
	return getDocumentFlags(ctx, s.db, documentID)
}

func getDocumentFlags(ctx context.Context, q dbtx, documentID string) (model.FlagSet, error) {
	var flagsJSON string
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(flags_json, '') FROM document_flags WHERE document_id = ?
	`, documentID).Scan(&flagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FlagSet{}, nil
	}
	if err != nil {
		return model.FlagSet{}, fmt.Errorf("failed to get document flags: %w", err)
	}
	return model.DecodeFlagSet(flagsJSON), nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
