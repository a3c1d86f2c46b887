package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
)

// AcceptMatch confirms one pair. Any previously confirmed link for the same
// invoice is demoted back to pending, so at most one confirmed link exists
// per invoice at any time. One transaction, one audit entry.
func (s *SQLiteStorage) AcceptMatch(ctx context.Context, matchLinkID, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return acceptMatchTx(ctx, tx, matchLinkID, actor)
	})
}

func acceptMatchTx(ctx context.Context, tx *sql.Tx, matchLinkID, actor string) error {
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return err
	}
	if err := validateString(actor, "actor"); err != nil {
		return err
	}

	link, err := getMatchLink(ctx, tx, matchLinkID)
	if err != nil {
		return err
	}
	before := *link

	if _, err := tx.ExecContext(ctx, `
		UPDATE match_links SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE invoice_id = ? AND status = ? AND id != ?
	`, string(model.MatchPending), link.InvoiceID, string(model.MatchConfirmed), matchLinkID); err != nil {
		return fmt.Errorf("failed to demote previous confirmation: %w", err)
	}

	if err := updateMatchStatusTx(ctx, tx, matchLinkID, model.MatchConfirmed); err != nil {
		return err
	}

	link.Status = model.MatchConfirmed
	return appendAuditTx(ctx, tx, model.AuditEntry{
		MatchLinkID: matchLinkID,
		Actor:       actor,
		Action:      model.ActionAcceptMatch,
	}, before, *link)
}

// OverrideMatch points a pair at a different delivery note and confirms it.
// Line links and discounts computed against the old note are dropped; the
// next rebuild recomputes them against the new one.
func (s *SQLiteStorage) OverrideMatch(ctx context.Context, matchLinkID, newDeliveryNoteID, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return overrideMatchTx(ctx, tx, matchLinkID, newDeliveryNoteID, actor)
	})
}

func overrideMatchTx(ctx context.Context, tx *sql.Tx, matchLinkID, newDeliveryNoteID, actor string) error {
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return err
	}
	if err := validateString(newDeliveryNoteID, "newDeliveryNoteID"); err != nil {
		return err
	}
	if err := validateString(actor, "actor"); err != nil {
		return err
	}

	link, err := getMatchLink(ctx, tx, matchLinkID)
	if err != nil {
		return err
	}
	before := *link

	newDN, err := getDocument(ctx, tx, newDeliveryNoteID)
	if err != nil {
		return err
	}
	if newDN.Kind != model.KindDeliveryNote {
		return fmt.Errorf("%w: %s is not a delivery note", ErrInvalidMatch, newDeliveryNoteID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM match_line_links WHERE match_link_id = ?`, matchLinkID); err != nil {
		return fmt.Errorf("failed to drop stale line links: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM discounts WHERE match_link_id = ?`, matchLinkID); err != nil {
		return fmt.Errorf("failed to drop stale discounts: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE match_links SET delivery_note_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, newDeliveryNoteID, string(model.MatchConfirmed), matchLinkID); err != nil {
		return fmt.Errorf("failed to override match: %w", err)
	}

	// The override is also an acceptance; keep the one-confirmed invariant.
	if _, err := tx.ExecContext(ctx, `
		UPDATE match_links SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE invoice_id = ? AND status = ? AND id != ?
	`, string(model.MatchPending), link.InvoiceID, string(model.MatchConfirmed), matchLinkID); err != nil {
		return fmt.Errorf("failed to demote previous confirmation: %w", err)
	}

	link.DeliveryNoteID = newDeliveryNoteID
	link.Status = model.MatchConfirmed
	return appendAuditTx(ctx, tx, model.AuditEntry{
		MatchLinkID: matchLinkID,
		Actor:       actor,
		Action:      model.ActionOverrideMatch,
	}, before, *link)
}

// ResolveLine applies a user decision to a mismatched line: the flags it
// carried are cleared, its status returns to ok, and the resolution is
// preserved in the audit trail.
func (s *SQLiteStorage) ResolveLine(ctx context.Context, lineLinkID int64, resolution model.LineResolution, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return resolveLineTx(ctx, tx, lineLinkID, resolution, actor)
	})
}

func resolveLineTx(ctx context.Context, tx *sql.Tx, lineLinkID int64, resolution model.LineResolution, actor string) error {
	if !resolution.Valid() {
		return common.NewUserError(fmt.Sprintf("unknown resolution %q", resolution), nil)
	}
	if err := validateString(actor, "actor"); err != nil {
		return err
	}

	var before model.LineLink
	var invIdx, dnIdx sql.NullInt64
	var status, flagsJSON, matchLinkID string
	err := tx.QueryRowContext(ctx, `
		SELECT id, match_link_id, invoice_line_idx, dn_line_idx,
		       qty_delta, price_delta_pennies, confidence, status,
		       COALESCE(flags_json, '')
		FROM match_line_links WHERE id = ?
	`, lineLinkID).Scan(&before.ID, &matchLinkID, &invIdx, &dnIdx,
		&before.QtyDelta, &before.PriceDeltaPennies, &before.Confidence,
		&status, &flagsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: line link %d", common.ErrNotFound, lineLinkID)
	}
	if err != nil {
		return fmt.Errorf("failed to load line link: %w", err)
	}
	before.MatchLinkID = matchLinkID
	before.Status = model.LineLinkStatus(status)
	before.Flags = model.DecodeFlagSet(flagsJSON)
	if invIdx.Valid {
		v := int(invIdx.Int64)
		before.InvoiceLineIdx = &v
	}
	if dnIdx.Valid {
		v := int(dnIdx.Int64)
		before.DNLineIdx = &v
	}

	after := before
	after.Status = model.LineOK
	after.Flags = model.FlagSet{}

	if _, err := tx.ExecContext(ctx, `
		UPDATE match_line_links SET status = ?, flags_json = '' WHERE id = ?
	`, string(model.LineOK), lineLinkID); err != nil {
		return fmt.Errorf("failed to resolve line: %w", err)
	}

	return appendAuditTx(ctx, tx, model.AuditEntry{
		MatchLinkID: matchLinkID,
		Actor:       actor,
		Action:      model.ActionResolveLine,
	}, resolvedLine{Link: before, Resolution: resolution}, resolvedLine{Link: after, Resolution: resolution})
}

// resolvedLine is the audit snapshot shape for line resolutions.
type resolvedLine struct {
	Link       model.LineLink       `json:"link"`
	Resolution model.LineResolution `json:"resolution"`
}

// appendAuditTx writes one append-only audit entry with JSON before/after
// snapshots. Audit rows are never updated or deleted.
func appendAuditTx(ctx context.Context, tx *sql.Tx, entry model.AuditEntry, before, after any) error {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("failed to encode audit before-snapshot: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("failed to encode audit after-snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (id, match_link_id, actor, action, before_json, after_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), entry.MatchLinkID, entry.Actor, string(entry.Action),
		string(beforeJSON), string(afterJSON)); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// GetAuditTrail lists a pair's audit entries oldest first.
func (s *SQLiteStorage) GetAuditTrail(ctx context.Context, matchLinkID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getAuditTrail(ctx, s.db, matchLinkID)
}

func getAuditTrail(ctx context.Context, q dbtx, matchLinkID string) ([]model.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, match_link_id, actor, action,
		       COALESCE(before_json, ''), COALESCE(after_json, ''), created_at
		FROM audit_log WHERE match_link_id = ? ORDER BY created_at, id
	`, matchLinkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var action string
		var created sql.NullTime
		if err := rows.Scan(&e.ID, &e.MatchLinkID, &e.Actor, &action,
			&e.Before, &e.After, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = model.AuditAction(action)
		if created.Valid {
			e.CreatedAt = created.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
