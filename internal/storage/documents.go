package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fenwick-systems/docket/internal/common"
	"github.com/fenwick-systems/docket/internal/model"
)

// SaveDocument ingests one parsed document and its lines in a single
// transaction. Re-ingesting a byte-identical document is a no-op thanks to
// the hash uniqueness constraint.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *model.Document, lines []model.LineItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc, lines); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.saveDocumentTx(ctx, tx, doc, lines)
	})
}

func (s *SQLiteStorage) saveDocumentTx(ctx context.Context, tx *sql.Tx, doc *model.Document, lines []model.LineItem) error {
	hash := doc.GenerateHash()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO documents (
			id, hash, kind, supplier_name, reference, date, currency, total_pennies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, hash, string(doc.Kind), doc.SupplierName, doc.Reference,
		nullableTime(doc.Date), doc.Currency, doc.TotalPennies)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Duplicate upload; the original snapshot stays authoritative.
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_lines (
			document_id, row_index, description, quantity,
			unit_price_pennies, total_pennies, uom, vat_rate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare line insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, l := range lines {
		if _, err := stmt.ExecContext(ctx,
			doc.ID, l.RowIndex, l.Description, l.Quantity,
			l.UnitPricePennies, l.TotalPennies, l.UOM, l.VATRate,
		); err != nil {
			return fmt.Errorf("failed to insert line %d: %w", l.RowIndex, err)
		}
	}
	return nil
}

// GetDocument fetches one document by id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getDocument(ctx, s.db, id)
}

func getDocument(ctx context.Context, q dbtx, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, kind, supplier_name, COALESCE(reference, ''), date,
		       COALESCE(currency, ''), total_pennies
		FROM documents WHERE id = ?
	`, id)

	var doc model.Document
	var kind string
	var date sql.NullTime
	err := row.Scan(&doc.ID, &kind, &doc.SupplierName, &doc.Reference, &date, &doc.Currency, &doc.TotalPennies)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc.Kind = model.DocumentKind(kind)
	if date.Valid {
		doc.Date = date.Time
	}
	return &doc, nil
}

// GetDocumentLines fetches a document's lines ordered by row index.
func (s *SQLiteStorage) GetDocumentLines(ctx context.Context, id string) ([]model.LineItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getDocumentLines(ctx, s.db, id)
}

func getDocumentLines(ctx context.Context, q dbtx, id string) ([]model.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT document_id, row_index, COALESCE(description, ''), quantity,
		       unit_price_pennies, total_pennies, COALESCE(uom, ''), vat_rate
		FROM document_lines WHERE document_id = ? ORDER BY row_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []model.LineItem
	for rows.Next() {
		var l model.LineItem
		if err := rows.Scan(&l.DocumentID, &l.RowIndex, &l.Description, &l.Quantity,
			&l.UnitPricePennies, &l.TotalPennies, &l.UOM, &l.VATRate); err != nil {
			return nil, fmt.Errorf("failed to scan line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetInvoicesSince lists invoices dated on or after the cutoff, oldest
// first. A non-positive limit means no limit.
func (s *SQLiteStorage) GetInvoicesSince(ctx context.Context, since time.Time, limit int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getInvoicesSince(ctx, s.db, since, limit)
}

func getInvoicesSince(ctx context.Context, q dbtx, since time.Time, limit int) ([]model.Document, error) {
	query := `
		SELECT id, kind, supplier_name, COALESCE(reference, ''), date,
		       COALESCE(currency, ''), total_pennies
		FROM documents
		WHERE kind = ? AND date >= ?
		ORDER BY date, id
	`
	args := []any{string(model.KindInvoice), since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return queryDocuments(ctx, q, query, args...)
}

// GetDeliveryNoteCandidates lists delivery notes dated within windowDays of
// the anchor date. Supplier filtering happens in the scorer, not here; the
// store only trims the pool by kind and date to keep the unit of work small.
func (s *SQLiteStorage) GetDeliveryNoteCandidates(ctx context.Context, supplier string, around time.Time, windowDays int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getDeliveryNoteCandidates(ctx, s.db, supplier, around, windowDays)
}

func getDeliveryNoteCandidates(ctx context.Context, q dbtx, _ string, around time.Time, windowDays int) ([]model.Document, error) {
	if windowDays < 0 {
		windowDays = 0
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	return queryDocuments(ctx, q, `
		SELECT id, kind, supplier_name, COALESCE(reference, ''), date,
		       COALESCE(currency, ''), total_pennies
		FROM documents
		WHERE kind = ? AND (date IS NULL OR (date >= ? AND date <= ?))
		ORDER BY date, id
	`, string(model.KindDeliveryNote), around.Add(-window), around.Add(window))
}

func queryDocuments(ctx context.Context, q dbtx, query string, args ...any) ([]model.Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		var kind string
		var date sql.NullTime
		if err := rows.Scan(&doc.ID, &kind, &doc.SupplierName, &doc.Reference,
			&date, &doc.Currency, &doc.TotalPennies); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Kind = model.DocumentKind(kind)
		if date.Valid {
			doc.Date = date.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
