package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fenwick-systems/docket/internal/model"
	"github.com/fenwick-systems/docket/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the service.Storage interface using SQLite.
//
// The store runs on a single connection in WAL mode; concurrent rebuild
// units therefore serialize their writes at the connection, which is what
// gives the at-most-one-writer-per-invoice guarantee. Readers see the last
// committed state and never block on an in-flight rebuild.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every query helper can run either standalone or inside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, storage: s}, nil
}

// withTx runs fn inside one transaction, rolling back on error.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sqliteTx wraps sql.Tx to implement service.Tx.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.

func (t *sqliteTx) SaveDocument(ctx context.Context, doc *model.Document, lines []model.LineItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc, lines); err != nil {
		return err
	}
	return t.storage.saveDocumentTx(ctx, t.tx, doc, lines)
}

func (t *sqliteTx) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getDocument(ctx, t.tx, id)
}

func (t *sqliteTx) GetDocumentLines(ctx context.Context, id string) ([]model.LineItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getDocumentLines(ctx, t.tx, id)
}

func (t *sqliteTx) GetInvoicesSince(ctx context.Context, since time.Time, limit int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getInvoicesSince(ctx, t.tx, since, limit)
}

func (t *sqliteTx) GetDeliveryNoteCandidates(ctx context.Context, supplier string, around time.Time, windowDays int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return getDeliveryNoteCandidates(ctx, t.tx, supplier, around, windowDays)
}

func (t *sqliteTx) ReplaceMatchResults(ctx context.Context, invoiceID string, links []model.MatchLink, lines map[string][]model.LineLink, discounts map[string][]model.DiscountRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return err
	}
	return replaceMatchResultsTx(ctx, t.tx, invoiceID, links, lines, discounts)
}

func (t *sqliteTx) GetMatchLink(ctx context.Context, id string) (*model.MatchLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return getMatchLink(ctx, t.tx, id)
}

func (t *sqliteTx) GetMatchLinksForInvoice(ctx context.Context, invoiceID string) ([]model.MatchLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(invoiceID, "invoiceID"); err != nil {
		return nil, err
	}
	return getMatchLinksForInvoice(ctx, t.tx, invoiceID)
}

func (t *sqliteTx) GetLineLinks(ctx context.Context, matchLinkID string) ([]model.LineLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getLineLinks(ctx, t.tx, matchLinkID)
}

func (t *sqliteTx) GetDiscounts(ctx context.Context, matchLinkID string) ([]model.DiscountRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getDiscounts(ctx, t.tx, matchLinkID)
}

func (t *sqliteTx) UpdateMatchStatus(ctx context.Context, id string, status model.MatchStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return updateMatchStatusTx(ctx, t.tx, id, status)
}

func (t *sqliteTx) ReplaceDocumentFlags(ctx context.Context, documentID string, flags model.FlagSet) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return err
	}
	return replaceDocumentFlagsTx(ctx, t.tx, documentID, flags)
}

func (t *sqliteTx) GetDocumentFlags(ctx context.Context, documentID string) (model.FlagSet, error) {
	if err := validateContext(ctx); err != nil {
		return model.FlagSet{}, err
	}
	if err := validateString(documentID, "documentID"); err != nil {
		return model.FlagSet{}, err
	}
	return getDocumentFlags(ctx, t.tx, documentID)
}

func (t *sqliteTx) ListPairs(ctx context.Context, filter service.PairFilter) ([]service.PairSummary, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return listPairs(ctx, t.tx, filter)
}

func (t *sqliteTx) GetPairDetail(ctx context.Context, matchLinkID string) (*service.PairDetail, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getPairDetail(ctx, t.tx, matchLinkID)
}

func (t *sqliteTx) AcceptMatch(ctx context.Context, matchLinkID, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return acceptMatchTx(ctx, t.tx, matchLinkID, actor)
}

func (t *sqliteTx) OverrideMatch(ctx context.Context, matchLinkID, newDeliveryNoteID, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return overrideMatchTx(ctx, t.tx, matchLinkID, newDeliveryNoteID, actor)
}

func (t *sqliteTx) ResolveLine(ctx context.Context, lineLinkID int64, resolution model.LineResolution, actor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return resolveLineTx(ctx, t.tx, lineLinkID, resolution, actor)
}

func (t *sqliteTx) GetAuditTrail(ctx context.Context, matchLinkID string) ([]model.AuditEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(matchLinkID, "matchLinkID"); err != nil {
		return nil, err
	}
	return getAuditTrail(ctx, t.tx, matchLinkID)
}

func (t *sqliteTx) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction.
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTx) BeginTx(_ context.Context) (service.Tx, error) {
	return nil, fmt.Errorf("nested transactions are not supported")
}

func (t *sqliteTx) Close() error {
	return fmt.Errorf("cannot close storage from within a transaction")
}
