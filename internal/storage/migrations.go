package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a fatal
// error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Documents and line items",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					kind TEXT NOT NULL,
					supplier_name TEXT NOT NULL,
					reference TEXT,
					date DATETIME,
					currency TEXT,
					total_pennies INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_documents_kind ON documents(kind)`,
				`CREATE INDEX idx_documents_supplier ON documents(supplier_name)`,
				`CREATE INDEX idx_documents_date ON documents(date)`,

				`CREATE TABLE IF NOT EXISTS document_lines (
					document_id TEXT NOT NULL,
					row_index INTEGER NOT NULL,
					description TEXT,
					quantity REAL NOT NULL DEFAULT 0,
					unit_price_pennies INTEGER NOT NULL DEFAULT 0,
					total_pennies INTEGER NOT NULL DEFAULT 0,
					uom TEXT,
					vat_rate REAL NOT NULL DEFAULT 0,
					PRIMARY KEY (document_id, row_index),
					FOREIGN KEY (document_id) REFERENCES documents(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Match links, line links, discounts and document flags",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS match_links (
					id TEXT PRIMARY KEY,
					invoice_id TEXT NOT NULL,
					delivery_note_id TEXT NOT NULL,
					score REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					reasons_json TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (invoice_id, delivery_note_id),
					FOREIGN KEY (invoice_id) REFERENCES documents(id),
					FOREIGN KEY (delivery_note_id) REFERENCES documents(id)
				)`,
				`CREATE INDEX idx_match_links_invoice ON match_links(invoice_id)`,
				`CREATE INDEX idx_match_links_status ON match_links(status)`,

				`CREATE TABLE IF NOT EXISTS match_line_links (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					match_link_id TEXT NOT NULL,
					invoice_line_idx INTEGER,
					dn_line_idx INTEGER,
					qty_delta REAL NOT NULL DEFAULT 0,
					price_delta_pennies INTEGER NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					flags_json TEXT,
					FOREIGN KEY (match_link_id) REFERENCES match_links(id)
				)`,
				`CREATE INDEX idx_line_links_match ON match_line_links(match_link_id)`,

				`CREATE TABLE IF NOT EXISTS discounts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					match_link_id TEXT NOT NULL,
					line_idx INTEGER NOT NULL,
					kind TEXT NOT NULL,
					value REAL NOT NULL,
					residual_pennies INTEGER NOT NULL DEFAULT 0,
					confidence REAL NOT NULL DEFAULT 0,
					FOREIGN KEY (match_link_id) REFERENCES match_links(id)
				)`,
				`CREATE INDEX idx_discounts_match ON discounts(match_link_id)`,

				`CREATE TABLE IF NOT EXISTS document_flags (
					document_id TEXT PRIMARY KEY,
					flags_json TEXT,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (document_id) REFERENCES documents(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Append-only audit log",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS audit_log (
					id TEXT PRIMARY KEY,
					match_link_id TEXT NOT NULL,
					actor TEXT NOT NULL,
					action TEXT NOT NULL,
					before_json TEXT,
					after_json TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_audit_match ON audit_log(match_link_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies pending migrations, one transaction per version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
