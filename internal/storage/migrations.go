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
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS institution_links (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					institution_name TEXT NOT NULL,
					provider_item_id TEXT NOT NULL UNIQUE,
					access_token TEXT NOT NULL,
					cursor TEXT,
					raw_metadata BLOB,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_links_user ON institution_links(user_id)`,

				`CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					currency TEXT NOT NULL,
					initial_balance TEXT NOT NULL DEFAULT '0',
					subtype TEXT NOT NULL,
					link_id TEXT REFERENCES institution_links(id) ON DELETE CASCADE,
					provider_account_id TEXT,
					user_id TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					CHECK ((link_id IS NULL) != (user_id IS NULL))
				)`,
				`CREATE INDEX idx_accounts_link ON accounts(link_id)`,
				`CREATE INDEX idx_accounts_user ON accounts(user_id)`,
				`CREATE UNIQUE INDEX idx_accounts_provider ON accounts(link_id, provider_account_id)`,

				`CREATE TABLE IF NOT EXISTS transaction_groups (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL,
					name TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_groups_user ON transaction_groups(user_id)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					amount TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					name TEXT NOT NULL,
					category_id TEXT,
					account_balance TEXT NOT NULL DEFAULT '0',
					amount_default TEXT,
					external_id TEXT UNIQUE,
					raw_payload BLOB,
					group_id TEXT REFERENCES transaction_groups(id) ON DELETE SET NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_group ON transactions(group_id)`,
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
		Description: "Add name rewrite and import profile configuration to institution links",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`ALTER TABLE institution_links ADD COLUMN name_pattern TEXT`,
				`ALTER TABLE institution_links ADD COLUMN name_replacement TEXT`,
				`ALTER TABLE institution_links ADD COLUMN csv_profile TEXT`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query '%s': %w", query, err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Index transactions for ordered balance replay",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_replay
				ON transactions(account_id, timestamp, id)`)
			return err
		},
	},
}

// Migrate applies pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}

		slog.Info("Applied migration", "version", m.Version, "description", m.Description)
		current = m.Version
	}

	if current != ExpectedSchemaVersion {
		return fmt.Errorf("schema version %d does not match expected %d", current, ExpectedSchemaVersion)
	}

	return nil
}
