// ABOUTME: SQLite implementation of warren persistence using modernc.org/sqlite
// ABOUTME: Opens the database, creates schema, and runs idempotent migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore holds all warren state: operators, conversations, messages,
// the archive namespace, and the audit log.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// _txlock=immediate makes write transactions take the database lock up
	// front, so a re-read inside one cannot go stale mid-decision.
	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS operators (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			role         TEXT NOT NULL,
			online       INTEGER NOT NULL DEFAULT 0,
			active       INTEGER NOT NULL DEFAULT 1,
			last_seen    TEXT NOT NULL,
			skills_json  TEXT,

			CHECK (role IN ('agent', 'admin', 'viewer'))
		);

		CREATE INDEX IF NOT EXISTS idx_operators_presence
			ON operators(role, online, active);

		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			customer_ref        TEXT NOT NULL,
			status              TEXT NOT NULL,
			operator_id         TEXT REFERENCES operators(id),
			handover            INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			closed_at           TEXT,
			first_response_at   TEXT,
			first_response_secs INTEGER,
			resolution_secs     INTEGER,
			sla_status          TEXT,

			CHECK (status IN ('bot', 'pending', 'open', 'closed')),
			CHECK (sla_status IS NULL OR sla_status IN ('meet', 'breach')),
			CHECK (operator_id IS NULL OR status IN ('pending', 'open')),
			CHECK (status != 'closed' OR closed_at IS NOT NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer_ref, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_operator
			ON conversations(operator_id, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_closed
			ON conversations(status, closed_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender          TEXT NOT NULL,
			body            TEXT NOT NULL,
			outgoing        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,

			CHECK (sender IN ('customer', 'operator', 'system', 'bot'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		-- Archive namespace: same shape as the live tables plus archived_at.
		-- operator_id intentionally carries no foreign key: archived records
		-- may reference operators that have since been deleted.
		CREATE TABLE IF NOT EXISTS archived_conversations (
			id                  TEXT PRIMARY KEY,
			customer_ref        TEXT NOT NULL,
			status              TEXT NOT NULL,
			operator_id         TEXT,
			handover            INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			closed_at           TEXT,
			first_response_at   TEXT,
			first_response_secs INTEGER,
			resolution_secs     INTEGER,
			sla_status          TEXT,
			archived_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS archived_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender          TEXT NOT NULL,
			body            TEXT NOT NULL,
			outgoing        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			archived_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_archived_messages_conversation
			ON archived_messages(conversation_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id        TEXT PRIMARY KEY,
			action          TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			operator_id     TEXT,
			ts              TEXT NOT NULL,
			detail_json     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_conversation ON audit_log(conversation_id, ts);
		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('operators') WHERE name = 'skills_json'`,
			apply:  `ALTER TABLE operators ADD COLUMN skills_json TEXT`,
			column: "skills_json",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('conversations') WHERE name = 'sla_status'`,
			apply:  `ALTER TABLE conversations ADD COLUMN sla_status TEXT`,
			column: "sla_status",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// formatTime renders a timestamp the way every table stores it.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatTimePtr renders an optional timestamp, nil stays nil.
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTime parses an RFC3339 column value.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
