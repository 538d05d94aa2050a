package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/murmurchat/murmur/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sync_state (
	user_id    TEXT PRIMARY KEY,
	next_batch TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
	user_id               TEXT PRIMARY KEY,
	private_read_receipts BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS backup_info (
	user_id      TEXT PRIMARY KEY,
	version      TEXT NOT NULL,
	is_trusted   BOOLEAN NOT NULL DEFAULT 0,
	is_usable    BOOLEAN NOT NULL DEFAULT 0,
	refreshed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSyncToken upserts the sync token for a user.
func (s *SQLiteStore) SaveSyncToken(ctx context.Context, userID, nextBatch string) error {
	query := `
		INSERT INTO sync_state (user_id, next_batch, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET next_batch = excluded.next_batch, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, userID, nextBatch); err != nil {
		return fmt.Errorf("save sync token: %w", err)
	}
	return nil
}

// SyncToken returns the stored token for a user, or "" when none exists.
func (s *SQLiteStore) SyncToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT next_batch FROM sync_state WHERE user_id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query sync token: %w", err)
	}
	return token, nil
}

// SetPrivateReadReceipts stores whether read receipts should be private.
func (s *SQLiteStore) SetPrivateReadReceipts(ctx context.Context, userID string, private bool) error {
	query := `
		INSERT INTO preferences (user_id, private_read_receipts)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET private_read_receipts = excluded.private_read_receipts
	`
	if _, err := s.db.ExecContext(ctx, query, userID, private); err != nil {
		return fmt.Errorf("save receipt preference: %w", err)
	}
	return nil
}

// PrivateReadReceipts reports the stored preference. Defaults to false when no row exists.
func (s *SQLiteStore) PrivateReadReceipts(ctx context.Context, userID string) (bool, error) {
	var private bool
	err := s.db.QueryRowContext(ctx,
		`SELECT private_read_receipts FROM preferences WHERE user_id = ?`, userID).Scan(&private)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query receipt preference: %w", err)
	}
	return private, nil
}

// SaveBackupInfo upserts the cached backup status for a user.
func (s *SQLiteStore) SaveBackupInfo(ctx context.Context, info *store.BackupInfo) error {
	query := `
		INSERT INTO backup_info (user_id, version, is_trusted, is_usable, refreshed_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			version = excluded.version,
			is_trusted = excluded.is_trusted,
			is_usable = excluded.is_usable,
			refreshed_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, info.UserID, info.Version, info.IsTrusted, info.IsUsable); err != nil {
		return fmt.Errorf("save backup info: %w", err)
	}
	return nil
}

// BackupInfo returns the cached status, or nil when none is stored.
func (s *SQLiteStore) BackupInfo(ctx context.Context, userID string) (*store.BackupInfo, error) {
	var info store.BackupInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, version, is_trusted, is_usable, refreshed_at
		FROM backup_info
		WHERE user_id = ?
	`, userID).Scan(&info.UserID, &info.Version, &info.IsTrusted, &info.IsUsable, &info.RefreshedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query backup info: %w", err)
	}
	return &info, nil
}
