package store

import (
	"context"
	"time"
)

// SyncState tracks the incremental sync position for one account on one
// homeserver. The token is opaque; the adapter round-trips it into the
// next sync request so a restart resumes where the last session stopped.
type SyncState struct {
	UserID    string
	NextBatch string
	UpdatedAt time.Time
}

// BackupInfo caches the last known secure key backup status so the client
// can show "backup configured" without a network round trip at startup.
type BackupInfo struct {
	UserID      string
	Version     string
	IsTrusted   bool
	IsUsable    bool
	RefreshedAt time.Time
}

// SyncStore persists sync positions.
type SyncStore interface {
	// SaveSyncToken upserts the sync token for a user.
	SaveSyncToken(ctx context.Context, userID, nextBatch string) error

	// SyncToken returns the stored token for a user, or "" when none exists.
	SyncToken(ctx context.Context, userID string) (string, error)
}

// PreferenceStore persists per-user chat preferences.
type PreferenceStore interface {
	// SetPrivateReadReceipts stores whether read receipts should be private.
	SetPrivateReadReceipts(ctx context.Context, userID string, private bool) error

	// PrivateReadReceipts reports the stored preference. Defaults to false
	// (public receipts) when no row exists.
	PrivateReadReceipts(ctx context.Context, userID string) (bool, error)
}

// BackupStore caches secure backup status.
type BackupStore interface {
	// SaveBackupInfo upserts the cached backup status for a user.
	SaveBackupInfo(ctx context.Context, info *BackupInfo) error

	// BackupInfo returns the cached status, or nil when none is stored.
	BackupInfo(ctx context.Context, userID string) (*BackupInfo, error)
}

// Store aggregates all session persistence interfaces.
type Store interface {
	SyncStore
	PreferenceStore
	BackupStore

	// Close closes the underlying database connection.
	Close() error
}
