package store

import (
	"context"
)

// Store is the audit side of the engine: the append-only conflict log,
// per-cycle sync history, and the permanent-failure error log. It
// shares the database handle family with the local record store but
// owns its own tables.
type Store interface {
	// Conflicts
	CreateConflict(ctx context.Context, conflict *ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*ConflictRecord, error)
	ListConflicts(ctx context.Context, pendingOnly bool, limit, offset int) ([]*ConflictRecord, error)
	HasOpenConflict(ctx context.Context, collection, recordID string) (bool, error)
	ResolveConflict(ctx context.Context, id, resolution string, resolvedPayload []byte) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// Error log: one row per permanently-failed item, latest message
	// wins, clearable in bulk.
	UpsertError(ctx context.Context, entry *ErrorEntry) error
	ListErrors(ctx context.Context, limit, offset int) ([]*ErrorEntry, error)
	ClearErrors(ctx context.Context) error

	Close() error
}
