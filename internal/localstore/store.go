package localstore

import (
	"context"
	"errors"

	"record-sync-service/internal/record"
)

// ErrUnavailable means the local store could not be reached at all. The
// engine aborts the current cycle on it without mutating any sync
// state; it is never a per-item failure.
var ErrUnavailable = errors.New("local store unavailable")

// ErrUnknownIndex is returned by QueryByIndex for an index name the
// store does not maintain.
var ErrUnknownIndex = errors.New("unknown index")

// Indexes every collection maintains.
const (
	IndexSyncStatus     = "sync_status"
	IndexLocalUpdatedAt = "local_updated_at"
)

// Store is the durable keyed store the sync engine owns records
// through. Get returns (nil, nil) when the record does not exist.
// Put and Delete are atomic per record; BatchPut is all-or-nothing for
// the whole call. No cross-collection transactions.
type Store interface {
	Get(ctx context.Context, collection, id string) (*record.Record, error)
	Put(ctx context.Context, rec *record.Record) error
	Delete(ctx context.Context, collection, id string) error
	QueryByIndex(ctx context.Context, collection, index, value string) ([]*record.Record, error)
	BatchPut(ctx context.Context, collection string, recs []*record.Record) error
	Count(ctx context.Context, collection string) (int, error)
	CountByStatus(ctx context.Context, collection string) (map[record.Status]int, error)
	Close() error
}
