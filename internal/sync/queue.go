package sync

import (
	"context"
	"sort"

	"record-sync-service/internal/localstore"
	"record-sync-service/internal/record"
)

// collectionInfo pairs a collection name with its static priority tier.
type collectionInfo struct {
	Name     string
	Priority Priority
}

// buildQueue rebuilds the operation queue from durable state: every
// pending record in every listed collection, ordered by priority tier
// first, then by when the record went pending. All high items sort
// before any medium item regardless of age.
func buildQueue(ctx context.Context, local localstore.Store, collections []collectionInfo) ([]Operation, error) {
	var queue []Operation

	for _, col := range collections {
		pending, err := local.QueryByIndex(ctx, col.Name, localstore.IndexSyncStatus, string(record.StatusPending))
		if err != nil {
			return nil, err
		}
		for _, rec := range pending {
			queue = append(queue, Operation{
				Collection: col.Name,
				RecordID:   rec.ID,
				Kind:       operationKind(rec),
				Priority:   col.Priority,
				EnqueuedAt: rec.LocalUpdatedAt,
				Attempt:    rec.RetryCount,
			})
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Priority != queue[j].Priority {
			return queue[i].Priority < queue[j].Priority
		}
		if queue[i].EnqueuedAt != queue[j].EnqueuedAt {
			return queue[i].EnqueuedAt < queue[j].EnqueuedAt
		}
		return queue[i].RecordID < queue[j].RecordID
	})

	return queue, nil
}

func operationKind(rec *record.Record) OpKind {
	switch {
	case rec.Deleted:
		return OpDelete
	case rec.LastSyncedAt == 0:
		return OpCreate
	default:
		return OpUpdate
	}
}

// partition splits the queue into fixed-size batches.
func partition(queue []Operation, batchSize int) [][]Operation {
	if batchSize <= 0 {
		batchSize = len(queue)
	}
	var batches [][]Operation
	for len(queue) > 0 {
		n := batchSize
		if n > len(queue) {
			n = len(queue)
		}
		batches = append(batches, queue[:n])
		queue = queue[n:]
	}
	return batches
}
