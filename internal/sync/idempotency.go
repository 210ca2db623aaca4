package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"record-sync-service/internal/record"
	"record-sync-service/internal/schema"
)

// SessionKey derives the deterministic record id for a once-per-session
// create from the collection's natural-key payload fields (entity
// references plus the date). The same inputs always yield the same id,
// so a retried submission or an independently-started duplicate session
// lands on the same record.
func SessionKey(col *schema.Collection, payload map[string]any) (string, error) {
	if len(col.NaturalKey) == 0 {
		return "", fmt.Errorf("collection %s has no natural key", col.Name)
	}

	parts := make([]string, 0, len(col.NaturalKey))
	for _, field := range col.NaturalKey {
		v, _ := payload[field].(string)
		if v == "" {
			return "", fmt.Errorf("natural key field %q missing from payload", field)
		}
		parts = append(parts, sanitizeKeyPart(v))
	}
	return strings.Join(parts, "_"), nil
}

// record ids appear in remote paths, so key parts must not smuggle
// separators in.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ' ', '_':
			return '-'
		default:
			return r
		}
	}, s)
}

// CreateWithIdempotency creates a record for a once-per-logical-session
// action. If a record under the derived key already exists, the
// incoming entries are merged into it (same per-entry rule as conflict
// resolution) instead of creating a duplicate. Returns the record and
// whether it was newly created. Collections without a natural key fall
// back to a plain create under a fresh id.
func (e *Engine) CreateWithIdempotency(ctx context.Context, collection string, payload map[string]any) (*record.Record, bool, error) {
	col, ok := e.registry.Get(collection)
	if !ok {
		return nil, false, fmt.Errorf("unknown collection %s", collection)
	}

	if len(col.NaturalKey) == 0 {
		rec, err := e.SaveRecord(ctx, collection, uuid.New().String(), payload)
		return rec, true, err
	}

	key, err := SessionKey(col, payload)
	if err != nil {
		return nil, false, err
	}

	existing, err := e.local.Get(ctx, collection, key)
	if err != nil {
		return nil, false, err
	}

	if existing != nil && !existing.Deleted {
		if col.MergeEntries {
			existing.Payload = MergeEntries(col, payload, existing.Payload)
		} else {
			existing.Payload = record.ClonePayload(payload)
		}
		existing.SyncStatus = record.StatusPending
		existing.LocalUpdatedAt = e.nowMillis()
		if err := e.local.Put(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	rec := &record.Record{
		ID:             key,
		Collection:     collection,
		Payload:        record.ClonePayload(payload),
		SyncStatus:     record.StatusPending,
		LocalUpdatedAt: e.nowMillis(),
	}
	if err := e.local.Put(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}
