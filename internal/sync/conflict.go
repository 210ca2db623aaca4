package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"record-sync-service/internal/record"
	"record-sync-service/internal/schema"
	"record-sync-service/internal/store"
)

// Strategy selects how a detected conflict is settled. Append-style
// collections ignore the strategy and always merge per entry.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "last-write-wins"
	StrategyLocalWins     Strategy = "local-wins"
	StrategyRemoteWins    Strategy = "remote-wins"
	StrategyManualReview  Strategy = "manual-review"
)

// conflictEpsilonMs: timestamp skews below this are clock noise between
// devices, not divergence.
const conflictEpsilonMs = 500

// DetectConflict reports whether a locally-pending record diverges from
// the remote copy. The rule is deliberately asymmetric: only a remote
// copy strictly newer than a pending local edit counts. A local edit
// newer than a concurrently-changed remote is pushed as the winner
// without being flagged; changing that would be a behavior change, not
// a fix.
func DetectConflict(local *record.Record, remoteUpdatedAt int64) bool {
	if local == nil || local.SyncStatus != record.StatusPending {
		return false
	}
	delta := remoteUpdatedAt - local.LocalUpdatedAt
	if delta < 0 {
		delta = -delta
	}
	if delta <= conflictEpsilonMs {
		return false
	}
	return remoteUpdatedAt > local.LocalUpdatedAt
}

// Resolution is the outcome of resolving one conflict. Payload is nil
// for pending-review, which is excluded from the apply step entirely.
type Resolution struct {
	Outcome   string // store.Resolution* value
	Payload   map[string]any
	UpdatedAt int64
}

// Resolve settles a conflict between a pending local record and the
// local-shaped remote payload. Append-style collections always merge:
// entries are unioned by key and, where both sides wrote the same key,
// the sub-entry with the larger timestamp wins. That keeps one writer's
// entries from vanishing because another writer synced first.
func Resolve(col *schema.Collection, local *record.Record, remotePayload map[string]any, remoteUpdatedAt int64, strategy Strategy) Resolution {
	if col != nil && col.MergeEntries {
		merged := MergeEntries(col, local.Payload, remotePayload)
		updatedAt := local.LocalUpdatedAt
		if remoteUpdatedAt > updatedAt {
			updatedAt = remoteUpdatedAt
		}
		return Resolution{Outcome: store.ResolutionMerged, Payload: merged, UpdatedAt: updatedAt}
	}

	switch strategy {
	case StrategyLocalWins:
		return Resolution{Outcome: store.ResolutionLocal, Payload: record.ClonePayload(local.Payload), UpdatedAt: local.LocalUpdatedAt}
	case StrategyRemoteWins:
		return Resolution{Outcome: store.ResolutionRemote, Payload: record.ClonePayload(remotePayload), UpdatedAt: remoteUpdatedAt}
	case StrategyManualReview:
		return Resolution{Outcome: store.ResolutionPendingReview}
	default: // last-write-wins
		if local.LocalUpdatedAt >= remoteUpdatedAt {
			return Resolution{Outcome: store.ResolutionLocal, Payload: record.ClonePayload(local.Payload), UpdatedAt: local.LocalUpdatedAt}
		}
		return Resolution{Outcome: store.ResolutionRemote, Payload: record.ClonePayload(remotePayload), UpdatedAt: remoteUpdatedAt}
	}
}

// MergeEntries unions two append-style payloads. Non-entry fields come
// from whichever side has them, local winning ties; the entry map is
// merged per key by entry timestamp. Commutative given consistent
// per-entry stamps.
func MergeEntries(col *schema.Collection, localPayload, remotePayload map[string]any) map[string]any {
	merged := record.ClonePayload(remotePayload)
	if merged == nil {
		merged = make(map[string]any)
	}
	for k, v := range localPayload {
		if k == col.EntriesFieldName() {
			continue
		}
		merged[k] = cloneAny(v)
	}

	localEntries := col.EntriesOf(localPayload)
	remoteEntries := col.EntriesOf(remotePayload)
	out := make(map[string]any, len(localEntries)+len(remoteEntries))
	for key, entry := range remoteEntries {
		out[key] = cloneAny(entry)
	}
	for key, entry := range localEntries {
		existing, ok := out[key]
		if !ok || col.EntryStamp(entry) >= col.EntryStamp(existing) {
			out[key] = cloneAny(entry)
		}
	}

	return col.SetEntries(merged, out)
}

func cloneAny(v any) any {
	if m, ok := v.(map[string]any); ok {
		return record.ClonePayload(m)
	}
	return v
}

// newConflictRecord builds the append-only audit entry for a detected
// conflict.
func newConflictRecord(local *record.Record, remotePayload map[string]any, remoteUpdatedAt int64, res Resolution, now time.Time) *store.ConflictRecord {
	localJSON, _ := json.Marshal(local.Payload)
	remoteJSON, _ := json.Marshal(remotePayload)

	rec := &store.ConflictRecord{
		ID:              uuid.New().String(),
		Collection:      local.Collection,
		RecordID:        local.ID,
		LocalPayload:    localJSON,
		RemotePayload:   remoteJSON,
		LocalTimestamp:  local.LocalUpdatedAt,
		RemoteTimestamp: remoteUpdatedAt,
		Resolution:      res.Outcome,
		DetectedAt:      now,
	}
	if res.Payload != nil {
		resolvedJSON, _ := json.Marshal(res.Payload)
		rec.ResolvedPayload = resolvedJSON
	}
	return rec
}
