package record

import (
	"time"
)

// Status tracks where a record sits in the sync lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Record is the durable unit the local store owns. Payload holds the
// domain fields; everything else is sync bookkeeping. Timestamps are
// epoch milliseconds.
type Record struct {
	ID             string         `json:"id"`
	Collection     string         `json:"collection"`
	Payload        map[string]any `json:"payload"`
	SyncStatus     Status         `json:"syncStatus"`
	LocalUpdatedAt int64          `json:"localUpdatedAt"`
	LastSyncedAt   int64          `json:"lastSyncedAt,omitempty"`
	RetryCount     int            `json:"retryCount"`
	LastError      string         `json:"lastError,omitempty"`
	// Deleted marks an offline tombstone: the record was deleted
	// locally after it had synced, and the remote copy still needs
	// removing. The row disappears once the remote remove confirms.
	Deleted bool `json:"deleted,omitempty"`
}

// NowMillis returns the current time as epoch milliseconds, the single
// timestamp representation used locally.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Touch applies a local mutation: any payload change makes the record
// pending again and refreshes its local timestamp.
func (r *Record) Touch(payload map[string]any) {
	r.Payload = payload
	r.SyncStatus = StatusPending
	r.LocalUpdatedAt = NowMillis()
}

// Clone returns a deep copy. The engine hands copies to resolvers and
// transformers so an in-flight cycle never aliases store-owned payloads.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Payload = ClonePayload(r.Payload)
	return &cp
}

// ClonePayload deep-copies a payload map, recursing into nested maps
// and slices.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// AsInt64 normalizes the numeric types a payload timestamp may arrive
// as after a JSON round trip.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case uint32:
		return int64(t), true
	default:
		return 0, false
	}
}
