package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Resolution outcomes recorded in the conflict log.
const (
	ResolutionLocal         = "local"
	ResolutionRemote        = "remote"
	ResolutionMerged        = "merged"
	ResolutionPendingReview = "pending-review"
)

// ConflictRecord is one append-only audit entry for a detected
// divergence. Pending-review rows stay open until a reviewer resolves
// them through the API.
type ConflictRecord struct {
	ID              string          `db:"id"`
	Collection      string          `db:"collection"`
	RecordID        string          `db:"record_id"`
	LocalPayload    json.RawMessage `db:"local_payload"`
	RemotePayload   json.RawMessage `db:"remote_payload"`
	LocalTimestamp  int64           `db:"local_timestamp"`
	RemoteTimestamp int64           `db:"remote_timestamp"`
	Resolution      string          `db:"resolution"`
	ResolvedPayload json.RawMessage `db:"resolved_payload"`
	DetectedAt      time.Time       `db:"detected_at"`
	ResolvedAt      sql.NullTime    `db:"resolved_at"`
}

// SyncHistory is one row per sync cycle.
type SyncHistory struct {
	ID           string         `db:"id"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
	Direction    string         `db:"direction"` // "push", "pull", "bidirectional"
	Collections  string         `db:"collections"`
	Synced       int            `db:"synced"`
	Failed       int            `db:"failed"`
	Conflicts    int            `db:"conflicts"`
	Status       string         `db:"status"` // "running", "completed", "error"
	ErrorMessage sql.NullString `db:"error_message"`
}

// ErrorEntry is the latest failure for one permanently-failed record.
type ErrorEntry struct {
	Collection string    `db:"collection"`
	RecordID   string    `db:"record_id"`
	Message    string    `db:"message"`
	OccurredAt time.Time `db:"occurred_at"`
}
