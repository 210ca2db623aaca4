package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"record-sync-service/internal/database"
)

const auditSchemaSQLite = `
CREATE TABLE IF NOT EXISTS conflicts (
	id               TEXT PRIMARY KEY,
	collection       TEXT NOT NULL,
	record_id        TEXT NOT NULL,
	local_payload    TEXT NOT NULL,
	remote_payload   TEXT NOT NULL,
	local_timestamp  BIGINT NOT NULL,
	remote_timestamp BIGINT NOT NULL,
	resolution       TEXT NOT NULL,
	resolved_payload TEXT,
	detected_at      TIMESTAMP NOT NULL,
	resolved_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conflicts_pending ON conflicts (resolution);
CREATE TABLE IF NOT EXISTS sync_history (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMP NOT NULL,
	completed_at  TIMESTAMP,
	direction     TEXT NOT NULL,
	collections   TEXT NOT NULL,
	synced        INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	conflicts     INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS sync_errors (
	collection  TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	message     TEXT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, record_id)
);
`

const auditSchemaMySQL = `
CREATE TABLE IF NOT EXISTS conflicts (
	id               VARCHAR(36) PRIMARY KEY,
	collection       VARCHAR(128) NOT NULL,
	record_id        VARCHAR(191) NOT NULL,
	local_payload    JSON NOT NULL,
	remote_payload   JSON NOT NULL,
	local_timestamp  BIGINT NOT NULL,
	remote_timestamp BIGINT NOT NULL,
	resolution       VARCHAR(32) NOT NULL,
	resolved_payload JSON,
	detected_at      DATETIME NOT NULL,
	resolved_at      DATETIME,
	INDEX idx_conflicts_pending (resolution)
);
CREATE TABLE IF NOT EXISTS sync_history (
	id            VARCHAR(36) PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	direction     VARCHAR(16) NOT NULL,
	collections   TEXT NOT NULL,
	synced        INT NOT NULL DEFAULT 0,
	failed        INT NOT NULL DEFAULT 0,
	conflicts     INT NOT NULL DEFAULT 0,
	status        VARCHAR(16) NOT NULL,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS sync_errors (
	collection  VARCHAR(128) NOT NULL,
	record_id   VARCHAR(191) NOT NULL,
	message     TEXT NOT NULL,
	occurred_at DATETIME NOT NULL,
	PRIMARY KEY (collection, record_id)
);
`

type SQLStore struct {
	db *database.Database
}

func NewSQLStore(db *database.Database) (*SQLStore, error) {
	ddl := auditSchemaSQLite
	if db.Driver == "mysql" {
		ddl = auditSchemaMySQL
	}
	if _, err := db.DB.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to init audit schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateConflict(ctx context.Context, conflict *ConflictRecord) error {
	query := `INSERT INTO conflicts (id, collection, record_id, local_payload, remote_payload, local_timestamp, remote_timestamp, resolution, resolved_payload, detected_at, resolved_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		conflict.ID,
		conflict.Collection,
		conflict.RecordID,
		string(conflict.LocalPayload),
		string(conflict.RemotePayload),
		conflict.LocalTimestamp,
		conflict.RemoteTimestamp,
		conflict.Resolution,
		nullableJSON(conflict.ResolvedPayload),
		conflict.DetectedAt,
		conflict.ResolvedAt,
	)
	return err
}

func (s *SQLStore) GetConflict(ctx context.Context, id string) (*ConflictRecord, error) {
	query := `SELECT id, collection, record_id, local_payload, remote_payload, local_timestamp, remote_timestamp, resolution, resolved_payload, detected_at, resolved_at
			  FROM conflicts WHERE id = ?`

	conflict, err := scanConflict(s.db.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conflict, nil
}

func (s *SQLStore) ListConflicts(ctx context.Context, pendingOnly bool, limit, offset int) ([]*ConflictRecord, error) {
	query := `SELECT id, collection, record_id, local_payload, remote_payload, local_timestamp, remote_timestamp, resolution, resolved_payload, detected_at, resolved_at
			  FROM conflicts`
	args := []any{}
	if pendingOnly {
		query += ` WHERE resolution = ?`
		args = append(args, ResolutionPendingReview)
	}
	query += ` ORDER BY detected_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *SQLStore) HasOpenConflict(ctx context.Context, collection, recordID string) (bool, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE collection = ? AND record_id = ? AND resolution = ?`,
		collection, recordID, ResolutionPendingReview).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) ResolveConflict(ctx context.Context, id, resolution string, resolvedPayload []byte) error {
	query := `UPDATE conflicts SET resolution = ?, resolved_payload = ?, resolved_at = ?
			  WHERE id = ? AND resolution = ?`

	res, err := s.db.DB.ExecContext(ctx, query,
		resolution, nullableJSON(resolvedPayload), time.Now(), id, ResolutionPendingReview)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conflict %s not found or not pending review", id)
	}
	return nil
}

func (s *SQLStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, completed_at, direction, collections, synced, failed, conflicts, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		history.ID, history.StartedAt, history.CompletedAt, history.Direction,
		history.Collections, history.Synced, history.Failed, history.Conflicts,
		history.Status, history.ErrorMessage,
	)
	return err
}

func (s *SQLStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, synced = ?, failed = ?, conflicts = ?, status = ?, error_message = ?
			  WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		history.CompletedAt, history.Synced, history.Failed, history.Conflicts,
		history.Status, history.ErrorMessage, history.ID,
	)
	return err
}

func (s *SQLStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, direction, collections, synced, failed, conflicts, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var histories []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		if err := rows.Scan(
			&h.ID, &h.StartedAt, &h.CompletedAt, &h.Direction, &h.Collections,
			&h.Synced, &h.Failed, &h.Conflicts, &h.Status, &h.ErrorMessage,
		); err != nil {
			return nil, err
		}
		histories = append(histories, &h)
	}
	return histories, rows.Err()
}

func (s *SQLStore) UpsertError(ctx context.Context, entry *ErrorEntry) error {
	var query string
	if s.db.Driver == "mysql" {
		query = `INSERT INTO sync_errors (collection, record_id, message, occurred_at)
				 VALUES (?, ?, ?, ?)
				 ON DUPLICATE KEY UPDATE message = VALUES(message), occurred_at = VALUES(occurred_at)`
	} else {
		query = `INSERT INTO sync_errors (collection, record_id, message, occurred_at)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT (collection, record_id) DO UPDATE SET
				 message = excluded.message, occurred_at = excluded.occurred_at`
	}

	_, err := s.db.DB.ExecContext(ctx, query,
		entry.Collection, entry.RecordID, entry.Message, entry.OccurredAt)
	return err
}

func (s *SQLStore) ListErrors(ctx context.Context, limit, offset int) ([]*ErrorEntry, error) {
	query := `SELECT collection, record_id, message, occurred_at
			  FROM sync_errors ORDER BY occurred_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*ErrorEntry
	for rows.Next() {
		var e ErrorEntry
		if err := rows.Scan(&e.Collection, &e.RecordID, &e.Message, &e.OccurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) ClearErrors(ctx context.Context) error {
	_, err := s.db.DB.ExecContext(ctx, `DELETE FROM sync_errors`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConflict(row rowScanner) (*ConflictRecord, error) {
	var c ConflictRecord
	var local, remoteP string
	var resolved sql.NullString
	if err := row.Scan(
		&c.ID, &c.Collection, &c.RecordID, &local, &remoteP,
		&c.LocalTimestamp, &c.RemoteTimestamp, &c.Resolution, &resolved,
		&c.DetectedAt, &c.ResolvedAt,
	); err != nil {
		return nil, err
	}
	c.LocalPayload = []byte(local)
	c.RemotePayload = []byte(remoteP)
	if resolved.Valid {
		c.ResolvedPayload = []byte(resolved.String)
	}
	return &c, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
