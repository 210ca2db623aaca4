package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"record-sync-service/internal/database"
	"record-sync-service/internal/record"
)

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS records (
	collection       TEXT NOT NULL,
	id               TEXT NOT NULL,
	payload          TEXT NOT NULL,
	sync_status      TEXT NOT NULL,
	local_updated_at BIGINT NOT NULL,
	last_synced_at   BIGINT NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	deleted          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_status  ON records (collection, sync_status);
CREATE INDEX IF NOT EXISTS idx_records_updated ON records (collection, local_updated_at);
`

const schemaMySQL = `
CREATE TABLE IF NOT EXISTS records (
	collection       VARCHAR(128) NOT NULL,
	id               VARCHAR(191) NOT NULL,
	payload          JSON NOT NULL,
	sync_status      VARCHAR(16) NOT NULL,
	local_updated_at BIGINT NOT NULL,
	last_synced_at   BIGINT NOT NULL DEFAULT 0,
	retry_count      INT NOT NULL DEFAULT 0,
	last_error       TEXT,
	deleted          TINYINT(1) NOT NULL DEFAULT 0,
	PRIMARY KEY (collection, id),
	INDEX idx_records_status (collection, sync_status),
	INDEX idx_records_updated (collection, local_updated_at)
);
`

// SQLStore implements Store over the shared database handle.
type SQLStore struct {
	db *database.Database
}

func NewSQLStore(db *database.Database) (*SQLStore, error) {
	ddl := schemaSQLite
	if db.Driver == "mysql" {
		ddl = schemaMySQL
	}
	if _, err := db.DB.Exec(ddl); err != nil {
		return nil, fmt.Errorf("failed to init records schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*record.Record, error) {
	query := `SELECT collection, id, payload, sync_status, local_updated_at, last_synced_at, retry_count, last_error, deleted
			  FROM records WHERE collection = ? AND id = ?`

	rec, err := scanRecord(s.db.DB.QueryRowContext(ctx, query, collection, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return rec, nil
}

func (s *SQLStore) Put(ctx context.Context, rec *record.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := upsertQuery(s.db.Driver)
	_, err = s.db.DB.ExecContext(ctx, query,
		rec.Collection, rec.ID, string(payload), string(rec.SyncStatus),
		rec.LocalUpdatedAt, rec.LastSyncedAt, rec.RetryCount, rec.LastError, rec.Deleted,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLStore) QueryByIndex(ctx context.Context, collection, index, value string) ([]*record.Record, error) {
	var column string
	switch index {
	case IndexSyncStatus:
		column = "sync_status"
	case IndexLocalUpdatedAt:
		column = "local_updated_at"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, index)
	}

	query := fmt.Sprintf(`SELECT collection, id, payload, sync_status, local_updated_at, last_synced_at, retry_count, last_error, deleted
			  FROM records WHERE collection = ? AND %s = ? ORDER BY local_updated_at ASC`, column)

	rows, err := s.db.DB.QueryContext(ctx, query, collection, value)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var recs []*record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return recs, nil
}

// BatchPut writes all records in one transaction: either every record
// lands or none do.
func (s *SQLStore) BatchPut(ctx context.Context, collection string, recs []*record.Record) error {
	if len(recs) == 0 {
		return nil
	}

	query := upsertQuery(s.db.Driver)
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range recs {
			if rec.Collection != collection {
				return fmt.Errorf("record %s belongs to %q, not %q", rec.ID, rec.Collection, collection)
			}
			payload, err := json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode payload for %s: %w", rec.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				rec.Collection, rec.ID, string(payload), string(rec.SyncStatus),
				rec.LocalUpdatedAt, rec.LastSyncedAt, rec.RetryCount, rec.LastError, rec.Deleted,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *SQLStore) CountByStatus(ctx context.Context, collection string) (map[record.Status]int, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM records WHERE collection = ? GROUP BY sync_status`, collection)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	counts := make(map[record.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, unavailable(err)
		}
		counts[record.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return counts, nil
}

func upsertQuery(driver string) string {
	if driver == "mysql" {
		return `INSERT INTO records (collection, id, payload, sync_status, local_updated_at, last_synced_at, retry_count, last_error, deleted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE
				payload = VALUES(payload),
				sync_status = VALUES(sync_status),
				local_updated_at = VALUES(local_updated_at),
				last_synced_at = VALUES(last_synced_at),
				retry_count = VALUES(retry_count),
				last_error = VALUES(last_error),
				deleted = VALUES(deleted)`
	}
	return `INSERT INTO records (collection, id, payload, sync_status, local_updated_at, last_synced_at, retry_count, last_error, deleted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (collection, id) DO UPDATE SET
			payload = excluded.payload,
			sync_status = excluded.sync_status,
			local_updated_at = excluded.local_updated_at,
			last_synced_at = excluded.last_synced_at,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			deleted = excluded.deleted`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var rec record.Record
	var payload, status string
	if err := row.Scan(
		&rec.Collection, &rec.ID, &payload, &status,
		&rec.LocalUpdatedAt, &rec.LastSyncedAt, &rec.RetryCount, &rec.LastError, &rec.Deleted,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload for %s/%s: %w", rec.Collection, rec.ID, err)
	}
	rec.SyncStatus = record.Status(status)
	return &rec, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
