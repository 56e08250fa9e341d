// Copyright 2026 Hearth Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package syncer keeps a local sqlite mirror of upstream personal data
// collections fresh. Agents read the mirror so queries never block on a
// remote source.
package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/storage"
)

// Record is one synced item from an upstream collection.
type Record struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	SyncedAt   time.Time       `json:"synced_at"`
}

// CollectionStatus is the sync bookkeeping for one collection.
type CollectionStatus struct {
	Collection    string    `json:"collection"`
	LastSyncAt    time.Time `json:"last_sync_at"`
	LastError     string    `json:"last_error,omitempty"`
	RecordsSynced int       `json:"records_synced"`
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    BLOB NOT NULL,
	ts         INTEGER NOT NULL,
	synced_at  INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection_ts ON records(collection, ts DESC);

CREATE TABLE IF NOT EXISTS sync_status (
	collection     TEXT PRIMARY KEY,
	last_sync_at   INTEGER NOT NULL,
	last_error     TEXT NOT NULL DEFAULT '',
	records_synced INTEGER NOT NULL DEFAULT 0
);
`

// Store is the sqlite-backed local mirror.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the mirror database.
func OpenStore(config storage.DBConfig) (*Store, error) {
	db, err := storage.OpenDB(config)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fault.Wrap(fault.KindInternal, err, "creating sync store schema")
	}
	return &Store{db: db}, nil
}

// UpsertRecords writes a batch for one collection. Existing ids are
// replaced so re-syncing a window is safe.
func (s *Store) UpsertRecords(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "beginning sync transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (collection, id, payload, ts, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload = excluded.payload,
			ts = excluded.ts,
			synced_at = excluded.synced_at`)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "preparing upsert")
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, collection, r.ID, []byte(r.Payload), r.Timestamp.UnixMilli(), now.UnixMilli()); err != nil {
			return fault.Wrap(fault.KindInternal, err, "upserting record %q", r.ID)
		}
	}
	return tx.Commit()
}

// GetRecords pages through a collection newest first. since filters on the
// source timestamp; a zero since returns everything. Pages are 1-based.
func (s *Store) GetRecords(ctx context.Context, collection string, since time.Time, limit, page int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, ts, synced_at FROM records
		WHERE collection = ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT ? OFFSET ?`,
		collection, since.UnixMilli(), limit, (page-1)*limit)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "querying records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts, syncedAt int64
		if err := rows.Scan(&r.ID, (*[]byte)(&r.Payload), &ts, &syncedAt); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "scanning record")
		}
		r.Collection = collection
		r.Timestamp = time.UnixMilli(ts)
		r.SyncedAt = time.UnixMilli(syncedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fault.Wrap(fault.KindInternal, err, "counting records")
	}
	return n, nil
}

// LastSync returns the watermark for a collection, zero if never synced.
func (s *Store) LastSync(ctx context.Context, collection string) (time.Time, error) {
	var at int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync_at FROM sync_status WHERE collection = ?`, collection).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fault.Wrap(fault.KindInternal, err, "reading sync watermark")
	}
	if at <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(at), nil
}

// SetSyncStatus records the outcome of a sync pass for one collection.
// A zero LastSyncAt is stored as 0 so the watermark stays unset.
func (s *Store) SetSyncStatus(ctx context.Context, status CollectionStatus) error {
	var at int64
	if !status.LastSyncAt.IsZero() {
		at = status.LastSyncAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (collection, last_sync_at, last_error, records_synced)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_error = excluded.last_error,
			records_synced = sync_status.records_synced + excluded.records_synced`,
		status.Collection, at, status.LastError, status.RecordsSynced)
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "writing sync status")
	}
	return nil
}

// Status returns the bookkeeping rows for all collections.
func (s *Store) Status(ctx context.Context) ([]CollectionStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, last_sync_at, last_error, records_synced FROM sync_status ORDER BY collection`)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "querying sync status")
	}
	defer rows.Close()

	var out []CollectionStatus
	for rows.Next() {
		var cs CollectionStatus
		var at int64
		if err := rows.Scan(&cs.Collection, &at, &cs.LastError, &cs.RecordsSynced); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "scanning sync status")
		}
		if at > 0 {
			cs.LastSyncAt = time.UnixMilli(at)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Cleanup deletes records older than the retention window, by source
// timestamp. Returns the number of rows removed.
func (s *Store) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, fault.New(fault.KindBadRequest, fmt.Sprintf("daysToKeep must be positive, got %d", daysToKeep))
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)

	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fault.Wrap(fault.KindInternal, err, "cleaning up records")
	}
	return result.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
