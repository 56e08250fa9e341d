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
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hearth-labs/hearth/pkg/storage"
)

// l3Tier is the local durable tier: a single-file embedded database holding
// interpretation entries and relationship edges. Writes are serialized
// through a mutex; the critical section is one statement.
type l3Tier struct {
	db  *sql.DB
	mu  sync.Mutex
	ttl time.Duration
}

func newL3Tier(config storage.DBConfig, ttl time.Duration) (*l3Tier, error) {
	db, err := storage.OpenDB(config)
	if err != nil {
		return nil, err
	}

	t := &l3Tier{db: db, ttl: ttl}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return t, nil
}

func (t *l3Tier) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_cache (
		query_hash TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		norm_query TEXT NOT NULL,
		blob BLOB NOT NULL,
		confidence REAL NOT NULL,
		stored_at INTEGER NOT NULL,
		hits INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_query_cache_agent ON query_cache(agent_id);

	CREATE TABLE IF NOT EXISTS relationship_cache (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		related_type TEXT NOT NULL,
		related_id TEXT NOT NULL,
		blob BLOB,
		confidence REAL NOT NULL,
		stored_at INTEGER NOT NULL,
		PRIMARY KEY (entity_type, entity_id, related_type, related_id)
	);

	CREATE INDEX IF NOT EXISTS idx_relationship_entity ON relationship_cache(entity_type, entity_id);
	`
	_, err := t.db.Exec(schema)
	return err
}

type l3Entry struct {
	normQuery  string
	blob       json.RawMessage
	confidence float64
	storedAt   time.Time
	hits       int64
}

// get returns the stored entry for (queryHash) if unexpired, incrementing
// its hit counter.
func (t *l3Tier) get(ctx context.Context, queryHash string) (l3Entry, bool, error) {
	var entry l3Entry
	var storedAt int64

	row := t.db.QueryRowContext(ctx,
		`SELECT norm_query, blob, confidence, stored_at, hits FROM query_cache WHERE query_hash = ?`,
		queryHash)
	if err := row.Scan(&entry.normQuery, &entry.blob, &entry.confidence, &storedAt, &entry.hits); err != nil {
		if err == sql.ErrNoRows {
			return l3Entry{}, false, nil
		}
		return l3Entry{}, false, err
	}

	entry.storedAt = time.Unix(storedAt, 0)
	if time.Since(entry.storedAt) > t.ttl {
		t.mu.Lock()
		_, _ = t.db.ExecContext(ctx, `DELETE FROM query_cache WHERE query_hash = ?`, queryHash)
		t.mu.Unlock()
		return l3Entry{}, false, nil
	}

	t.mu.Lock()
	_, _ = t.db.ExecContext(ctx, `UPDATE query_cache SET hits = hits + 1 WHERE query_hash = ?`, queryHash)
	t.mu.Unlock()

	return entry, true, nil
}

// set upserts an entry. Last-writer-wins on stored_at.
func (t *l3Tier) set(ctx context.Context, queryHash, agentID string, entry l3Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, agent_id, norm_query, blob, confidence, stored_at, hits)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(query_hash) DO UPDATE SET
			blob = excluded.blob,
			confidence = excluded.confidence,
			stored_at = excluded.stored_at
		WHERE excluded.stored_at >= query_cache.stored_at`,
		queryHash, agentID, entry.normQuery, []byte(entry.blob), entry.confidence, entry.storedAt.Unix())
	return err
}

// likeEscaper neutralizes LIKE metacharacters so patterns match as plain
// substrings, the same way the in-memory tiers do.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// invalidatePattern deletes entries for agentID whose normalized query
// contains pattern (case-insensitive). Returns the number removed.
func (t *l3Tier) invalidatePattern(ctx context.Context, agentID, pattern string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.db.ExecContext(ctx,
		`DELETE FROM query_cache WHERE agent_id = ? AND norm_query LIKE ? ESCAPE '\'`,
		agentID, "%"+likeEscaper.Replace(strings.ToLower(pattern))+"%")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// size returns the number of query entries.
func (t *l3Tier) size(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache`).Scan(&n)
	return n, err
}

// setRelationship upserts a relationship edge; updating overwrites the
// attributes blob and timestamp.
func (t *l3Tier) setRelationship(ctx context.Context, edge RelationshipEdge) error {
	attrs, err := json.Marshal(edge.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship attributes: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO relationship_cache (entity_type, entity_id, related_type, related_id, blob, confidence, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, related_type, related_id) DO UPDATE SET
			blob = excluded.blob,
			confidence = excluded.confidence,
			stored_at = excluded.stored_at`,
		edge.EntityType, edge.EntityID, edge.RelatedType, edge.RelatedID,
		attrs, edge.Confidence, edge.StoredAt.Unix())
	return err
}

// getRelationships returns edges for an entity, optionally filtered by
// related entity type. Edges have no TTL.
func (t *l3Tier) getRelationships(ctx context.Context, entityType, entityID, relatedType string) ([]RelationshipEdge, error) {
	query := `SELECT entity_type, entity_id, related_type, related_id, blob, confidence, stored_at
		FROM relationship_cache WHERE entity_type = ? AND entity_id = ?`
	args := []interface{}{entityType, entityID}
	if relatedType != "" {
		query += ` AND related_type = ?`
		args = append(args, relatedType)
	}
	query += ` ORDER BY stored_at DESC`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []RelationshipEdge
	for rows.Next() {
		var edge RelationshipEdge
		var attrs []byte
		var storedAt int64
		if err := rows.Scan(&edge.EntityType, &edge.EntityID, &edge.RelatedType, &edge.RelatedID,
			&attrs, &edge.Confidence, &storedAt); err != nil {
			return nil, err
		}
		edge.StoredAt = time.Unix(storedAt, 0)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &edge.Attributes); err != nil {
				return nil, fmt.Errorf("corrupt relationship attributes: %w", err)
			}
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func (t *l3Tier) close() error {
	return t.db.Close()
}
