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
// Package cache implements the three-tier semantic cache: an in-process map
// (L1), an optional remote key/value store (L2), and a local durable store
// (L3). Reads promote lower-tier hits upward; writes fan out to every tier.
// Tier failures degrade the cache but never corrupt a response.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hearth-labs/hearth/pkg/storage"
)

// Tier labels in hit results and stats.
const (
	TierL1 = "l1"
	TierL2 = "l2"
	TierL3 = "l3"
)

// Default tier parameters.
const (
	DefaultL1MaxEntries = 500
	DefaultL1TTL        = 30 * time.Second
	DefaultL2TTL        = 5 * time.Minute
	DefaultL3TTL        = 24 * time.Hour
)

// Config configures a SemanticCache.
type Config struct {
	// DBPath is the L3 single-file database path. Required.
	DBPath string

	// L2URL is the optional remote KV URL (redis://...). Empty disables L2.
	L2URL string

	// Encryption settings for the L3 file.
	EncryptDatabase bool
	EncryptionKey   string

	L1MaxEntries int
	L1TTL        time.Duration
	L2TTL        time.Duration
	L3TTL        time.Duration

	Logger *zap.Logger
}

// Hit is a successful cache lookup.
type Hit struct {
	// Blob is the stored interpretation.
	Blob json.RawMessage

	// Confidence carried with the value. L1 hits report 1.0: a direct hit
	// on a still-valid interpretation is fully trusted because staleness
	// is bounded by the short L1 TTL.
	Confidence float64

	// Tier that satisfied the lookup.
	Tier string
}

// RelationshipEdge links two entities across platforms.
type RelationshipEdge struct {
	EntityType  string                 `json:"entity_type"`
	EntityID    string                 `json:"entity_id"`
	RelatedType string                 `json:"related_type"`
	RelatedID   string                 `json:"related_id"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Confidence  float64                `json:"confidence"`
	StoredAt    time.Time              `json:"stored_at"`
}

// TierStats reports per-tier counters.
type TierStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats is the aggregate cache statistics snapshot.
type Stats struct {
	Tiers       map[string]TierStats `json:"tiers"`
	TotalHits   int64                `json:"total_hits"`
	TotalMisses int64                `json:"total_misses"`
	ApproxBytes int                  `json:"approx_bytes"`
}

// SemanticCache is the tiered interpretation cache.
type SemanticCache struct {
	l1     *l1Tier
	l2     *l2Tier // nil when disabled
	l3     *l3Tier
	logger *zap.Logger

	l1Hits, l1Misses int64
	l2Hits, l2Misses int64
	l3Hits, l3Misses int64
}

// New creates a SemanticCache. L1 is always available; L2 is enabled only
// when Config.L2URL is set; L3 is required and opens the durable file.
func New(config Config) (*SemanticCache, error) {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.L1MaxEntries == 0 {
		config.L1MaxEntries = DefaultL1MaxEntries
	}
	if config.L1TTL == 0 {
		config.L1TTL = DefaultL1TTL
	}
	if config.L2TTL == 0 {
		config.L2TTL = DefaultL2TTL
	}
	if config.L3TTL == 0 {
		config.L3TTL = DefaultL3TTL
	}

	l3, err := newL3Tier(storage.DBConfig{
		Path:            config.DBPath,
		EncryptDatabase: config.EncryptDatabase,
		EncryptionKey:   config.EncryptionKey,
	}, config.L3TTL)
	if err != nil {
		return nil, err
	}

	c := &SemanticCache{
		l1:     newL1Tier(config.L1MaxEntries, config.L1TTL),
		l3:     l3,
		logger: config.Logger,
	}

	if config.L2URL != "" {
		l2, err := newL2Tier(config.L2URL, config.L2TTL, config.Logger)
		if err != nil {
			// L2 is optional: a bad URL degrades the cache, not the service.
			config.Logger.Warn("L2 cache disabled", zap.Error(err))
		} else {
			c.l2 = l2
		}
	}

	return c, nil
}

// normalize lowercases and collapses whitespace.
func normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key derives the cache key for (query, agentID):
// SHA-256 over normalize(query) + U+241F + agentID, hex-encoded.
func Key(query, agentID string) string {
	h := sha256.Sum256([]byte(normalize(query) + "␟" + agentID))
	return hex.EncodeToString(h[:])
}

// Get looks up an interpretation for (query, agentID), trying L1, then L2,
// then L3. A lower-tier hit is promoted to all higher tiers with a refreshed
// timestamp. Returns false on a full miss; tier errors degrade to misses.
func (c *SemanticCache) Get(ctx context.Context, query, agentID string) (Hit, bool) {
	key := Key(query, agentID)
	norm := normalize(query)

	if entry, ok := c.l1.get(key); ok {
		atomic.AddInt64(&c.l1Hits, 1)
		return Hit{Blob: entry.blob, Confidence: 1.0, Tier: TierL1}, true
	}
	atomic.AddInt64(&c.l1Misses, 1)

	if c.l2 != nil {
		if env, ok := c.l2.get(ctx, agentID, key); ok {
			atomic.AddInt64(&c.l2Hits, 1)
			now := time.Now()
			c.l1.set(key, l1Entry{normQuery: env.NormQuery, blob: env.Blob, confidence: env.Confidence, storedAt: now})
			return Hit{Blob: env.Blob, Confidence: env.Confidence, Tier: TierL2}, true
		}
		atomic.AddInt64(&c.l2Misses, 1)
	}

	entry, ok, err := c.l3.get(ctx, key)
	if err != nil {
		c.logger.Warn("L3 get degraded to miss", zap.Error(err))
		atomic.AddInt64(&c.l3Misses, 1)
		return Hit{}, false
	}
	if !ok {
		atomic.AddInt64(&c.l3Misses, 1)
		return Hit{}, false
	}
	atomic.AddInt64(&c.l3Hits, 1)

	// Promote with a refreshed timestamp
	now := time.Now()
	c.l1.set(key, l1Entry{normQuery: norm, blob: entry.blob, confidence: entry.confidence, storedAt: now})
	if c.l2 != nil {
		c.l2.set(ctx, agentID, key, l2Envelope{
			NormQuery: norm, Blob: entry.blob, Confidence: entry.confidence, StoredAt: now.Unix(),
		})
	}

	return Hit{Blob: entry.blob, Confidence: entry.confidence, Tier: TierL3}, true
}

// Set stores an interpretation in every available tier. The L1 write always
// succeeds; L2 and L3 failures are logged as warnings without failing the
// call, so the caller observes an atomic set.
func (c *SemanticCache) Set(ctx context.Context, query, agentID string, blob json.RawMessage, confidence float64) error {
	key := Key(query, agentID)
	norm := normalize(query)
	now := time.Now()

	c.l1.set(key, l1Entry{normQuery: norm, blob: blob, confidence: confidence, storedAt: now})

	if c.l2 != nil {
		c.l2.set(ctx, agentID, key, l2Envelope{
			NormQuery: norm, Blob: blob, Confidence: confidence, StoredAt: now.Unix(),
		})
	}

	if err := c.l3.set(ctx, key, agentID, l3Entry{
		normQuery: norm, blob: blob, confidence: confidence, storedAt: now,
	}); err != nil {
		c.logger.Warn("L3 set failed", zap.Error(err))
	}

	return nil
}

// InvalidatePattern deletes, from all tiers, every entry for agentID whose
// normalized query contains pattern (case-insensitive substring). Returns
// the number of entries removed from the durable tier.
func (c *SemanticCache) InvalidatePattern(ctx context.Context, pattern, agentID string) (int, error) {
	c.l1.invalidatePattern(pattern)

	if c.l2 != nil {
		c.l2.invalidatePattern(ctx, agentID, pattern)
	}

	removed, err := c.l3.invalidatePattern(ctx, agentID, pattern)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// CacheRelationship stores a relationship edge in the durable tier.
func (c *SemanticCache) CacheRelationship(ctx context.Context, edge RelationshipEdge) error {
	if edge.StoredAt.IsZero() {
		edge.StoredAt = time.Now()
	}
	return c.l3.setRelationship(ctx, edge)
}

// GetRelationships returns edges for an entity, optionally filtered by
// related entity type (empty string matches all).
func (c *SemanticCache) GetRelationships(ctx context.Context, entityType, entityID, relatedType string) ([]RelationshipEdge, error) {
	return c.l3.getRelationships(ctx, entityType, entityID, relatedType)
}

// Stats returns tier sizes, per-tier hit counters, and an approximate
// memory footprint.
func (c *SemanticCache) Stats(ctx context.Context) Stats {
	stats := Stats{Tiers: make(map[string]TierStats)}

	stats.Tiers[TierL1] = TierStats{
		Size:   c.l1.size(),
		Hits:   atomic.LoadInt64(&c.l1Hits),
		Misses: atomic.LoadInt64(&c.l1Misses),
	}
	if c.l2 != nil {
		stats.Tiers[TierL2] = TierStats{
			Size:   c.l2.size(ctx),
			Hits:   atomic.LoadInt64(&c.l2Hits),
			Misses: atomic.LoadInt64(&c.l2Misses),
		}
	}
	l3Size, err := c.l3.size(ctx)
	if err != nil {
		c.logger.Warn("L3 size query failed", zap.Error(err))
	}
	stats.Tiers[TierL3] = TierStats{
		Size:   l3Size,
		Hits:   atomic.LoadInt64(&c.l3Hits),
		Misses: atomic.LoadInt64(&c.l3Misses),
	}

	for _, ts := range stats.Tiers {
		stats.TotalHits += ts.Hits
		stats.TotalMisses += ts.Misses
	}
	stats.ApproxBytes = c.l1.approxBytes()

	return stats
}

// Close releases tier resources.
func (c *SemanticCache) Close() error {
	if c.l2 != nil {
		if err := c.l2.close(); err != nil {
			c.logger.Warn("L2 close failed", zap.Error(err))
		}
	}
	return c.l3.close()
}
