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
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupCache(t *testing.T, l2URL string) *SemanticCache {
	t.Helper()
	c, err := New(Config{
		DBPath: filepath.Join(t.TempDir(), "agent_cache.db"),
		L2URL:  l2URL,
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey_NormalizesQuery(t *testing.T) {
	assert.Equal(t, Key("Find Emails", "mail"), Key("  find   emails ", "mail"))
	assert.NotEqual(t, Key("find emails", "mail"), Key("find emails", "calendar"))
	assert.NotEqual(t, Key("find emails", "mail"), Key("find messages", "mail"))
}

func TestSetGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	blob := json.RawMessage(`{"capability":"mail.search","parameters":{"q":"project X"}}`)
	require.NoError(t, c.Set(ctx, "find emails about project X", "mail", blob, 0.9))

	hit, ok := c.Get(ctx, "find emails about project X", "mail")
	require.True(t, ok)
	assert.JSONEq(t, string(blob), string(hit.Blob))
	assert.Equal(t, TierL1, hit.Tier)
	// direct L1 hits are fully trusted
	assert.Equal(t, 1.0, hit.Confidence)

	// different agent misses
	_, ok = c.Get(ctx, "find emails about project X", "calendar")
	assert.False(t, ok)
}

func TestGet_PromotesFromL3(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	blob := json.RawMessage(`{"capability":"calendar.get_events"}`)
	require.NoError(t, c.Set(ctx, "events today", "calendar", blob, 0.8))

	// Drop L1 so the next read must come from L3
	c.l1 = newL1Tier(DefaultL1MaxEntries, DefaultL1TTL)

	hit, ok := c.Get(ctx, "events today", "calendar")
	require.True(t, ok)
	assert.Equal(t, TierL3, hit.Tier)
	assert.Equal(t, 0.8, hit.Confidence)

	// Promotion: the follow-up read is an L1 hit
	hit, ok = c.Get(ctx, "events today", "calendar")
	require.True(t, ok)
	assert.Equal(t, TierL1, hit.Tier)
}

func TestGet_L2Tier(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())
	require.NotNil(t, c.l2)

	blob := json.RawMessage(`{"capability":"mail.search"}`)
	require.NoError(t, c.Set(ctx, "unread mail", "mail", blob, 0.85))

	// Clear L1; the L2 tier should satisfy the read before L3
	c.l1 = newL1Tier(DefaultL1MaxEntries, DefaultL1TTL)

	hit, ok := c.Get(ctx, "unread mail", "mail")
	require.True(t, ok)
	assert.Equal(t, TierL2, hit.Tier)
	assert.Equal(t, 0.85, hit.Confidence)
}

func TestGet_L2DownDegradesToL3(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := setupCache(t, "redis://"+mr.Addr())

	blob := json.RawMessage(`{"capability":"mail.search"}`)
	require.NoError(t, c.Set(ctx, "unread mail", "mail", blob, 0.85))

	c.l1 = newL1Tier(DefaultL1MaxEntries, DefaultL1TTL)
	mr.Close() // remote KV outage

	hit, ok := c.Get(ctx, "unread mail", "mail")
	require.True(t, ok)
	assert.Equal(t, TierL3, hit.Tier)
}

func TestInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	require.NoError(t, c.Set(ctx, "events today", "calendar", json.RawMessage(`{"a":1}`), 0.9))
	require.NoError(t, c.Set(ctx, "events tomorrow", "calendar", json.RawMessage(`{"b":2}`), 0.9))

	removed, err := c.InvalidatePattern(ctx, "TODAY", "calendar")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get(ctx, "events today", "calendar")
	assert.False(t, ok)

	hit, ok := c.Get(ctx, "events tomorrow", "calendar")
	require.True(t, ok)
	assert.JSONEq(t, `{"b":2}`, string(hit.Blob))
}

func TestInvalidatePattern_WildcardsMatchLiterally(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	require.NoError(t, c.Set(ctx, "progress report", "mail", json.RawMessage(`{"a":1}`), 0.9))
	require.NoError(t, c.Set(ctx, "p%t marker", "mail", json.RawMessage(`{"b":2}`), 0.9))

	// "%" is a plain character, not a wildcard spanning "progress report"
	removed, err := c.InvalidatePattern(ctx, "p%t", "mail")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get(ctx, "progress report", "mail")
	assert.True(t, ok)

	// same for "_"
	removed, err = c.InvalidatePattern(ctx, "r_port", "mail")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestL1_EvictsAtCapacity(t *testing.T) {
	tier := newL1Tier(10, time.Minute)
	for i := 0; i < 25; i++ {
		tier.set(fmt.Sprintf("key-%d", i), l1Entry{
			normQuery: fmt.Sprintf("query %d", i),
			blob:      json.RawMessage(`{}`),
			storedAt:  time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}
	assert.LessOrEqual(t, tier.size(), 10)

	// newest entry survives
	_, ok := tier.get("key-24")
	assert.True(t, ok)
}

func TestL1_TTLExpiry(t *testing.T) {
	tier := newL1Tier(10, 20*time.Millisecond)
	tier.set("k", l1Entry{normQuery: "q", blob: json.RawMessage(`{}`), storedAt: time.Now()})

	_, ok := tier.get("k")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = tier.get("k")
	assert.False(t, ok)
}

func TestRelationships_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	edge := RelationshipEdge{
		EntityType:  "contact",
		EntityID:    "alice",
		RelatedType: "email_address",
		RelatedID:   "alice@example.com",
		Attributes:  map[string]interface{}{"source": "mail"},
		Confidence:  0.95,
	}
	require.NoError(t, c.CacheRelationship(ctx, edge))

	// overwrite updates attributes in place (unique on the 4-tuple)
	edge.Attributes = map[string]interface{}{"source": "messages"}
	require.NoError(t, c.CacheRelationship(ctx, edge))

	edges, err := c.GetRelationships(ctx, "contact", "alice", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "messages", edges[0].Attributes["source"])

	edges, err = c.GetRelationships(ctx, "contact", "alice", "phone_number")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := setupCache(t, "")

	require.NoError(t, c.Set(ctx, "q1", "mail", json.RawMessage(`{}`), 0.9))
	c.Get(ctx, "q1", "mail") // l1 hit
	c.Get(ctx, "q2", "mail") // full miss

	stats := c.Stats(ctx)
	assert.Equal(t, int64(1), stats.Tiers[TierL1].Hits)
	assert.Equal(t, int64(1), stats.Tiers[TierL1].Misses)
	assert.Equal(t, 1, stats.Tiers[TierL1].Size)
	assert.Equal(t, 1, stats.Tiers[TierL3].Size)
	assert.Greater(t, stats.ApproxBytes, 0)
}
