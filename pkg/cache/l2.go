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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// l2Budget bounds every remote KV operation on the hot read path.
// A timeout is treated as a miss, never as a failure.
const l2Budget = 50 * time.Millisecond

// l2Envelope is the value serialized into the remote KV. The normalized
// query travels with the blob so pattern invalidation can match on it.
type l2Envelope struct {
	NormQuery  string          `json:"q"`
	Blob       json.RawMessage `json:"blob"`
	Confidence float64         `json:"confidence"`
	StoredAt   int64           `json:"stored_at"`
}

// l2Tier is the optional remote key/value tier backed by Redis.
// All operations are best-effort: absence and errors degrade to a miss.
type l2Tier struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func newL2Tier(url string, ttl time.Duration, logger *zap.Logger) (*l2Tier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid L2 cache URL: %w", err)
	}
	opts.DialTimeout = l2Budget
	opts.ReadTimeout = l2Budget
	opts.WriteTimeout = l2Budget

	return &l2Tier{
		client: redis.NewClient(opts),
		ttl:    ttl,
		logger: logger,
	}, nil
}

func l2Key(agentID, queryHash string) string {
	return fmt.Sprintf("hearth:sc:%s:%s", agentID, queryHash)
}

// get fetches an entry. Second return is false on miss, timeout, or error.
func (t *l2Tier) get(ctx context.Context, agentID, queryHash string) (l2Envelope, bool) {
	ctx, cancel := context.WithTimeout(ctx, l2Budget)
	defer cancel()

	raw, err := t.client.Get(ctx, l2Key(agentID, queryHash)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Debug("L2 get degraded to miss", zap.Error(err))
		}
		return l2Envelope{}, false
	}

	var env l2Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.logger.Warn("L2 entry corrupt, treating as miss", zap.Error(err))
		return l2Envelope{}, false
	}
	return env, true
}

// set writes an entry. Errors are logged, not returned.
func (t *l2Tier) set(ctx context.Context, agentID, queryHash string, env l2Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		t.logger.Warn("L2 set: marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, l2Budget)
	defer cancel()

	if err := t.client.Set(ctx, l2Key(agentID, queryHash), raw, t.ttl).Err(); err != nil {
		t.logger.Warn("L2 set failed", zap.Error(err))
	}
}

// invalidatePattern scans the agent's keyspace and deletes entries whose
// normalized query contains pattern. Best-effort with a relaxed budget since
// invalidation is not on the hot read path.
func (t *l2Tier) invalidatePattern(ctx context.Context, agentID, pattern string) int {
	pattern = strings.ToLower(pattern)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	removed := 0
	iter := t.client.Scan(ctx, 0, l2Key(agentID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := t.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var env l2Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if strings.Contains(env.NormQuery, pattern) {
			if err := t.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		t.logger.Warn("L2 invalidation scan incomplete", zap.Error(err))
	}
	return removed
}

// size counts the agent-independent keyspace. Best-effort.
func (t *l2Tier) size(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, l2Budget)
	defer cancel()

	count := 0
	iter := t.client.Scan(ctx, 0, "hearth:sc:*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

func (t *l2Tier) close() error {
	return t.client.Close()
}
