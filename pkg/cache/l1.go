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
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// l1Entry is one in-process cache slot.
type l1Entry struct {
	normQuery  string
	blob       json.RawMessage
	confidence float64
	storedAt   time.Time
}

// l1Tier is the in-process tier. Operations never block on I/O.
type l1Tier struct {
	mu         sync.RWMutex
	entries    map[string]l1Entry
	maxEntries int
	ttl        time.Duration
}

func newL1Tier(maxEntries int, ttl time.Duration) *l1Tier {
	return &l1Tier{
		entries:    make(map[string]l1Entry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// get returns the entry for key if present and unexpired.
// Expired entries are dropped lazily on the next write pass, not here,
// so reads stay lock-cheap under RLock.
func (t *l1Tier) get(key string) (l1Entry, bool) {
	t.mu.RLock()
	entry, ok := t.entries[key]
	t.mu.RUnlock()

	if !ok || time.Since(entry.storedAt) > t.ttl {
		return l1Entry{}, false
	}
	return entry, true
}

// set stores an entry, evicting the oldest slot when full.
// Last-writer-wins: a later storedAt supersedes an earlier one.
func (t *l1Tier) set(key string, entry l1Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok && existing.storedAt.After(entry.storedAt) {
		return
	}

	if _, ok := t.entries[key]; !ok && len(t.entries) >= t.maxEntries {
		t.evictLocked()
	}
	t.entries[key] = entry
}

// evictLocked removes expired entries, then the oldest entry if still full.
func (t *l1Tier) evictLocked() {
	now := time.Now()
	for key, entry := range t.entries {
		if now.Sub(entry.storedAt) > t.ttl {
			delete(t.entries, key)
		}
	}
	if len(t.entries) < t.maxEntries {
		return
	}

	var oldestKey string
	var oldestAt time.Time
	for key, entry := range t.entries {
		if oldestKey == "" || entry.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.storedAt
		}
	}
	if oldestKey != "" {
		delete(t.entries, oldestKey)
	}
}

// invalidatePattern removes entries whose normalized query contains pattern.
// Returns the number removed.
func (t *l1Tier) invalidatePattern(pattern string) int {
	pattern = strings.ToLower(pattern)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, entry := range t.entries {
		if strings.Contains(entry.normQuery, pattern) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// size returns the current number of entries.
func (t *l1Tier) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// approxBytes estimates the memory footprint of stored blobs.
func (t *l1Tier) approxBytes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, entry := range t.entries {
		total += len(entry.blob) + len(entry.normQuery) + 64
	}
	return total
}
