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
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(storage.DBConfig{Path: filepath.Join(t.TempDir(), "sync.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeFetcher serves canned records and counts calls per collection.
type fakeFetcher struct {
	mu          sync.Mutex
	records     map[string][]Record
	failing     map[string]error
	fetchSince  map[string][]time.Time
}

func (f *fakeFetcher) Collections() []string { return []string{"mail", "calendar"} }

func (f *fakeFetcher) Fetch(ctx context.Context, collection string, since time.Time) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchSince == nil {
		f.fetchSince = make(map[string][]time.Time)
	}
	f.fetchSince[collection] = append(f.fetchSince[collection], since)
	if err := f.failing[collection]; err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range f.records[collection] {
		if since.IsZero() || r.Timestamp.After(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func mailRecord(id string, age time.Duration) Record {
	return Record{
		ID:        id,
		Payload:   json.RawMessage(fmt.Sprintf(`{"subject":"msg %s"}`, id)),
		Timestamp: time.Now().Add(-age),
	}
}

func TestStore_UpsertAndPaging(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var recs []Record
	for i := 0; i < 10; i++ {
		recs = append(recs, mailRecord(fmt.Sprintf("m%d", i), time.Duration(i)*time.Hour))
	}
	require.NoError(t, s.UpsertRecords(ctx, "mail", recs))

	// newest first, 4 per page
	page1, err := s.GetRecords(ctx, "mail", time.Time{}, 4, 1)
	require.NoError(t, err)
	require.Len(t, page1, 4)
	assert.Equal(t, "m0", page1[0].ID)

	page3, err := s.GetRecords(ctx, "mail", time.Time{}, 4, 3)
	require.NoError(t, err)
	assert.Len(t, page3, 2)

	// since filters on the source timestamp
	recent, err := s.GetRecords(ctx, "mail", time.Now().Add(-150*time.Minute), 50, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 3) // m0, m1, m2

	// upsert replaces in place
	updated := recs[0]
	updated.Payload = json.RawMessage(`{"subject":"edited"}`)
	require.NoError(t, s.UpsertRecords(ctx, "mail", []Record{updated}))
	n, err := s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertRecords(ctx, "mail", []Record{
		mailRecord("old", 100*24*time.Hour),
		mailRecord("fresh", time.Hour),
	}))

	removed, err := s.Cleanup(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Cleanup(ctx, 0)
	assert.Error(t, err)
}

func newTestWorker(t *testing.T, s *Store, f Fetcher) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{
		Store:         s,
		Fetcher:       f,
		Interval:      time.Hour, // ticks never fire during tests
		ForceCooldown: 50 * time.Millisecond,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return w
}

func TestWorker_BackfillThenIncremental(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{records: map[string][]Record{
		"mail": {mailRecord("m1", time.Hour), mailRecord("m2", 2*time.Hour)},
	}}
	w := newTestWorker(t, s, f)

	w.syncAll(ctx)
	n, err := s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// First pass was a backfill
	require.NotEmpty(t, f.fetchSince["mail"])
	assert.True(t, f.fetchSince["mail"][0].IsZero())

	// Second pass carries the advanced watermark
	w.syncAll(ctx)
	require.Len(t, f.fetchSince["mail"], 2)
	assert.False(t, f.fetchSince["mail"][1].IsZero())
	assert.Equal(t, StateIdle, w.State())
}

func TestWorker_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{
		records: map[string][]Record{
			"calendar": {mailRecord("e1", time.Hour)},
		},
		failing: map[string]error{"mail": errors.New("upstream 503")},
	}
	w := newTestWorker(t, s, f)

	w.syncAll(ctx)

	// calendar synced despite the mail failure
	n, err := s.Count(ctx, "calendar")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	statuses, err := s.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byName := map[string]CollectionStatus{}
	for _, cs := range statuses {
		byName[cs.Collection] = cs
	}
	assert.Contains(t, byName["mail"].LastError, "upstream 503")
	assert.True(t, byName["mail"].LastSyncAt.IsZero(), "watermark must not advance on failure")
	assert.Empty(t, byName["calendar"].LastError)
}

func TestWorker_BackfillWindowBoundsInitialSync(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{records: map[string][]Record{
		"mail": {mailRecord("fresh", time.Hour), mailRecord("ancient", 40*24*time.Hour)},
	}}
	w, err := NewWorker(WorkerConfig{
		Store:          s,
		Fetcher:        f,
		Interval:       time.Hour,
		BackfillWindow: 7 * 24 * time.Hour,
		Logger:         zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	w.syncAll(ctx)

	require.NotEmpty(t, f.fetchSince["mail"])
	assert.False(t, f.fetchSince["mail"][0].IsZero(), "windowed backfill passes a concrete since")
	n, err := s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "records outside the backfill window are skipped")
}

func TestWorker_MaxPerCycleResumesNextPass(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{records: map[string][]Record{
		"mail": {mailRecord("m1", 3*time.Hour), mailRecord("m2", 2*time.Hour), mailRecord("m3", time.Hour)},
	}}
	w, err := NewWorker(WorkerConfig{
		Store:       s,
		Fetcher:     f,
		Interval:    time.Hour,
		MaxPerCycle: 2,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	w.syncAll(ctx)
	n, err := s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// the truncated watermark lets the next pass pick up the remainder
	w.syncAll(ctx)
	n, err = s.Count(ctx, "mail")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestWorker_ForceSyncCooldown(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{}
	w := newTestWorker(t, s, f)

	assert.True(t, w.ForceSync(ctx, ""))
	// immediate retry sits inside the cool-down window
	assert.False(t, w.ForceSync(ctx, ""))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, w.ForceSync(ctx, ""))
}

func TestWorker_ForceSyncScopedToCollection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{records: map[string][]Record{
		"mail":     {mailRecord("m1", time.Hour)},
		"calendar": {mailRecord("e1", time.Hour)},
	}}
	w := newTestWorker(t, s, f)

	require.True(t, w.ForceSync(ctx, "calendar"))
	assert.Empty(t, f.fetchSince["mail"], "unscoped collections stay untouched")
	assert.Len(t, f.fetchSince["calendar"], 1)

	n, err := s.Count(ctx, "calendar")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, w.ForceSync(ctx, "contacts"), "unknown collection is rejected")
}

func TestWorker_StartStop(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	f := &fakeFetcher{records: map[string][]Record{"mail": {mailRecord("m1", time.Hour)}}}
	w := newTestWorker(t, s, f)

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		n, err := s.Count(ctx, "mail")
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, StateStopped, w.State())

	// a second stop is a no-op, not a panic
	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, StateStopped, w.State())
}
