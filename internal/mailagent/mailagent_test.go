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
package mailagent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hearth-labs/hearth/pkg/agent"
	"github.com/hearth-labs/hearth/pkg/fault"
	"github.com/hearth-labs/hearth/pkg/storage"
	"github.com/hearth-labs/hearth/pkg/syncer"
)

func seededAgent(t *testing.T) *agent.Agent {
	t.Helper()
	ctx := context.Background()

	store, err := syncer.OpenStore(storage.DBConfig{
		Path: filepath.Join(t.TempDir(), "local_store.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	records, err := NewFixtureFetcher().Fetch(ctx, Collection, time.Time{})
	require.NoError(t, err)
	require.NoError(t, store.UpsertRecords(ctx, Collection, records))

	a, err := New(Config{Store: store, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return a
}

func TestSearch_MatchesSubjectAndBody(t *testing.T) {
	a := seededAgent(t)

	result, err := a.ExecuteCapability(context.Background(), "mail.search",
		map[string]interface{}{"q": "project x"})
	require.NoError(t, err)

	out := result.(map[string]interface{})
	assert.Equal(t, 2, out["matches"])
	emails := out["emails"].([]Email)
	// newest first
	assert.True(t, !emails[0].Date.Before(emails[1].Date))
}

func TestSearch_RequiresQuery(t *testing.T) {
	a := seededAgent(t)
	_, err := a.ExecuteCapability(context.Background(), "mail.search", map[string]interface{}{})
	assert.Equal(t, fault.KindBadRequest, fault.KindOf(err))
}

func TestGetRecent_RespectsLimit(t *testing.T) {
	a := seededAgent(t)

	result, err := a.ExecuteCapability(context.Background(), "mail.get_recent",
		map[string]interface{}{"limit": float64(3)})
	require.NoError(t, err)

	out := result.(map[string]interface{})
	assert.Equal(t, 3, out["count"])
	emails := out["emails"].([]Email)
	assert.Equal(t, "m-001", emails[0].ID)
}

func TestCount(t *testing.T) {
	a := seededAgent(t)

	result, err := a.ExecuteCapability(context.Background(), "mail.count", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"count": 6}, result)
}

func TestFixtureFetcher_IncrementalReturnsNothing(t *testing.T) {
	f := NewFixtureFetcher()
	records, err := f.Fetch(context.Background(), Collection, time.Now())
	require.NoError(t, err)
	assert.Empty(t, records)
}
