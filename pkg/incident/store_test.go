// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package incident

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedHistory(t *testing.T, store HistoryStore) {
	t.Helper()
	ctx := context.Background()

	entries := []*HistoryEntry{
		NewHistoryEntry("INC-001", "Database connection pool exhausted", Sev1,
			"Connection pool sized too small for peak traffic", "report body one", "human", 0.82),
		NewHistoryEntry("INC-002", "API gateway latency spike", Sev2,
			"Retry storm caused by aggressive client timeouts", "report body two", "auto", 0.78),
		NewHistoryEntry("INC-003", "Database replica lag", Sev1,
			"Connection pool sized too small for peak traffic", "report body three", "human", 0.9),
	}
	for _, e := range entries {
		require.NoError(t, store.Save(ctx, e))
	}
}

func runHistoryStoreTests(t *testing.T, store HistoryStore) {
	ctx := context.Background()
	seedHistory(t, store)

	t.Run("get", func(t *testing.T) {
		entry, err := store.Get(ctx, "INC-001")
		require.NoError(t, err)
		assert.Equal(t, "Database connection pool exhausted", entry.Title)
		assert.Equal(t, Sev1, entry.Severity)
		assert.Equal(t, "human", entry.ApprovedBy)

		_, err = store.Get(ctx, "INC-999")
		assert.ErrorIs(t, err, ErrHistoryNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		updated := NewHistoryEntry("INC-002", "API gateway latency spike", Sev2,
			"Updated root cause", "updated body", "human", 0.85)
		require.NoError(t, store.Save(ctx, updated))

		entry, err := store.Get(ctx, "INC-002")
		require.NoError(t, err)
		assert.Equal(t, "Updated root cause", entry.RootCause)
		assert.Equal(t, 0.85, entry.Score)
	})

	t.Run("search similar", func(t *testing.T) {
		results, err := store.SearchSimilar(ctx, "database connection", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		// INC-001 matches both keywords, so it ranks first.
		assert.Equal(t, "INC-001", results[0].IncidentID)
		assert.Equal(t, 2, results[0].Relevance)

		for _, res := range results {
			assert.Greater(t, res.Relevance, 0)
		}

		none, err := store.SearchSimilar(ctx, "kubernetes etcd", 5)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("search respects limit", func(t *testing.T) {
		results, err := store.SearchSimilar(ctx, "database", 1)
		require.NoError(t, err)
		assert.Len(t, results, 1)
	})

	t.Run("list by severity", func(t *testing.T) {
		sev1, err := store.ListBySeverity(ctx, Sev1)
		require.NoError(t, err)
		assert.Len(t, sev1, 2)

		sev3, err := store.ListBySeverity(ctx, Sev3)
		require.NoError(t, err)
		assert.Empty(t, sev3)
	})

	t.Run("common root causes", func(t *testing.T) {
		causes, err := store.CommonRootCauses(ctx, 10)
		require.NoError(t, err)
		require.NotEmpty(t, causes)
		assert.Equal(t, 2, causes[0].Count)
		assert.True(t, strings.HasPrefix(causes[0].RootCause, "connection pool"))
	})
}

func TestInMemoryHistory(t *testing.T) {
	runHistoryStoreTests(t, NewInMemoryHistory())
}

func TestSQLHistorySQLite(t *testing.T) {
	store, err := NewSQLHistory("sqlite3", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	runHistoryStoreTests(t, store)
}

func TestNewHistoryEntryTruncatesSummary(t *testing.T) {
	long := strings.Repeat("x", 2000)
	entry := NewHistoryEntry("INC-010", "t", Sev3, "rc", long, "auto", 0.8)
	assert.Len(t, entry.Summary, 500)
}
