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

package gate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"
)

func testCheckpoint(t *testing.T, id string, createdAt time.Time) *Checkpoint {
	t.Helper()
	review, err := report.NewReview(report.Scores{
		Completeness: 7, Clarity: 7, Accuracy: 7, Actionability: 7, Blamelessness: 7,
	}, 0.9, "needs work")
	require.NoError(t, err)

	draft := report.NewDraft()
	draft.Record("checkpoint body", review)

	return &Checkpoint{
		ID: id,
		Incident: &incident.Incident{
			ID:       "INC-" + id,
			Title:    "Search index corruption",
			Severity: incident.Sev1,
			Logs:     "ERROR index checksum mismatch",
		},
		Draft:        draft,
		Review:       review,
		OutcomeState: report.OutcomeExhausted,
		State:        StatePendingApproval,
		Payload:      json.RawMessage(`{"root_cause":{"root_cause":"bad deploy"}}`),
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func runCheckpointStoreTests(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save and get round-trip", func(t *testing.T) {
		cp := testCheckpoint(t, "a", base)
		require.NoError(t, store.Save(ctx, cp))

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, cp.ID, got.ID)
		assert.Equal(t, cp.Incident.ID, got.Incident.ID)
		assert.Equal(t, incident.Sev1, got.Incident.Severity)
		assert.Equal(t, "checkpoint body", got.Draft.Body)
		assert.Equal(t, 1, got.Draft.Iteration)
		assert.Equal(t, cp.Review.Aggregate, got.Review.Aggregate)
		assert.Equal(t, report.OutcomeExhausted, got.OutcomeState)
		assert.Equal(t, StatePendingApproval, got.State)
		assert.JSONEq(t, string(cp.Payload), string(got.Payload))
	})

	t.Run("save replaces", func(t *testing.T) {
		cp := testCheckpoint(t, "a", base)
		cp.Draft.Record("revised body", cp.Review)
		cp.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, store.Save(ctx, cp))

		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "revised body", got.Draft.Body)
		assert.Equal(t, 2, got.Draft.Iteration)
	})

	t.Run("list by state oldest first", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, testCheckpoint(t, "c", base.Add(2*time.Hour))))
		require.NoError(t, store.Save(ctx, testCheckpoint(t, "b", base.Add(time.Hour))))

		pending, err := store.List(ctx, StatePendingApproval)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		assert.Equal(t, "a", pending[0].ID)
		assert.Equal(t, "b", pending[1].ID)
		assert.Equal(t, "c", pending[2].ID)

		none, err := store.List(ctx, StateFinalized)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "b"))
		_, err := store.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)

		assert.ErrorIs(t, store.Delete(ctx, "b"), ErrCheckpointNotFound)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}

func TestInMemoryStore(t *testing.T) {
	runCheckpointStoreTests(t, NewInMemoryStore())
}

func TestSQLStoreSQLite(t *testing.T) {
	store, err := NewSQLStore("sqlite3", ":memory:")
	require.NoError(t, err)
	defer store.Close()

	runCheckpointStoreTests(t, store)
}

func TestInMemoryStoreClonesOnSave(t *testing.T) {
	store := NewInMemoryStore()
	cp := testCheckpoint(t, "x", time.Now())
	require.NoError(t, store.Save(context.Background(), cp))

	// Mutating the caller's draft must not leak into the store.
	cp.Draft.Record("mutated", cp.Review)

	got, err := store.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "checkpoint body", got.Draft.Body)
}
