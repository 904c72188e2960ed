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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"
)

func testIncident(sev incident.Severity) *incident.Incident {
	return &incident.Incident{
		ID:       "INC-500",
		Title:    "Cache cluster failure",
		Severity: sev,
	}
}

func testOutcome(t *testing.T, state report.OutcomeState) *report.Outcome {
	t.Helper()
	scores := report.Scores{
		Completeness: 8, Clarity: 8, Accuracy: 8, Actionability: 8, Blamelessness: 8,
	}
	review, err := report.NewReview(scores, 0.9, "below threshold feedback")
	require.NoError(t, err)

	draft := report.NewDraft()
	draft.Record("final draft body", review)
	return &report.Outcome{State: state, Draft: draft, Review: review}
}

func TestFinalizeAutoBelowCutoff(t *testing.T) {
	store := NewInMemoryStore()
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, nil)

	final, cp, err := g.Finalize(context.Background(), "run-1", testIncident(incident.Sev3), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Nil(t, cp)
	assert.Equal(t, report.ApprovedByAuto, final.ApprovedBy)
	assert.Equal(t, "final draft body", final.Body)

	// No checkpoint is ever written on the auto path.
	pending, err := store.List(context.Background(), StatePendingApproval)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFinalizeAutoWhenDisabled(t *testing.T) {
	store := NewInMemoryStore()
	g := New(Config{Cutoff: incident.Sev1, Enabled: false}, store, nil)

	final, cp, err := g.Finalize(context.Background(), "run-2", testIncident(incident.Sev1), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Nil(t, cp)
	assert.Equal(t, report.ApprovedByAuto, final.ApprovedBy)
}

func TestFinalizePendingAtCutoff(t *testing.T) {
	store := NewInMemoryStore()
	g := New(Config{Cutoff: incident.Sev2, Enabled: true}, store, nil)

	payload := json.RawMessage(`{"context":"analysis"}`)
	final, cp, err := g.Finalize(context.Background(), "run-3", testIncident(incident.Sev1), testOutcome(t, report.OutcomeExhausted), payload)
	require.NoError(t, err)
	assert.Nil(t, final)
	require.NotNil(t, cp)
	assert.Equal(t, StatePendingApproval, cp.State)
	assert.Equal(t, report.OutcomeExhausted, cp.OutcomeState)
	assert.Equal(t, payload, cp.Payload)

	// The checkpoint is durable: it can be fetched back from the store.
	stored, err := store.Get(context.Background(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, "final draft body", stored.Draft.Body)
}

func TestResumeApproveFinalizes(t *testing.T) {
	store := NewInMemoryStore()
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, nil)

	_, cp, err := g.Finalize(context.Background(), "run-4", testIncident(incident.Sev1), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)
	require.NotNil(t, cp)

	final, cp, err := g.Resume(context.Background(), "run-4", Decision{Approved: true})
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Nil(t, cp)
	assert.Equal(t, report.ApprovedByHuman, final.ApprovedBy)

	// Approval consumes the checkpoint; a second decision is rejected.
	_, _, err = g.Resume(context.Background(), "run-4", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestResumeRejectRequiresFeedback(t *testing.T) {
	store := NewInMemoryStore()
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, nil)

	_, _, err := g.Finalize(context.Background(), "run-5", testIncident(incident.Sev1), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)

	_, _, err = g.Resume(context.Background(), "run-5", Decision{Approved: false})
	assert.ErrorIs(t, err, ErrEmptyFeedback)

	// The run stays pending after the failed rejection.
	cp, err := store.Get(context.Background(), "run-5")
	require.NoError(t, err)
	assert.Equal(t, StatePendingApproval, cp.State)
}

func TestResumeRejectRerunsAndStaysPending(t *testing.T) {
	store := NewInMemoryStore()

	var gotFeedback string
	rerun := func(_ context.Context, cp *Checkpoint, seedFeedback string) (*report.Outcome, error) {
		gotFeedback = seedFeedback

		// Iteration numbering continues on the carried-over draft.
		draft := cp.Draft.Clone()
		review, err := report.NewReview(report.Scores{
			Completeness: 9, Clarity: 9, Accuracy: 9, Actionability: 9, Blamelessness: 9,
		}, 0.75, "")
		if err != nil {
			return nil, err
		}
		draft.Record("revised body", review)
		return &report.Outcome{State: report.OutcomeAccepted, Draft: draft, Review: review}, nil
	}
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, rerun)

	_, _, err := g.Finalize(context.Background(), "run-6", testIncident(incident.Sev1), testOutcome(t, report.OutcomeExhausted), nil)
	require.NoError(t, err)

	final, cp, err := g.Resume(context.Background(), "run-6", Decision{Approved: false, Feedback: "expand the action items"})
	require.NoError(t, err)
	assert.Nil(t, final)
	require.NotNil(t, cp)
	assert.Equal(t, "expand the action items", gotFeedback)

	// Even an accepted re-run returns to pending: severity has not
	// changed, so the policy still demands a human decision.
	assert.Equal(t, StatePendingApproval, cp.State)
	assert.Equal(t, "revised body", cp.Draft.Body)
	assert.Equal(t, 2, cp.Draft.Iteration)
	assert.Equal(t, report.OutcomeAccepted, cp.OutcomeState)

	// The updated checkpoint can now be approved.
	final, _, err = g.Resume(context.Background(), "run-6", Decision{Approved: true})
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, "revised body", final.Body)
	assert.Equal(t, 2, final.Iterations)
}

func TestResumeRerunErrorKeepsCheckpoint(t *testing.T) {
	store := NewInMemoryStore()
	wantErr := errors.New("provider down")
	rerun := func(context.Context, *Checkpoint, string) (*report.Outcome, error) {
		return nil, wantErr
	}
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, rerun)

	_, _, err := g.Finalize(context.Background(), "run-7", testIncident(incident.Sev1), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)

	_, _, err = g.Resume(context.Background(), "run-7", Decision{Approved: false, Feedback: "try again"})
	assert.ErrorIs(t, err, wantErr)

	// The original checkpoint survives so the decision can be retried.
	cp, err := store.Get(context.Background(), "run-7")
	require.NoError(t, err)
	assert.Equal(t, "final draft body", cp.Draft.Body)
}

func TestResumeUnknownRun(t *testing.T) {
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, NewInMemoryStore(), nil)
	_, _, err := g.Resume(context.Background(), "missing", Decision{Approved: true})
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, StateAutoFinalized.IsTerminal())
	assert.True(t, StateFinalized.IsTerminal())
	assert.False(t, StatePendingApproval.IsTerminal())
}

func TestGateObserverSeesTransitions(t *testing.T) {
	store := NewInMemoryStore()
	var transitions []Transition
	g := New(Config{Cutoff: incident.Sev1, Enabled: true}, store, nil,
		WithObserver(func(tr Transition) { transitions = append(transitions, tr) }))

	_, _, err := g.Finalize(context.Background(), "run-8", testIncident(incident.Sev1), testOutcome(t, report.OutcomeAccepted), nil)
	require.NoError(t, err)
	_, _, err = g.Resume(context.Background(), "run-8", Decision{Approved: true})
	require.NoError(t, err)

	require.Len(t, transitions, 2)
	assert.Equal(t, StatePendingApproval, transitions[0].To)
	assert.Equal(t, StateFinalized, transitions[1].To)
}
