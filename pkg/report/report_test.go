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

package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validScores() Scores {
	return Scores{Completeness: 8, Clarity: 7, Accuracy: 9, Actionability: 6, Blamelessness: 10}
}

func TestScoresValidate(t *testing.T) {
	assert.NoError(t, validScores().Validate())

	bad := validScores()
	bad.Clarity = 0
	assert.Error(t, bad.Validate())

	bad = validScores()
	bad.Accuracy = 11
	assert.Error(t, bad.Validate())
}

func TestScoresAggregate(t *testing.T) {
	// 8+7+9+6+10 = 40 out of 50
	assert.InDelta(t, 0.8, validScores().Aggregate(), 1e-9)

	all10 := Scores{10, 10, 10, 10, 10}
	assert.InDelta(t, 1.0, all10.Aggregate(), 1e-9)

	all1 := Scores{1, 1, 1, 1, 1}
	assert.InDelta(t, 0.1, all1.Aggregate(), 1e-9)
}

func TestNewReviewDerivesMeetsThreshold(t *testing.T) {
	review, err := NewReview(validScores(), 0.75, "")
	require.NoError(t, err)
	assert.True(t, review.MeetsThreshold)
	assert.InDelta(t, 0.8, review.Aggregate, 1e-9)

	review, err = NewReview(validScores(), 0.85, "needs more detail")
	require.NoError(t, err)
	assert.False(t, review.MeetsThreshold)

	// Boundary: aggregate == threshold passes.
	review, err = NewReview(validScores(), 0.8, "")
	require.NoError(t, err)
	assert.True(t, review.MeetsThreshold)
}

func TestNewReviewRequiresFeedbackBelowThreshold(t *testing.T) {
	_, err := NewReview(validScores(), 0.9, "")
	assert.Error(t, err)
}

func TestNewReviewRejectsInvalidScores(t *testing.T) {
	bad := validScores()
	bad.Blamelessness = 0
	_, err := NewReview(bad, 0.5, "feedback")
	assert.Error(t, err)
}

func TestDraftRecordAdvancesIteration(t *testing.T) {
	d := NewDraft()
	assert.Equal(t, 0, d.Iteration)
	assert.Nil(t, d.LastReview())

	review1, err := NewReview(validScores(), 0.9, "improve")
	require.NoError(t, err)
	d.Record("first body", review1)
	assert.Equal(t, 1, d.Iteration)
	assert.Equal(t, "first body", d.Body)
	require.Len(t, d.Revisions, 1)
	assert.Equal(t, 1, d.Revisions[0].Iteration)

	review2, err := NewReview(validScores(), 0.5, "")
	require.NoError(t, err)
	d.Record("second body", review2)
	assert.Equal(t, 2, d.Iteration)
	assert.Equal(t, "second body", d.Body)
	require.NotNil(t, d.LastReview())
	assert.True(t, d.LastReview().MeetsThreshold)
}

func TestDraftCloneIsIndependent(t *testing.T) {
	d := NewDraft()
	review, err := NewReview(validScores(), 0.5, "")
	require.NoError(t, err)
	d.Record("body", review)

	clone := d.Clone()
	clone.Record("mutated", review)

	assert.Equal(t, 1, d.Iteration)
	assert.Equal(t, "body", d.Body)
	assert.Equal(t, 2, clone.Iteration)
	assert.Len(t, d.Revisions, 1)
	assert.Len(t, clone.Revisions, 2)
}

func TestOutcomeAccepted(t *testing.T) {
	assert.True(t, (&Outcome{State: OutcomeAccepted}).Accepted())
	assert.False(t, (&Outcome{State: OutcomeExhausted}).Accepted())
}
