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

// Package report defines the work products of a postmortem run: the
// draft under revision, quality reviews, loop outcomes and the final
// report. All types are plain structured data and round-trip through
// JSON, which is what makes pending-approval state durable.
package report

import (
	"fmt"
	"time"
)

// Scores holds the five rubric sub-scores, each in [1,10].
type Scores struct {
	Completeness  int `json:"completeness"`
	Clarity       int `json:"clarity"`
	Accuracy      int `json:"accuracy"`
	Actionability int `json:"actionability"`
	Blamelessness int `json:"blamelessness"`
}

// Validate checks that every sub-score is in [1,10].
func (s Scores) Validate() error {
	for name, v := range map[string]int{
		"completeness":  s.Completeness,
		"clarity":       s.Clarity,
		"accuracy":      s.Accuracy,
		"actionability": s.Actionability,
		"blamelessness": s.Blamelessness,
	} {
		if v < 1 || v > 10 {
			return fmt.Errorf("score %s out of range: %d (expected 1-10)", name, v)
		}
	}
	return nil
}

// Aggregate returns the mean of the sub-scores normalized to [0,1].
func (s Scores) Aggregate() float64 {
	sum := s.Completeness + s.Clarity + s.Accuracy + s.Actionability + s.Blamelessness
	return float64(sum) / 50.0
}

// Review is the result of one evaluation of a draft body.
type Review struct {
	Scores         Scores   `json:"scores"`
	Aggregate      float64  `json:"aggregate"`
	MeetsThreshold bool     `json:"meets_threshold"`
	Feedback       string   `json:"feedback"`
	Strengths      []string `json:"strengths,omitempty"`
	Weaknesses     []string `json:"weaknesses,omitempty"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// NewReview builds a Review from sub-scores against a threshold.
// Aggregate and MeetsThreshold are always derived here so that
// meets_threshold is true exactly when aggregate >= threshold.
func NewReview(scores Scores, threshold float64, feedback string) (Review, error) {
	if err := scores.Validate(); err != nil {
		return Review{}, err
	}
	agg := scores.Aggregate()
	meets := agg >= threshold
	if !meets && feedback == "" {
		return Review{}, fmt.Errorf("review below threshold (%.2f < %.2f) requires feedback", agg, threshold)
	}
	return Review{
		Scores:         scores,
		Aggregate:      agg,
		MeetsThreshold: meets,
		Feedback:       feedback,
	}, nil
}

// Revision is one entry of the audit trail: a draft body together with
// the review it received.
type Revision struct {
	Iteration int    `json:"iteration"`
	Body      string `json:"body"`
	Review    Review `json:"review"`
}

// Draft is the mutable work product of the quality loop. Iteration
// counts total attempts made, across reject-triggered re-runs too, so
// revision numbering is monotonic end to end.
type Draft struct {
	Body      string     `json:"body"`
	Iteration int        `json:"iteration"`
	Revisions []Revision `json:"revisions"`
}

// NewDraft returns an empty draft at iteration 0.
func NewDraft() *Draft {
	return &Draft{}
}

// Record appends a new body with its review and advances the iteration.
func (d *Draft) Record(body string, review Review) {
	d.Iteration++
	d.Body = body
	d.Revisions = append(d.Revisions, Revision{
		Iteration: d.Iteration,
		Body:      body,
		Review:    review,
	})
}

// LastReview returns the review of the most recent revision, or nil if
// no revision exists yet.
func (d *Draft) LastReview() *Review {
	if len(d.Revisions) == 0 {
		return nil
	}
	return &d.Revisions[len(d.Revisions)-1].Review
}

// Clone returns a deep copy. The gate works on a copy so the loop's
// draft is never aliased across components.
func (d *Draft) Clone() *Draft {
	out := &Draft{
		Body:      d.Body,
		Iteration: d.Iteration,
		Revisions: make([]Revision, len(d.Revisions)),
	}
	copy(out.Revisions, d.Revisions)
	return out
}

// OutcomeState tags the terminal state of a loop run.
type OutcomeState string

const (
	// OutcomeAccepted means the draft met the quality threshold.
	OutcomeAccepted OutcomeState = "accepted"

	// OutcomeExhausted means the revision budget was spent without
	// meeting the threshold. The last draft is still returned; a
	// postmortem is always produced.
	OutcomeExhausted OutcomeState = "exhausted"
)

// Outcome is the terminal result of a quality loop run.
type Outcome struct {
	State  OutcomeState `json:"state"`
	Draft  *Draft       `json:"draft"`
	Review Review       `json:"review"`
}

// Accepted reports whether the loop terminated by meeting the threshold.
func (o *Outcome) Accepted() bool {
	return o.State == OutcomeAccepted
}

// ApprovedBy values for FinalReport.
const (
	ApprovedByAuto  = "auto"
	ApprovedByHuman = "human"
)

// FinalReport is the finalized postmortem.
type FinalReport struct {
	IncidentID string     `json:"incident_id"`
	Body       string     `json:"body"`
	ApprovedBy string     `json:"approved_by"`
	Iterations int        `json:"iterations"`
	Score      float64    `json:"score"`
	Exhausted  bool       `json:"exhausted"`
	History    []Revision `json:"history,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
