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

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/llms"
	"github.com/kadirpekel/postmortem/pkg/report"
)

// Reviewer scores drafts with an LLM-as-judge rubric. It implements
// loop.Evaluator.
type Reviewer struct {
	provider  llms.Provider
	threshold float64
}

// NewReviewer creates a reviewer. threshold is the aggregate score in
// [0,1] a draft must reach.
func NewReviewer(provider llms.Provider, threshold float64) *Reviewer {
	return &Reviewer{provider: provider, threshold: threshold}
}

// reviewResponse is the JSON shape the reviewer model returns.
type reviewResponse struct {
	CompletenessScore   int      `json:"completeness_score"`
	ClarityScore        int      `json:"clarity_score"`
	AccuracyScore       int      `json:"accuracy_score"`
	ActionabilityScore  int      `json:"actionability_score"`
	BlamelessnessScore  int      `json:"blamelessness_score"`
	Strengths           []string `json:"strengths"`
	Weaknesses          []string `json:"weaknesses"`
	RevisionSuggestions []string `json:"revision_suggestions"`
}

// Evaluate scores a draft body against the rubric.
func (r *Reviewer) Evaluate(ctx context.Context, inc *incident.Incident, body string) (report.Review, error) {
	prompt := fmt.Sprintf(`Evaluate this incident postmortem report.

INCIDENT CONTEXT:
- Title: %s
- Severity: %s

REPORT TO REVIEW:
%s

Evaluate against these criteria and respond with a JSON object:
{
  "completeness_score": 1-10,
  "clarity_score": 1-10,
  "accuracy_score": 1-10,
  "actionability_score": 1-10,
  "blamelessness_score": 1-10,
  "strengths": ["2-3 strengths"],
  "weaknesses": ["2-3 weaknesses"],
  "revision_suggestions": ["2-3 specific suggestions for the next revision"]
}`, inc.Title, inc.Severity, body)

	text, _, err := r.provider.Generate(ctx, reviewerSystemPrompt, prompt)
	if err != nil {
		return report.Review{}, err
	}

	var resp reviewResponse
	if err := unmarshalResponse(text, &resp); err != nil {
		return report.Review{}, err
	}

	scores := report.Scores{
		Completeness:  clampScore(resp.CompletenessScore),
		Clarity:       clampScore(resp.ClarityScore),
		Accuracy:      clampScore(resp.AccuracyScore),
		Actionability: clampScore(resp.ActionabilityScore),
		Blamelessness: clampScore(resp.BlamelessnessScore),
	}

	feedback := buildFeedback(resp.Weaknesses, resp.RevisionSuggestions)
	review, err := report.NewReview(scores, r.threshold, feedback)
	if err != nil {
		return report.Review{}, err
	}
	review.Strengths = resp.Strengths
	review.Weaknesses = resp.Weaknesses
	review.Suggestions = resp.RevisionSuggestions

	slog.Info("Draft reviewed",
		"incident", inc.ID,
		"aggregate", review.Aggregate,
		"meets_threshold", review.MeetsThreshold)
	return review, nil
}

// clampScore forces a sub-score into [1,10] so a sloppy model response
// cannot invalidate the review.
func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// buildFeedback assembles revision guidance. It is never empty: a
// below-threshold review must carry feedback for the next iteration.
func buildFeedback(weaknesses, suggestions []string) string {
	var b strings.Builder
	if len(weaknesses) > 0 {
		b.WriteString("Weaknesses:\n")
		b.WriteString(bulletList(weaknesses))
		b.WriteString("\n")
	}
	if len(suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		b.WriteString(bulletList(suggestions))
	}
	if b.Len() == 0 {
		return "Improve completeness, clarity and actionability of the report."
	}
	return strings.TrimSpace(b.String())
}
