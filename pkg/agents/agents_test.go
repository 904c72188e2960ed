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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"
)

// fakeProvider returns canned responses keyed by a substring of the
// system prompt, mirroring the distinct agent personas.
type fakeProvider struct {
	responses map[string]string
	calls     []string
}

func (p *fakeProvider) Generate(_ context.Context, system, _ string) (string, int, error) {
	p.calls = append(p.calls, system)
	for key, resp := range p.responses {
		if key != "" && strings.Contains(system, key) {
			return resp, 42, nil
		}
	}
	return "", 0, nil
}

func (p *fakeProvider) ModelName() string { return "gpt-4o" }

func testIncident() *incident.Incident {
	return &incident.Incident{
		ID:          "INC-2024-042",
		Title:       "Order service outage",
		Severity:    incident.Sev2,
		Description: "Orders failing with database timeouts",
		Logs:        "2024-01-15 10:23:45 ERROR Connection timeout to database",
		Timeline: []incident.TimelineEntry{
			{Time: "10:23", Event: "First alert fired"},
		},
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"leading prose", `Here is the result: {"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"fence without language", "```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"unterminated fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"no object", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestUnmarshalResponse(t *testing.T) {
	var out LogAnalysis
	err := unmarshalResponse("```json\n{\"summary\":\"db down\",\"error_patterns\":[\"timeout\"]}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "db down", out.Summary)
	assert.Equal(t, []string{"timeout"}, out.ErrorPatterns)

	assert.Error(t, unmarshalResponse("no json", &out))
	assert.Error(t, unmarshalResponse(`{"summary": 3}`, &out))
}

func TestAnalyzeRunsBothAgents(t *testing.T) {
	provider := &fakeProvider{responses: map[string]string{
		"Site Reliability Engineer": `{"summary":"db timeouts","error_patterns":["connection timeout"],"affected_services":["order-service"]}`,
		"incident analyst":          `{"root_cause":"undersized connection pool","contributing_factors":["no alerting on pool saturation"],"failure_chain":["pool exhausted","requests queued","timeouts"]}`,
	}}

	analysis, err := Analyze(context.Background(), provider, testIncident())
	require.NoError(t, err)
	assert.Equal(t, "db timeouts", analysis.Logs.Summary)
	assert.Equal(t, "undersized connection pool", analysis.RootCause.RootCause)
	assert.Len(t, provider.calls, 2)
}

func TestWriterInitialAndRevisionPrompts(t *testing.T) {
	provider := &fakeProvider{responses: map[string]string{
		"technical writer": "# Incident Postmortem\n\nbody",
	}}
	analysis := &Analysis{
		Logs:      LogAnalysis{Summary: "db timeouts"},
		RootCause: RootCauseAnalysis{RootCause: "undersized pool"},
	}
	w := NewWriter(provider, analysis)

	body, err := w.Draft(context.Background(), testIncident(), nil, "")
	require.NoError(t, err)
	assert.Contains(t, body, "Incident Postmortem")

	prev := report.NewDraft()
	review, err := report.NewReview(report.Scores{
		Completeness: 5, Clarity: 5, Accuracy: 5, Actionability: 5, Blamelessness: 5,
	}, 0.75, "add a timeline")
	require.NoError(t, err)
	prev.Record("old body", review)

	body, err = w.Draft(context.Background(), testIncident(), prev, "add a timeline")
	require.NoError(t, err)
	assert.NotEmpty(t, body)
}

func TestWriterRejectsEmptyResponse(t *testing.T) {
	provider := &fakeProvider{responses: map[string]string{
		"technical writer": "   ",
	}}
	w := NewWriter(provider, &Analysis{})

	_, err := w.Draft(context.Background(), testIncident(), nil, "")
	assert.Error(t, err)
}

func TestReviewerEvaluate(t *testing.T) {
	provider := &fakeProvider{responses: map[string]string{
		"SRE manager": `{
			"completeness_score": 8,
			"clarity_score": 7,
			"accuracy_score": 9,
			"actionability_score": 6,
			"blamelessness_score": 10,
			"strengths": ["clear summary"],
			"weaknesses": ["thin action items"],
			"revision_suggestions": ["add owners to action items"]
		}`,
	}}
	r := NewReviewer(provider, 0.75)

	review, err := r.Evaluate(context.Background(), testIncident(), "report body")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, review.Aggregate, 1e-9)
	assert.True(t, review.MeetsThreshold)
	assert.Equal(t, []string{"thin action items"}, review.Weaknesses)
	assert.NotEmpty(t, review.Feedback)
}

func TestReviewerClampsOutOfRangeScores(t *testing.T) {
	provider := &fakeProvider{responses: map[string]string{
		"SRE manager": `{
			"completeness_score": 0,
			"clarity_score": 15,
			"accuracy_score": 5,
			"actionability_score": 5,
			"blamelessness_score": 5,
			"weaknesses": ["everything"]
		}`,
	}}
	r := NewReviewer(provider, 0.75)

	review, err := r.Evaluate(context.Background(), testIncident(), "report body")
	require.NoError(t, err)
	assert.Equal(t, 1, review.Scores.Completeness)
	assert.Equal(t, 10, review.Scores.Clarity)
	assert.False(t, review.MeetsThreshold)
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 1, clampScore(-3))
	assert.Equal(t, 1, clampScore(0))
	assert.Equal(t, 5, clampScore(5))
	assert.Equal(t, 10, clampScore(10))
	assert.Equal(t, 10, clampScore(99))
}

func TestBuildFeedbackNeverEmpty(t *testing.T) {
	fb := buildFeedback(nil, nil)
	assert.NotEmpty(t, fb)

	fb = buildFeedback([]string{"vague root cause"}, []string{"cite the failing query"})
	assert.Contains(t, fb, "vague root cause")
	assert.Contains(t, fb, "cite the failing query")
}
