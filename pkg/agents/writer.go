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

// Writer drafts postmortem reports. It implements loop.Drafter: the
// first call generates from the incident and analysis, later calls
// revise the previous draft guided by feedback.
type Writer struct {
	provider llms.Provider
	analysis *Analysis
}

// NewWriter creates a writer over the pre-computed analysis.
func NewWriter(provider llms.Provider, analysis *Analysis) *Writer {
	return &Writer{provider: provider, analysis: analysis}
}

// Draft generates a new report body.
func (w *Writer) Draft(ctx context.Context, inc *incident.Incident, prev *report.Draft, feedback string) (string, error) {
	var prompt string
	if prev != nil && prev.Body != "" {
		slog.Debug("Writer revising draft", "incident", inc.ID, "iteration", prev.Iteration)
		prompt = w.revisionPrompt(prev, feedback)
	} else {
		slog.Debug("Writer generating initial draft", "incident", inc.ID)
		prompt = w.initialPrompt(inc)
	}

	body, _, err := w.provider.Generate(ctx, writerSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("writer returned an empty report")
	}
	return strings.TrimSpace(body), nil
}

func (w *Writer) initialPrompt(inc *incident.Incident) string {
	return fmt.Sprintf(`Generate a comprehensive postmortem report for this incident.

INCIDENT DETAILS:
- ID: %s
- Title: %s
- Severity: %s
- Description: %s

LOG ANALYSIS:
%s

ERROR PATTERNS:
%s

AFFECTED SERVICES:
%s

ROOT CAUSE ANALYSIS:
Primary Root Cause: %s

Contributing Factors:
%s

Failure Chain:
%s

METRICS:
%s

TIMELINE:
%s

Use this template structure:
%s

Generate a complete, professional postmortem report.
Ensure all action items are specific and actionable.
Follow blameless culture principles throughout.`,
		inc.ID, inc.Title, inc.Severity, inc.Description,
		w.analysis.Logs.Summary,
		bulletList(w.analysis.Logs.ErrorPatterns),
		bulletList(w.analysis.Logs.AffectedServices),
		w.analysis.RootCause.RootCause,
		bulletList(w.analysis.RootCause.ContributingFactors),
		bulletList(w.analysis.RootCause.FailureChain),
		formatMetrics(inc.Metrics),
		formatTimeline(inc.Timeline),
		postmortemTemplate)
}

func (w *Writer) revisionPrompt(prev *report.Draft, feedback string) string {
	var score float64
	var weaknesses, suggestions []string
	if last := prev.LastReview(); last != nil {
		score = last.Aggregate
		weaknesses = last.Weaknesses
		suggestions = last.Suggestions
	}

	return fmt.Sprintf(`Revise this postmortem report based on the reviewer's feedback.

CURRENT DRAFT:
%s

REVIEWER FEEDBACK:
Quality Score: %.0f%%

%s

Weaknesses to Address:
%s

Revision Suggestions:
%s

Create an IMPROVED version that addresses all feedback.
Keep the same structure but enhance the content.
Focus specifically on the weaknesses mentioned.`,
		prev.Body, score*100, feedback,
		bulletList(weaknesses), bulletList(suggestions))
}
