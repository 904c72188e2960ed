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

// Package agents implements the LLM-backed collaborators of the
// postmortem pipeline: log analysis and root cause analysis run once
// up front to build context, the writer drafts the report and the
// reviewer scores it. Writer and reviewer plug into the quality loop
// as its Drafter and Evaluator.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/llms"
	"github.com/kadirpekel/postmortem/pkg/utils"
)

// logTokenBudget caps how much raw log text is fed to the analyzer.
const logTokenBudget = 6000

// LogAnalysis is the structured output of the log analyzer.
type LogAnalysis struct {
	Summary          string   `json:"summary"`
	ErrorPatterns    []string `json:"error_patterns"`
	AffectedServices []string `json:"affected_services"`
}

// RootCauseAnalysis is the structured output of the root cause agent.
type RootCauseAnalysis struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	FailureChain        []string `json:"failure_chain"`
	FiveWhys            []string `json:"five_whys,omitempty"`
}

// Analysis is the combined context produced before the quality loop
// starts. It is serializable so a pending run can rebuild its writer
// after a process restart.
type Analysis struct {
	Logs      LogAnalysis       `json:"logs"`
	RootCause RootCauseAnalysis `json:"root_cause"`
}

// Analyze runs the log analyzer and root cause agents in sequence.
// The root cause agent builds on the log analysis output.
func Analyze(ctx context.Context, provider llms.Provider, inc *incident.Incident) (*Analysis, error) {
	logs := inc.Logs
	if counter, err := utils.NewTokenCounter(provider.ModelName()); err == nil {
		logs = counter.Truncate(logs, logTokenBudget)
	}

	slog.Info("Analyzing incident logs", "incident", inc.ID)
	logAnalysis, err := analyzeLogs(ctx, provider, inc, logs)
	if err != nil {
		return nil, fmt.Errorf("log analysis: %w", err)
	}

	slog.Info("Analyzing root cause", "incident", inc.ID,
		"error_patterns", len(logAnalysis.ErrorPatterns))
	rootCause, err := analyzeRootCause(ctx, provider, inc, logAnalysis)
	if err != nil {
		return nil, fmt.Errorf("root cause analysis: %w", err)
	}

	return &Analysis{Logs: *logAnalysis, RootCause: *rootCause}, nil
}

func analyzeLogs(ctx context.Context, provider llms.Provider, inc *incident.Incident, logs string) (*LogAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze the following incident logs and extract key information.

INCIDENT: %s
SEVERITY: %s
DESCRIPTION: %s

RAW LOGS:
%s

TIMELINE EVENTS:
%s

METRICS:
%s

Respond with a JSON object:
{
  "summary": "2-3 paragraph summary of what the logs reveal",
  "error_patterns": ["distinct error patterns, max 5"],
  "affected_services": ["services that were impacted"]
}`,
		inc.Title, inc.Severity, inc.Description, logs,
		formatTimeline(inc.Timeline), formatMetrics(inc.Metrics))

	text, _, err := provider.Generate(ctx, logAnalyzerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var out LogAnalysis
	if err := unmarshalResponse(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func analyzeRootCause(ctx context.Context, provider llms.Provider, inc *incident.Incident, logs *LogAnalysis) (*RootCauseAnalysis, error) {
	prompt := fmt.Sprintf(`Perform root cause analysis for this incident.

INCIDENT: %s
SEVERITY: %s

LOG ANALYSIS SUMMARY:
%s

ERROR PATTERNS IDENTIFIED:
%s

AFFECTED SERVICES:
%s

ORIGINAL DESCRIPTION:
%s

Using the 5-WHYS technique, respond with a JSON object:
{
  "root_cause": "the primary root cause",
  "contributing_factors": ["secondary factors"],
  "failure_chain": ["sequence of failures, first to last"],
  "five_whys": ["your 5-whys reasoning steps"]
}

Focus on systems and processes, not individuals. The root cause should
be actionable and preventable.`,
		inc.Title, inc.Severity, logs.Summary,
		bulletList(logs.ErrorPatterns), bulletList(logs.AffectedServices),
		inc.Description)

	text, _, err := provider.Generate(ctx, rootCauseSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var out RootCauseAnalysis
	if err := unmarshalResponse(text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// unmarshalResponse parses a JSON object from model output, tolerating
// markdown code fences and leading prose.
func unmarshalResponse(text string, v any) error {
	raw := extractJSON(text)
	if raw == "" {
		return fmt.Errorf("no JSON object found in model response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to parse model response: %w", err)
	}
	return nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		} else {
			text = rest
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTimeline(entries []incident.TimelineEntry) string {
	if len(entries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Time, e.Event)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMetrics(metrics map[string]any) string {
	if len(metrics) == 0 {
		return "(none)"
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return "(unavailable)"
	}
	return string(data)
}
