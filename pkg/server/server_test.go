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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/postmortem/pkg/config"
	"github.com/kadirpekel/postmortem/pkg/gate"
	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/runner"
)

// fakeProvider answers all agent personas with fixed content; reviews
// always score 9 so runs accept on the first draft.
type fakeProvider struct{}

func (fakeProvider) Generate(_ context.Context, system, _ string) (string, int, error) {
	switch {
	case strings.Contains(system, "Site Reliability Engineer"):
		return `{"summary":"db timeouts","error_patterns":["timeout"],"affected_services":["api"]}`, 5, nil
	case strings.Contains(system, "incident analyst"):
		return `{"root_cause":"bad deploy","contributing_factors":[],"failure_chain":[]}`, 5, nil
	case strings.Contains(system, "technical writer"):
		return "# Incident Postmortem\n\nbody", 5, nil
	case strings.Contains(system, "SRE manager"):
		return `{"completeness_score":9,"clarity_score":9,"accuracy_score":9,"actionability_score":9,"blamelessness_score":9,"weaknesses":["minor"],"revision_suggestions":["polish"]}`, 5, nil
	}
	return "", 0, fmt.Errorf("unexpected system prompt")
}

func (fakeProvider) ModelName() string { return "gpt-4o" }

// newTestServer runs one SEV1 incident to a pending checkpoint and
// returns the server plus the pending run ID.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	cfg := &config.Config{}
	cfg.SetDefaults()

	r, err := runner.New(cfg,
		runner.WithProvider(fakeProvider{}),
		runner.WithCheckpointStore(gate.NewInMemoryStore()),
		runner.WithHistory(incident.NewInMemoryHistory()))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), &incident.Incident{
		ID:       "INC-42",
		Title:    "Payment processing outage",
		Severity: incident.Sev1,
		Logs:     "ERROR payment gateway unreachable",
	})
	require.NoError(t, err)
	require.Equal(t, gate.StatePendingApproval, res.State)

	return New(r, ":0"), res.RunID
}

func doRequest(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListPending(t *testing.T) {
	s, runID := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/pending", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []pendingSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, runID, out[0].RunID)
	assert.Equal(t, "INC-42", out[0].IncidentID)
	assert.Equal(t, "SEV1", out[0].Severity)
	assert.False(t, out[0].Exhausted)
	assert.InDelta(t, 0.9, out[0].Score, 1e-9)
}

func TestGetPending(t *testing.T) {
	s, runID := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/pending/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cp gate.Checkpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
	assert.Equal(t, runID, cp.ID)
	assert.Equal(t, gate.StatePendingApproval, cp.State)
	assert.Contains(t, cp.Draft.Body, "Incident Postmortem")
}

func TestGetPendingUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/pending/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprove(t *testing.T) {
	s, runID := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/pending/"+runID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res runner.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, gate.StateFinalized, res.State)
	require.NotNil(t, res.Report)
	assert.Equal(t, "human", res.Report.ApprovedBy)

	// The decision consumed the checkpoint.
	rec = doRequest(t, s, http.MethodPost, "/pending/"+runID+"/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectWithFeedbackStaysPending(t *testing.T) {
	s, runID := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/pending/"+runID+"/reject",
		`{"feedback":"expand the timeline"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res runner.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, gate.StatePendingApproval, res.State)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, 2, res.Checkpoint.Draft.Iteration)
}

func TestRejectWithoutFeedback(t *testing.T) {
	s, runID := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/pending/"+runID+"/reject", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/pending/"+runID+"/reject", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The run is still pending after the failed rejections.
	rec = doRequest(t, s, http.MethodGet, "/pending/"+runID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "postmortem_")
}
