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

// Package server exposes the approval workflow over HTTP: reviewers
// list pending runs, inspect the draft under review and submit exactly
// one decision per visit.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/postmortem/pkg/gate"
	"github.com/kadirpekel/postmortem/pkg/report"
	"github.com/kadirpekel/postmortem/pkg/runner"
)

// Server is the approval HTTP server.
type Server struct {
	runner *runner.Runner
	router chi.Router
	http   *http.Server
}

// New creates a server bound to addr.
func New(r *runner.Runner, addr string) *Server {
	s := &Server{runner: r}

	router := chi.NewRouter()
	router.Use(tracingMiddleware)

	router.Get("/health", s.handleHealth)
	router.Handle("/metrics", r.Metrics().Handler())
	router.Route("/pending", func(router chi.Router) {
		router.Get("/", s.handleListPending)
		router.Get("/{id}", s.handleGetPending)
		router.Post("/{id}/approve", s.handleApprove)
		router.Post("/{id}/reject", s.handleReject)
	})

	s.router = router
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Approval server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// pendingSummary is the list view of a checkpoint: enough to triage
// without pulling the full draft history.
type pendingSummary struct {
	RunID      string    `json:"run_id"`
	IncidentID string    `json:"incident_id"`
	Title      string    `json:"title"`
	Severity   string    `json:"severity"`
	Score      float64   `json:"score"`
	Iterations int       `json:"iterations"`
	Exhausted  bool      `json:"exhausted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func summarize(cp *gate.Checkpoint) pendingSummary {
	return pendingSummary{
		RunID:      cp.ID,
		IncidentID: cp.Incident.ID,
		Title:      cp.Incident.Title,
		Severity:   cp.Incident.Severity.String(),
		Score:      cp.Review.Aggregate,
		Iterations: cp.Draft.Iteration,
		Exhausted:  cp.OutcomeState == report.OutcomeExhausted,
		CreatedAt:  cp.CreatedAt,
		UpdatedAt:  cp.UpdatedAt,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.runner.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]pendingSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, summarize(cp))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cp, err := s.runner.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resume(w, r, gate.Decision{Approved: true})
}

// rejectRequest is the body of a rejection.
type rejectRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	s.resume(w, r, gate.Decision{Approved: false, Feedback: req.Feedback})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request, dec gate.Decision) {
	id := chi.URLParam(r, "id")
	result, err := s.runner.Resume(r.Context(), id, dec)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gate.ErrCheckpointNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, gate.ErrEmptyFeedback):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, gate.ErrNotPending):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
