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

// Package runner composes the full postmortem pipeline: analysis
// agents, the quality loop and the approval gate, backed by the
// configured stores. It is the single entry point used by the CLI and
// the approval server.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/postmortem/pkg/agents"
	"github.com/kadirpekel/postmortem/pkg/config"
	"github.com/kadirpekel/postmortem/pkg/gate"
	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/llms"
	"github.com/kadirpekel/postmortem/pkg/loop"
	"github.com/kadirpekel/postmortem/pkg/observability"
	"github.com/kadirpekel/postmortem/pkg/report"
)

// Result is what one generation run (or one resume) produced: either a
// finalized report or a pending checkpoint, never both.
type Result struct {
	RunID      string              `json:"run_id"`
	State      gate.State          `json:"state"`
	Report     *report.FinalReport `json:"report,omitempty"`
	Checkpoint *gate.Checkpoint    `json:"checkpoint,omitempty"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithProvider overrides the LLM provider built from configuration.
func WithProvider(p llms.Provider) Option {
	return func(r *Runner) { r.provider = p }
}

// WithCheckpointStore overrides the checkpoint store built from
// configuration.
func WithCheckpointStore(s gate.CheckpointStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithHistory overrides the incident history store built from
// configuration.
func WithHistory(h incident.HistoryStore) Option {
	return func(r *Runner) { r.history = h }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// Runner drives postmortem generation runs end to end. Configuration is
// snapshotted at construction; a Runner never re-reads it mid-run.
type Runner struct {
	cfg      *config.Config
	provider llms.Provider
	store    gate.CheckpointStore
	history  incident.HistoryStore
	gate     *gate.Gate
	metrics  *observability.Metrics
	tracer   trace.Tracer
}

// New builds a runner from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		tracer: observability.Tracer("postmortem.runner"),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = observability.NewMetrics()
	}
	if r.provider == nil {
		provider, err := llms.New(cfg.LLM)
		if err != nil {
			return nil, err
		}
		r.provider = provider
	}
	r.provider = &meteredProvider{Provider: r.provider, metrics: r.metrics}
	if r.store == nil || r.history == nil {
		if err := r.openStores(); err != nil {
			return nil, err
		}
	}

	r.gate = gate.New(gate.Config{
		Cutoff:  cfg.CutoffSeverity(),
		Enabled: cfg.ApprovalEnabled(),
	}, r.store, r.rerunLoop)

	return r, nil
}

// openStores builds the checkpoint and history stores from the storage
// configuration, sharing one database for the SQL backends.
func (r *Runner) openStores() error {
	backend := r.cfg.Storage.Backend
	if backend == "" || backend == "inmemory" {
		if r.store == nil {
			r.store = gate.NewInMemoryStore()
		}
		if r.history == nil {
			r.history = incident.NewInMemoryHistory()
		}
		return nil
	}

	driver := backend
	if backend == "sqlite" {
		driver = "sqlite3"
	}

	if r.store == nil {
		store, err := gate.NewSQLStore(driver, r.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		r.store = store
	}
	if r.history == nil {
		history, err := incident.NewSQLHistory(driver, r.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		r.history = history
	}
	return nil
}

// Metrics returns the runner's metrics instance for HTTP exposure.
func (r *Runner) Metrics() *observability.Metrics {
	return r.metrics
}

// History returns the incident history store.
func (r *Runner) History() incident.HistoryStore {
	return r.history
}

// Close releases store resources.
func (r *Runner) Close() error {
	var firstErr error
	for _, c := range []any{r.store, r.history} {
		if closer, ok := c.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run generates a postmortem for one incident. It analyzes the
// incident, runs the quality loop and applies the approval gate. The
// returned Result carries either a finalized report or a pending
// checkpoint to be resumed later.
func (r *Runner) Run(ctx context.Context, inc *incident.Incident) (*Result, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	started := time.Now()

	ctx, span := r.tracer.Start(ctx, observability.SpanRun,
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("incident.id", inc.ID),
			attribute.String("incident.severity", inc.Severity.String()),
		),
	)
	defer span.End()

	slog.Info("Starting postmortem run",
		"run", runID, "incident", inc.ID, "severity", inc.Severity.String())

	analysisCtx, analysisSpan := r.tracer.Start(ctx, observability.SpanAnalysis)
	analysis, err := agents.Analyze(analysisCtx, r.provider, inc)
	analysisSpan.End()
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize analysis: %w", err)
	}

	outcome, err := r.newController(analysis).Run(ctx, inc, nil, "")
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if !outcome.Accepted() {
		r.metrics.LoopExhaustions.Inc()
	}

	final, cp, err := r.gate.Finalize(ctx, runID, inc, outcome, payload)
	if err != nil {
		return nil, err
	}
	r.metrics.RunDuration.Observe(time.Since(started).Seconds())

	if cp != nil {
		r.metrics.RunsTotal.WithLabelValues(string(gate.StatePendingApproval)).Inc()
		r.metrics.PendingApprovals.Inc()
		return &Result{RunID: runID, State: gate.StatePendingApproval, Checkpoint: cp}, nil
	}

	r.metrics.RunsTotal.WithLabelValues(string(gate.StateAutoFinalized)).Inc()
	r.recordHistory(ctx, inc, final, analysis.RootCause.RootCause)
	return &Result{RunID: runID, State: gate.StateAutoFinalized, Report: final}, nil
}

// Resume applies one approval decision to a pending run.
func (r *Runner) Resume(ctx context.Context, runID string, dec gate.Decision) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanResume,
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Bool("decision.approved", dec.Approved),
		),
	)
	defer span.End()

	// The gate deletes the checkpoint on approval, so capture the
	// incident and analysis payload for the history entry first.
	prior, err := r.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	final, cp, err := r.gate.Resume(ctx, runID, dec)
	if err != nil {
		return nil, err
	}

	if final != nil {
		r.metrics.ApprovalDecisions.WithLabelValues("approved").Inc()
		r.metrics.PendingApprovals.Dec()
		r.metrics.RunsTotal.WithLabelValues(string(gate.StateFinalized)).Inc()
		r.recordHistory(ctx, prior.Incident, final, rootCauseFromPayload(prior.Payload))
		return &Result{RunID: runID, State: gate.StateFinalized, Report: final}, nil
	}

	r.metrics.ApprovalDecisions.WithLabelValues("rejected").Inc()
	return &Result{RunID: runID, State: gate.StatePendingApproval, Checkpoint: cp}, nil
}

// Pending lists runs awaiting a decision, oldest first.
func (r *Runner) Pending(ctx context.Context) ([]*gate.Checkpoint, error) {
	return r.store.List(ctx, gate.StatePendingApproval)
}

// Get retrieves one checkpoint by run ID.
func (r *Runner) Get(ctx context.Context, runID string) (*gate.Checkpoint, error) {
	return r.store.Get(ctx, runID)
}

// newController builds a quality loop controller over a writer bound to
// the given analysis.
func (r *Runner) newController(analysis *agents.Analysis) *loop.Controller {
	writer := agents.NewWriter(r.provider, analysis)
	reviewer := agents.NewReviewer(r.provider, r.cfg.Quality.Threshold)
	return loop.New(writer, reviewer,
		r.cfg.Quality.MaxRevisions, r.cfg.Quality.Threshold,
		loop.WithObserver(func(loop.Event) { r.metrics.LoopIterations.Inc() }))
}

// rerunLoop is the gate's rejection path. The checkpoint payload holds
// the serialized analysis, so the writer can be rebuilt even after a
// process restart.
func (r *Runner) rerunLoop(ctx context.Context, cp *gate.Checkpoint, seedFeedback string) (*report.Outcome, error) {
	var analysis agents.Analysis
	if len(cp.Payload) > 0 {
		if err := json.Unmarshal(cp.Payload, &analysis); err != nil {
			return nil, fmt.Errorf("failed to restore analysis for run %s: %w", cp.ID, err)
		}
	}
	return r.newController(&analysis).Run(ctx, cp.Incident, cp.Draft.Clone(), seedFeedback)
}

// recordHistory saves a finalized postmortem to the incident history.
// History is best effort: a write failure never fails the run.
func (r *Runner) recordHistory(ctx context.Context, inc *incident.Incident, final *report.FinalReport, rootCause string) {
	if r.history == nil || final == nil {
		return
	}
	title := final.IncidentID
	sev := incident.Sev4
	if inc != nil {
		title = inc.Title
		sev = inc.Severity
	}
	entry := incident.NewHistoryEntry(final.IncidentID, title, sev, rootCause,
		final.Body, final.ApprovedBy, final.Score)
	if err := r.history.Save(ctx, entry); err != nil {
		slog.Warn("Failed to record incident history", "incident", final.IncidentID, "error", err)
	}
}

// meteredProvider records request duration and failures for every LLM
// call made through the runner.
type meteredProvider struct {
	llms.Provider
	metrics *observability.Metrics
}

func (p *meteredProvider) Generate(ctx context.Context, system, prompt string) (string, int, error) {
	started := time.Now()
	text, tokens, err := p.Provider.Generate(ctx, system, prompt)
	p.metrics.LLMRequestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		p.metrics.LLMErrors.Inc()
	}
	return text, tokens, err
}

// rootCauseFromPayload recovers the analyzed root cause from a
// checkpoint payload. A miss just degrades the history entry.
func rootCauseFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var analysis agents.Analysis
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return ""
	}
	return analysis.RootCause.RootCause
}
