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

// Package gate implements the severity-gated approval state machine.
//
// States: AutoFinalized and Finalized are terminal; PendingApproval is
// a durable checkpoint, not a blocked goroutine. The process can exit
// while a run is pending and resume it later from the checkpoint store
// with exactly one decision.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"
)

// State of the approval gate for one run.
type State string

const (
	// StateAutoFinalized means the run finalized without human review.
	StateAutoFinalized State = "auto_finalized"

	// StatePendingApproval means the run is suspended awaiting a decision.
	StatePendingApproval State = "pending_approval"

	// StateFinalized means a human approved the run.
	StateFinalized State = "finalized"
)

// IsTerminal reports whether no more transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateAutoFinalized || s == StateFinalized
}

var (
	// ErrCheckpointNotFound is returned when no checkpoint exists for a run ID.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrNotPending is returned when resuming a run that is not awaiting a decision.
	ErrNotPending = errors.New("run is not pending approval")

	// ErrEmptyFeedback is returned when a rejection carries no feedback.
	ErrEmptyFeedback = errors.New("rejection requires feedback")
)

// Decision is the external approver's verdict on a pending run.
type Decision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Checkpoint is the persisted state of a suspended (or just-resumed)
// run. Everything needed to resume after a process restart is here:
// the incident, the full draft history and the last review.
type Checkpoint struct {
	ID           string              `json:"id"`
	Incident     *incident.Incident  `json:"incident"`
	Draft        *report.Draft       `json:"draft"`
	Review       report.Review       `json:"review"`
	OutcomeState report.OutcomeState `json:"outcome_state"`
	State        State               `json:"state"`

	// Payload carries caller-owned context (e.g. the agent analysis)
	// that a resumed loop run needs but the gate does not interpret.
	Payload json.RawMessage `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists pending checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Get(ctx context.Context, id string) (*Checkpoint, error)
	List(ctx context.Context, state State) ([]*Checkpoint, error)
	Delete(ctx context.Context, id string) error
}

// LoopFunc re-runs the quality loop for a rejected draft. The draft
// already carries the prior revisions; seedFeedback is the rejection
// feedback. Injected by the caller so the gate stays decoupled from
// the loop's collaborators.
type LoopFunc func(ctx context.Context, cp *Checkpoint, seedFeedback string) (*report.Outcome, error)

// Config controls when human review is required.
type Config struct {
	// Cutoff is the least critical severity that still requires review.
	Cutoff incident.Severity

	// Enabled turns human review on. When false every outcome
	// finalizes automatically regardless of severity.
	Enabled bool
}

// Transition is emitted on every gate state change.
type Transition struct {
	RunID string
	From  State
	To    State
}

// Observer receives gate transitions.
type Observer func(Transition)

// Option configures a Gate.
type Option func(*Gate)

// WithObserver registers a transition observer.
func WithObserver(obs Observer) Option {
	return func(g *Gate) { g.observer = obs }
}

// Gate decides whether a loop outcome needs human confirmation and
// drives the approve/reject/resubmit cycle.
type Gate struct {
	cfg      Config
	store    CheckpointStore
	rerun    LoopFunc
	observer Observer
	tracer   trace.Tracer
}

// New creates a gate. rerun is invoked on rejection; it may be nil if
// the gate is only used for auto-finalization paths.
func New(cfg Config, store CheckpointStore, rerun LoopFunc, opts ...Option) *Gate {
	g := &Gate{
		cfg:    cfg,
		store:  store,
		rerun:  rerun,
		tracer: otel.Tracer("postmortem.gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Finalize applies the severity policy to a loop outcome. It returns
// either a FinalReport (auto path) or a pending Checkpoint (suspension
// point), never both.
func (g *Gate) Finalize(ctx context.Context, runID string, inc *incident.Incident, out *report.Outcome, payload json.RawMessage) (*report.FinalReport, *Checkpoint, error) {
	_, span := g.tracer.Start(ctx, "gate.finalize",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("incident.severity", inc.Severity.String()),
		),
	)
	defer span.End()

	if !g.cfg.Enabled || !inc.Severity.AtLeast(g.cfg.Cutoff) {
		g.transition(runID, "", StateAutoFinalized)
		return finalReport(inc, out, report.ApprovedByAuto), nil, nil
	}

	now := time.Now().UTC()
	cp := &Checkpoint{
		ID:           runID,
		Incident:     inc,
		Draft:        out.Draft.Clone(),
		Review:       out.Review,
		OutcomeState: out.State,
		State:        StatePendingApproval,
		Payload:      payload,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := g.store.Save(ctx, cp); err != nil {
		return nil, nil, fmt.Errorf("failed to persist pending approval: %w", err)
	}

	g.transition(runID, "", StatePendingApproval)
	slog.Info("Run pending human approval",
		"run", runID, "incident", inc.ID, "severity", inc.Severity.String(),
		"score", out.Review.Aggregate)
	return nil, cp, nil
}

// Resume applies exactly one decision to a pending run.
//
// Approved finalizes the run. Rejected re-runs the loop seeded with the
// rejection feedback and then applies the same severity policy again,
// so the run either finalizes or returns to PendingApproval with an
// updated checkpoint. No cap on rejection cycles is imposed here;
// callers bound it through ctx if desired.
func (g *Gate) Resume(ctx context.Context, runID string, dec Decision) (*report.FinalReport, *Checkpoint, error) {
	cp, err := g.store.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if cp.State != StatePendingApproval {
		return nil, nil, fmt.Errorf("%w: run %s is %s", ErrNotPending, runID, cp.State)
	}

	ctx, span := g.tracer.Start(ctx, "gate.resume",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Bool("decision.approved", dec.Approved),
		),
	)
	defer span.End()

	if dec.Approved {
		if err := g.store.Delete(ctx, runID); err != nil {
			return nil, nil, fmt.Errorf("failed to clear checkpoint: %w", err)
		}
		g.transition(runID, StatePendingApproval, StateFinalized)
		out := &report.Outcome{State: cp.OutcomeState, Draft: cp.Draft, Review: cp.Review}
		return finalReport(cp.Incident, out, report.ApprovedByHuman), nil, nil
	}

	if dec.Feedback == "" {
		return nil, nil, ErrEmptyFeedback
	}
	if g.rerun == nil {
		return nil, nil, fmt.Errorf("rejection of run %s: no loop configured for re-run", runID)
	}

	slog.Info("Run rejected, re-entering quality loop",
		"run", runID, "incident", cp.Incident.ID, "feedback", dec.Feedback)

	out, err := g.rerun(ctx, cp, dec.Feedback)
	if err != nil {
		return nil, nil, err
	}

	// Same decision logic again: severity has not changed, so the run
	// goes back to pending with the updated draft.
	now := time.Now().UTC()
	cp.Draft = out.Draft.Clone()
	cp.Review = out.Review
	cp.OutcomeState = out.State
	cp.UpdatedAt = now
	if err := g.store.Save(ctx, cp); err != nil {
		return nil, nil, fmt.Errorf("failed to persist pending approval: %w", err)
	}
	g.transition(runID, StatePendingApproval, StatePendingApproval)
	return nil, cp, nil
}

func (g *Gate) transition(runID string, from, to State) {
	slog.Debug("Gate transition", "run", runID, "from", string(from), "to", string(to))
	if g.observer != nil {
		g.observer(Transition{RunID: runID, From: from, To: to})
	}
}

func finalReport(inc *incident.Incident, out *report.Outcome, approvedBy string) *report.FinalReport {
	return &report.FinalReport{
		IncidentID: inc.ID,
		Body:       out.Draft.Body,
		ApprovedBy: approvedBy,
		Iterations: out.Draft.Iteration,
		Score:      out.Review.Aggregate,
		Exhausted:  out.State == report.OutcomeExhausted,
		History:    out.Draft.Revisions,
		CreatedAt:  time.Now().UTC(),
	}
}
