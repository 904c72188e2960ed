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

// Package loop implements the bounded draft-review-revise controller.
//
// One Run performs up to MaxRevisions+1 draft+evaluate attempts:
// MaxRevisions counts revisions after the first draft, so even
// MaxRevisions=0 performs exactly one attempt. The loop never discards
// work; an exhausted run returns the last draft produced.
package loop

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/report"
)

// Drafter produces a draft body. prev is nil on the very first attempt
// of a run; feedback is the seed feedback on the first attempt and the
// prior review's feedback afterwards.
type Drafter interface {
	Draft(ctx context.Context, inc *incident.Incident, prev *report.Draft, feedback string) (string, error)
}

// Evaluator scores a draft body against the quality rubric.
type Evaluator interface {
	Evaluate(ctx context.Context, inc *incident.Incident, body string) (report.Review, error)
}

// Stage names for GenerationError.
const (
	StageDraft    = "draft"
	StageEvaluate = "evaluate"
)

// GenerationError reports a failed collaborator call. It carries the
// history accumulated before the failure so the caller can see how many
// iterations succeeded. The controller never retries a failed call.
type GenerationError struct {
	Stage     string
	Iteration int
	History   []report.Revision
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s failed at iteration %d: %v", e.Stage, e.Iteration, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// CancelledError reports caller-initiated cancellation at a loop
// boundary. It preserves the history accumulated so far; it wraps the
// context error so errors.Is(err, context.Canceled) works.
type CancelledError struct {
	Iteration int
	History   []report.Revision
	Err       error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled at iteration %d: %v", e.Iteration, e.Err)
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Event is emitted once per loop iteration.
type Event struct {
	Iteration      int
	Aggregate      float64
	MeetsThreshold bool
}

// Observer receives iteration events.
type Observer func(Event)

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers an iteration observer.
func WithObserver(obs Observer) Option {
	return func(c *Controller) { c.observer = obs }
}

// Controller drives repeated draft-evaluate-revise cycles until the
// threshold is met or the revision budget is exhausted.
type Controller struct {
	drafter      Drafter
	evaluator    Evaluator
	maxRevisions int
	threshold    float64
	observer     Observer
	tracer       trace.Tracer
}

// New creates a controller. maxRevisions is the number of revisions
// allowed after the first draft; threshold is the aggregate score in
// [0,1] required for acceptance.
func New(drafter Drafter, evaluator Evaluator, maxRevisions int, threshold float64, opts ...Option) *Controller {
	c := &Controller{
		drafter:      drafter,
		evaluator:    evaluator,
		maxRevisions: maxRevisions,
		threshold:    threshold,
		tracer:       otel.Tracer("postmortem.loop"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the configured acceptance threshold.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Run executes draft+evaluate attempts on draft until the review meets
// the threshold (Accepted) or MaxRevisions+1 attempts for this run are
// spent (Exhausted). draft may already carry revisions from a prior
// run; iteration numbering continues upward so the full history stays
// monotonic across reject-triggered re-runs.
//
// seedFeedback guides the first attempt; afterwards each attempt is
// guided by the previous review's feedback.
func (c *Controller) Run(ctx context.Context, inc *incident.Incident, draft *report.Draft, seedFeedback string) (*report.Outcome, error) {
	if draft == nil {
		draft = report.NewDraft()
	}

	ctx, span := c.tracer.Start(ctx, "loop.run",
		trace.WithAttributes(
			attribute.String("incident.id", inc.ID),
			attribute.Int("loop.max_revisions", c.maxRevisions),
			attribute.Float64("loop.threshold", c.threshold),
		),
	)
	defer span.End()

	feedback := seedFeedback
	attempts := 0
	var prev *report.Draft
	if len(draft.Revisions) > 0 {
		prev = draft
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Iteration: draft.Iteration, History: draft.Revisions, Err: err}
		}

		body, err := c.drafter.Draft(ctx, inc, prev, feedback)
		if err != nil {
			return nil, &GenerationError{
				Stage:     StageDraft,
				Iteration: draft.Iteration + 1,
				History:   draft.Revisions,
				Err:       err,
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Iteration: draft.Iteration, History: draft.Revisions, Err: err}
		}

		review, err := c.evaluator.Evaluate(ctx, inc, body)
		if err != nil {
			return nil, &GenerationError{
				Stage:     StageEvaluate,
				Iteration: draft.Iteration + 1,
				History:   draft.Revisions,
				Err:       err,
			}
		}

		draft.Record(body, review)
		attempts++
		prev = draft
		feedback = review.Feedback

		c.emit(span, draft.Iteration, review)

		if review.MeetsThreshold {
			return &report.Outcome{State: report.OutcomeAccepted, Draft: draft, Review: review}, nil
		}
		if attempts > c.maxRevisions {
			slog.Info("Revision budget exhausted, returning last draft",
				"incident", inc.ID, "iterations", draft.Iteration, "score", review.Aggregate)
			return &report.Outcome{State: report.OutcomeExhausted, Draft: draft, Review: review}, nil
		}
	}
}

func (c *Controller) emit(span trace.Span, iteration int, review report.Review) {
	span.AddEvent("iteration", trace.WithAttributes(
		attribute.Int("iteration", iteration),
		attribute.Float64("aggregate", review.Aggregate),
		attribute.Bool("meets_threshold", review.MeetsThreshold),
	))
	slog.Debug("Loop iteration complete",
		"iteration", iteration,
		"aggregate", review.Aggregate,
		"meets_threshold", review.MeetsThreshold)
	if c.observer != nil {
		c.observer(Event{
			Iteration:      iteration,
			Aggregate:      review.Aggregate,
			MeetsThreshold: review.MeetsThreshold,
		})
	}
}
