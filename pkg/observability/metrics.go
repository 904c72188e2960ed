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

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments of the pipeline.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	LoopIterations     prometheus.Counter
	LoopExhaustions    prometheus.Counter
	PendingApprovals   prometheus.Gauge
	ApprovalDecisions  *prometheus.CounterVec
	LLMRequestDuration prometheus.Histogram
	LLMErrors          prometheus.Counter
}

// NewMetrics creates the instruments on a private registry so tests can
// build isolated instances.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postmortem_runs_total",
			Help: "Completed generation runs by final state",
		}, []string{"state"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "postmortem_run_duration_seconds",
			Help:    "End-to-end generation run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		LoopIterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "postmortem_loop_iterations_total",
			Help: "Total draft-review iterations across all runs",
		}),
		LoopExhaustions: factory.NewCounter(prometheus.CounterOpts{
			Name: "postmortem_loop_exhaustions_total",
			Help: "Loop runs that hit the revision limit below threshold",
		}),
		PendingApprovals: factory.NewGauge(prometheus.GaugeOpts{
			Name: "postmortem_pending_approvals",
			Help: "Checkpoints currently waiting for human review",
		}),
		ApprovalDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "postmortem_approval_decisions_total",
			Help: "Human review decisions by outcome",
		}, []string{"decision"}),
		LLMRequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "postmortem_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		LLMErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "postmortem_llm_errors_total",
			Help: "Failed LLM requests",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
