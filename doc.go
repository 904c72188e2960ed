// Package postmortem provides an AI-assisted incident postmortem
// generator with quality control and severity-gated human approval.
//
// Incidents go through a fixed pipeline: log analysis and root cause
// analysis build context, a writer drafts the report and a reviewer
// scores it against a five-part rubric. Drafts below the quality
// threshold are revised with the reviewer's feedback, up to a bounded
// number of revisions. High-severity incidents then wait for a human
// decision; everything else is finalized automatically.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/postmortem/cmd/postmortem@latest
//
// Generate a postmortem from an incident file:
//
//	postmortem run incident.json
//
// Review high-severity runs:
//
//	postmortem pending
//	postmortem approve <run-id>
//	postmortem reject <run-id> --feedback "Expand the timeline"
//
// Or run the approval workflow over HTTP:
//
//	postmortem serve --addr :8080
//
// # Using as Go Library
//
// Import the packages you need:
//
//	import (
//	    "github.com/kadirpekel/postmortem/pkg/runner"
//	    "github.com/kadirpekel/postmortem/pkg/incident"
//	    "github.com/kadirpekel/postmortem/pkg/config"
//	)
//
// The runner package is the composition root: it wires the agents, the
// quality loop, the approval gate and the configured stores.
//
// # Key Features
//
//   - Draft-review-revise quality loop with a bounded revision budget
//   - LLM-as-judge scoring: completeness, clarity, accuracy,
//     actionability and blamelessness
//   - Severity-gated approval with durable, resumable checkpoints
//   - Incident history with keyword similarity search
//   - DevOps tool server and client over the Model Context Protocol
//   - OpenAI, Anthropic and Ollama providers
package postmortem
