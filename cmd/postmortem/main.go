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

// Command postmortem generates incident postmortem reports.
//
// Usage:
//
//	postmortem run incident.json
//	postmortem run --dir incidents/ --output reports/
//	postmortem pending
//	postmortem approve <run-id>
//	postmortem reject <run-id> --feedback "Expand the timeline"
//	postmortem serve --addr :8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/postmortem"
	"github.com/kadirpekel/postmortem/pkg/config"
	"github.com/kadirpekel/postmortem/pkg/gate"
	"github.com/kadirpekel/postmortem/pkg/incident"
	"github.com/kadirpekel/postmortem/pkg/observability"
	"github.com/kadirpekel/postmortem/pkg/report"
	"github.com/kadirpekel/postmortem/pkg/runner"
	"github.com/kadirpekel/postmortem/pkg/server"
	"github.com/kadirpekel/postmortem/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Generate postmortems for incident files."`
	Pending PendingCmd `cmd:"" help:"List runs awaiting human approval."`
	Approve ApproveCmd `cmd:"" help:"Approve a pending run."`
	Reject  RejectCmd  `cmd:"" help:"Reject a pending run with feedback."`
	Serve   ServeCmd   `cmd:"" help:"Start the approval HTTP server."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(postmortem.GetVersion())
	return nil
}

// RunCmd generates postmortems for one or more incidents.
type RunCmd struct {
	Files       []string `arg:"" optional:"" help:"Incident JSON files." type:"path"`
	Dir         string   `help:"Directory of incident JSON files (batch mode)." type:"path"`
	Output      string   `short:"o" help:"Directory for finalized reports." default:"." type:"path"`
	Concurrency int      `help:"Concurrent runs in batch mode." default:"2"`
	MCPURL      string   `name:"mcp-url" help:"DevOps MCP server URL for incident enrichment."`
	MCPCommand  string   `name:"mcp-command" help:"DevOps MCP server command (stdio) for incident enrichment."`
}

func (c *RunCmd) Run(cli *CLI) error {
	paths := append([]string{}, c.Files...)
	if c.Dir != "" {
		matches, err := filepath.Glob(filepath.Join(c.Dir, "*.json"))
		if err != nil {
			return err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no incident files given (pass files or --dir)")
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, cleanup, err := buildRunner(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	var enricher *tools.Enricher
	switch {
	case c.MCPURL != "":
		enricher, err = tools.NewEnricher(ctx, c.MCPURL)
	case c.MCPCommand != "":
		enricher, err = tools.NewStdioEnricher(ctx, c.MCPCommand)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %w", err)
	}
	if enricher != nil {
		defer enricher.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for _, path := range paths {
		g.Go(func() error {
			return c.runOne(ctx, r, enricher, path)
		})
	}
	return g.Wait()
}

func (c *RunCmd) runOne(ctx context.Context, r *runner.Runner, enricher *tools.Enricher, path string) error {
	inc, err := incident.LoadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if enricher != nil {
		if err := enricher.Enrich(ctx, inc); err != nil {
			slog.Warn("Incident enrichment failed", "incident", inc.ID, "error", err)
		}
	}

	result, err := r.Run(ctx, inc)
	if err != nil {
		return fmt.Errorf("%s: %w", inc.ID, err)
	}

	if result.Report != nil {
		out, err := writeReport(c.Output, result.Report)
		if err != nil {
			return err
		}
		fmt.Printf("%s: finalized (%s, score %.0f%%, %d iterations) -> %s\n",
			inc.ID, result.Report.ApprovedBy, result.Report.Score*100,
			result.Report.Iterations, out)
		return nil
	}

	fmt.Printf("%s: pending approval (run %s, severity %s, score %.0f%%)\n",
		inc.ID, result.RunID, inc.Severity, result.Checkpoint.Review.Aggregate*100)
	fmt.Printf("  approve with: postmortem approve %s\n", result.RunID)
	return nil
}

// PendingCmd lists runs awaiting a decision.
type PendingCmd struct{}

func (c *PendingCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	r, cleanup, err := buildRunner(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	checkpoints, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Println("No runs pending approval.")
		return nil
	}

	fmt.Printf("%-38s %-16s %-6s %-7s %s\n", "RUN", "INCIDENT", "SEV", "SCORE", "TITLE")
	for _, cp := range checkpoints {
		fmt.Printf("%-38s %-16s %-6s %5.0f%%  %s\n",
			cp.ID, cp.Incident.ID, cp.Incident.Severity,
			cp.Review.Aggregate*100, cp.Incident.Title)
	}
	return nil
}

// ApproveCmd approves one pending run.
type ApproveCmd struct {
	RunID  string `arg:"" help:"Run ID to approve."`
	Output string `short:"o" help:"Directory for the finalized report." default:"." type:"path"`
}

func (c *ApproveCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	r, cleanup, err := buildRunner(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := r.Resume(ctx, c.RunID, gate.Decision{Approved: true})
	if err != nil {
		return err
	}
	out, err := writeReport(c.Output, result.Report)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s approved -> %s\n", c.RunID, out)
	return nil
}

// RejectCmd rejects one pending run; the quality loop re-runs with the
// feedback and the run returns to pending.
type RejectCmd struct {
	RunID    string `arg:"" help:"Run ID to reject."`
	Feedback string `short:"f" required:"" help:"Feedback for the next revision."`
}

func (c *RejectCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	r, cleanup, err := buildRunner(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := r.Resume(ctx, c.RunID, gate.Decision{Approved: false, Feedback: c.Feedback})
	if err != nil {
		return err
	}
	fmt.Printf("Run %s revised (iteration %d, score %.0f%%), pending approval again.\n",
		c.RunID, result.Checkpoint.Draft.Iteration, result.Checkpoint.Review.Aggregate*100)
	return nil
}

// ServeCmd starts the approval HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address." default:":8080"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	r, cleanup, err := buildRunner(ctx, cli)
	if err != nil {
		return err
	}
	defer cleanup()

	return server.New(r, c.Addr).Start(ctx)
}

// buildRunner loads configuration, installs tracing and builds the
// runner. The returned cleanup releases both.
func buildRunner(ctx context.Context, cli *CLI) (*runner.Runner, func(), error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, nil, err
	}

	r, err := runner.New(cfg)
	if err != nil {
		shutdownTracer(context.Background()) //nolint:errcheck
		return nil, nil, err
	}

	cleanup := func() {
		if err := r.Close(); err != nil {
			slog.Warn("Failed to close stores", "error", err)
		}
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("Failed to shut down tracer", "error", err)
		}
	}
	return r, cleanup, nil
}

func writeReport(dir string, final *report.FinalReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, final.IncidentID+"-postmortem.md")
	if err := os.WriteFile(path, []byte(final.Body), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("postmortem"),
		kong.Description("AI-assisted incident postmortem generator with quality control and severity-gated approval"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
