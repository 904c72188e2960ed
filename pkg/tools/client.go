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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/postmortem/pkg/incident"
)

const protocolVersion = "2024-11-05"

// Enricher pulls live service context from a devops MCP server into an
// incident before a postmortem run: recent logs and current metrics for
// each affected service.
type Enricher struct {
	client *client.Client
}

// NewEnricher connects to an MCP server over streamable HTTP at url.
func NewEnricher(ctx context.Context, url string) (*Enricher, error) {
	c, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	return initClient(ctx, c)
}

// NewStdioEnricher spawns command as an MCP server over stdio.
func NewStdioEnricher(ctx context.Context, command string, args ...string) (*Enricher, error) {
	c, err := client.NewStdioMCPClient(command, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	return initClient(ctx, c)
}

func initClient(ctx context.Context, c *client.Client) (*Enricher, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "postmortem",
		Version: ServerVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP: %w", err)
	}
	return &Enricher{client: c}, nil
}

// Close shuts down the MCP connection.
func (e *Enricher) Close() error {
	return e.client.Close()
}

// Enrich appends live logs and metrics for each affected service to the
// incident. Enrichment is best effort: a failing tool call is logged
// and skipped so the run can proceed on the incident file alone.
func (e *Enricher) Enrich(ctx context.Context, inc *incident.Incident) error {
	if len(inc.AffectedServices) == 0 {
		return nil
	}
	if inc.Metrics == nil {
		inc.Metrics = make(map[string]any)
	}

	var extra strings.Builder
	for _, svc := range inc.AffectedServices {
		logs, err := e.callText(ctx, "get_recent_logs", map[string]any{
			"service_name": svc,
			"log_level":    "ALL",
			"limit":        20,
		})
		if err != nil {
			slog.Warn("MCP log enrichment failed", "service", svc, "error", err)
		} else if logs != "" {
			extra.WriteString("\n\n")
			extra.WriteString(logs)
		}

		metrics, err := e.callText(ctx, "get_metrics", map[string]any{
			"service_name": svc,
		})
		if err != nil {
			slog.Warn("MCP metrics enrichment failed", "service", svc, "error", err)
		} else if metrics != "" {
			inc.Metrics["live_"+svc] = metrics
		}
	}

	if extra.Len() > 0 {
		inc.Logs += extra.String()
	}
	return nil
}

// callText invokes one tool and concatenates its text content.
func (e *Enricher) callText(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := e.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s returned an error", tool)
	}

	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String(), nil
}
