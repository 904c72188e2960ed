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

// Package tools exposes DevOps helpers over the Model Context Protocol:
// service status, logs, metrics and incident creation. The server side
// backs the bundled mcp-devops binary; the client side enriches
// incidents before a postmortem run.
package tools

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// serviceInfo is the simulated inventory record for one service. A real
// deployment would proxy a service catalog here.
type serviceInfo struct {
	Status  string
	Version string
}

// DevOps implements the tool handlers over an in-memory service
// inventory.
type DevOps struct {
	services map[string]serviceInfo
	logs     map[string][]string
}

// NewDevOps creates a DevOps toolset with the default simulated
// inventory.
func NewDevOps() *DevOps {
	return &DevOps{
		services: map[string]serviceInfo{
			"api-gateway":      {Status: "healthy", Version: "2.3.1"},
			"user-service":     {Status: "healthy", Version: "1.8.0"},
			"order-service":    {Status: "degraded", Version: "3.1.2"},
			"payment-service":  {Status: "healthy", Version: "2.0.0"},
			"database-primary": {Status: "healthy", Version: "14.2"},
		},
		logs: map[string][]string{
			"api-gateway": {
				"2024-01-15 10:23:45 INFO Request processed successfully",
				"2024-01-15 10:23:46 INFO Health check passed",
				"2024-01-15 10:23:47 WARN High latency detected: 450ms",
			},
			"order-service": {
				"2024-01-15 10:23:45 ERROR Connection timeout to database",
				"2024-01-15 10:23:46 WARN Retry attempt 1/3",
				"2024-01-15 10:23:47 ERROR Connection timeout to database",
				"2024-01-15 10:23:48 WARN Retry attempt 2/3",
				"2024-01-15 10:23:49 INFO Connection restored",
			},
		},
	}
}

func (d *DevOps) serviceNames() []string {
	names := make([]string, 0, len(d.services))
	for name := range d.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServiceStatusTool describes the get_service_status tool.
func ServiceStatusTool() mcp.Tool {
	return mcp.NewTool("get_service_status",
		mcp.WithDescription("Get the current status of a service, including health state and version."),
		mcp.WithString("service_name",
			mcp.Required(),
			mcp.Description("Name of the service to check (e.g. 'api-gateway', 'user-service')"),
		),
	)
}

// HandleServiceStatus returns the status of one service.
func (d *DevOps) HandleServiceStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("service_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc, ok := d.services[name]
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Service %q not found. Available services: %s",
			name, strings.Join(d.serviceNames(), ", "))), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Service: %s\nStatus: %s\nVersion: %s\nLast checked: %s",
		name, svc.Status, svc.Version, time.Now().Format(time.RFC3339))), nil
}

// RecentLogsTool describes the get_recent_logs tool.
func RecentLogsTool() mcp.Tool {
	return mcp.NewTool("get_recent_logs",
		mcp.WithDescription("Fetch recent logs for a service, optionally filtered by level."),
		mcp.WithString("service_name",
			mcp.Required(),
			mcp.Description("Name of the service to get logs from"),
		),
		mcp.WithString("log_level",
			mcp.Description("Filter by log level: INFO, WARN, ERROR or ALL"),
			mcp.Enum("INFO", "WARN", "ERROR", "ALL"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of log entries to return (default: 10)"),
		),
	)
}

// HandleRecentLogs returns filtered log lines for one service.
func (d *DevOps) HandleRecentLogs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("service_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	level := req.GetString("log_level", "ALL")
	limit := req.GetInt("limit", 10)

	lines, ok := d.logs[name]
	if !ok {
		var available []string
		for svc := range d.logs {
			available = append(available, svc)
		}
		sort.Strings(available)
		return mcp.NewToolResultText(fmt.Sprintf(
			"No logs available for service %q. Try: %s",
			name, strings.Join(available, ", "))), nil
	}

	var filtered []string
	for _, line := range lines {
		if level == "ALL" || strings.Contains(line, level) {
			filtered = append(filtered, line)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	if len(filtered) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No %s logs found for %s", level, name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Recent logs for %s:\n%s", name, strings.Join(filtered, "\n"))), nil
}

// MetricsTool describes the get_metrics tool.
func MetricsTool() mcp.Tool {
	return mcp.NewTool("get_metrics",
		mcp.WithDescription("Get current metrics for a service: CPU, memory, error rate and throughput."),
		mcp.WithString("service_name",
			mcp.Required(),
			mcp.Description("Name of the service to get metrics from"),
		),
	)
}

// HandleMetrics returns simulated metrics for one service. Degraded
// services report elevated error rates.
func (d *DevOps) HandleMetrics(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("service_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	svc, ok := d.services[name]
	if !ok {
		return mcp.NewToolResultText(fmt.Sprintf("Service %q not found.", name)), nil
	}

	cpu := 10 + rand.Float64()*70
	memory := 30 + rand.Float64()*40
	errorRate := rand.Float64() * 5
	if svc.Status != "healthy" {
		errorRate = 5 + rand.Float64()*20
	}
	rps := 100 + rand.Float64()*900

	return mcp.NewToolResultText(fmt.Sprintf(
		"Metrics for %s:\nCPU Usage: %.1f%%\nMemory Usage: %.1f%%\nError Rate: %.2f%%\nRequests/sec: %.0f\nTimestamp: %s",
		name, cpu, memory, errorRate, rps, time.Now().Format(time.RFC3339))), nil
}

// CreateIncidentTool describes the create_incident tool.
func CreateIncidentTool() mcp.Tool {
	return mcp.NewTool("create_incident",
		mcp.WithDescription("Create a new incident ticket."),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Brief title describing the incident"),
		),
		mcp.WithString("severity",
			mcp.Required(),
			mcp.Description("Severity level (SEV1=critical, SEV2=major, SEV3=minor, SEV4=low)"),
			mcp.Enum("SEV1", "SEV2", "SEV3", "SEV4"),
		),
		mcp.WithString("affected_services",
			mcp.Required(),
			mcp.Description("Comma-separated list of affected services"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("Detailed description of the incident"),
		),
	)
}

// HandleCreateIncident creates a simulated incident ticket.
func (d *DevOps) HandleCreateIncident(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	severity, err := req.RequireString("severity")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	affected, err := req.RequireString("affected_services")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	description, err := req.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	now := time.Now()
	incidentID := fmt.Sprintf("INC-%s-%04d", now.Format("20060102"), 1000+rand.Intn(9000))

	return mcp.NewToolResultText(fmt.Sprintf(
		`Incident created.
Incident ID: %s
Title: %s
Severity: %s
Affected Services: %s
Status: OPEN
Created: %s

Description:
%s

Next steps:
1. Page on-call engineer (if SEV1/SEV2)
2. Start investigation
3. Update status page`,
		incidentID, title, severity, affected, now.Format(time.RFC3339), description)), nil
}

// ListServicesTool describes the list_services tool.
func ListServicesTool() mcp.Tool {
	return mcp.NewTool("list_services",
		mcp.WithDescription("List all available services with their status and version."),
	)
}

// HandleListServices returns the service inventory.
func (d *DevOps) HandleListServices(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString("Available Services:\n")
	for _, name := range d.serviceNames() {
		svc := d.services[name]
		fmt.Fprintf(&b, "%-20s | %-10s | v%s\n", name, svc.Status, svc.Version)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}
