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
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// ServerVersion is reported during the MCP handshake.
const ServerVersion = "1.0.0"

// NewServer creates the devops-tools MCP server with all tools
// registered.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		"devops-tools",
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	d := NewDevOps()
	s.AddTool(ServiceStatusTool(), d.HandleServiceStatus)
	s.AddTool(RecentLogsTool(), d.HandleRecentLogs)
	s.AddTool(MetricsTool(), d.HandleMetrics)
	s.AddTool(CreateIncidentTool(), d.HandleCreateIncident)
	s.AddTool(ListServicesTool(), d.HandleListServices)
	return s
}

// ServeStdio runs the MCP server over stdio until EOF.
func ServeStdio(s *server.MCPServer) error {
	slog.Info("Starting MCP server (stdio)")
	return server.ServeStdio(s)
}

// ServeHTTP runs the MCP server with the streamable HTTP transport.
func ServeHTTP(s *server.MCPServer, addr string) error {
	slog.Info("Starting MCP server (streamable HTTP)", "addr", addr, "path", "/mcp")
	return server.NewStreamableHTTPServer(s).Start(addr)
}
