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

// Command mcp-devops serves the DevOps toolset over the Model Context
// Protocol.
//
// Usage:
//
//	mcp-devops              # streamable HTTP at :8000/mcp
//	mcp-devops --stdio      # stdio, for subprocess spawning
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/postmortem/pkg/logger"
	"github.com/kadirpekel/postmortem/pkg/tools"
)

// CLI defines the command-line interface.
type CLI struct {
	Stdio    bool   `help:"Use stdio transport instead of HTTP."`
	Addr     string `help:"Listen address for HTTP transport." default:":8000"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("mcp-devops"),
		kong.Description("DevOps tools MCP server"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	// Stdio transport owns stdout, so logs always go to stderr.
	logger.Init(level, os.Stderr, "simple")

	s := tools.NewServer()
	if cli.Stdio {
		err = tools.ServeStdio(s)
	} else {
		err = tools.ServeHTTP(s, cli.Addr)
	}
	ctx.FatalIfErrorf(err)
}
