// Copyright 2025 Tom Barlow
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

// Package mcpserver implements the mcp-server command.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/marketplace/internal/commands/shared"
	"github.com/tombee/marketplace/internal/daemon"
	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/mcp/server"
)

// NewCommand creates the mcp-server command
func NewCommand() *cobra.Command {
	var (
		estimatesPerMinute int
		callsPerMinute     int
	)

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start the marketplace MCP server",
		Long: `Start the marketplace MCP (Model Context Protocol) server on stdio.

The server lets AI assistants search and buy workflows directly.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "marketplace": {
        "command": "marketd",
        "args": ["mcp-server"]
      }
    }
  }

The server exposes these tools:
  - marketplace_estimate: rank solutions for a task
  - marketplace_resolve: purchase a solution from an estimate session
  - marketplace_catalog: list catalog items
  - marketplace_pricing: price one catalog item
  - marketplace_feedback: vote on an item

Logs go to stderr; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServer(cmd.Context(), estimatesPerMinute, callsPerMinute)
		},
	}

	cmd.Flags().IntVar(&estimatesPerMinute, "estimates-per-minute", 10, "Estimate tool rate limit")
	cmd.Flags().IntVar(&callsPerMinute, "calls-per-minute", 100, "Overall tool rate limit")
	return cmd
}

func runMCPServer(ctx context.Context, estimatesPerMinute, callsPerMinute int) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := daemon.NewLogger(cfg)
	slog.SetDefault(logger)

	c, err := daemon.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	versionStr, _, _ := shared.GetVersion()
	srv, err := server.NewServer(c.Service, server.ServerConfig{
		Name:               "marketplace",
		Version:            versionStr,
		EstimatesPerMinute: estimatesPerMinute,
		CallsPerMinute:     callsPerMinute,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("MCP server error", marketlog.Error(err))
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
