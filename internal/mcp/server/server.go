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

// Package server exposes the marketplace to MCP clients as tools over stdio.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/market"
)

// Marketplace is the service behind the tools; *market.Service implements it.
type Marketplace interface {
	Estimate(ctx context.Context, req market.EstimateRequest) (*market.EstimateResponse, error)
	Resolve(ctx context.Context, sessionID, solutionID string) (*market.Purchase, error)
	ListItems(ctx context.Context, category string, limit int) ([]market.ItemListing, error)
	ItemPricing(ctx context.Context, id string) (*market.ItemPricing, error)
	Feedback(ctx context.Context, req market.FeedbackRequest) (*market.FeedbackResult, error)
}

// Server wraps the MCP server and provides marketplace tools
type Server struct {
	mcpServer   *server.MCPServer
	market      Marketplace
	version     string
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// ServerConfig configures the MCP server
type ServerConfig struct {
	// Name is the server name (default: "marketplace")
	Name string

	// Version is the marketplace version
	Version string

	// EstimatesPerMinute and CallsPerMinute bound tool usage.
	// Defaults: 10 and 100.
	EstimatesPerMinute int
	CallsPerMinute     int
}

// NewServer creates a new MCP server instance. The logger must not write
// to stdout, which carries the protocol.
func NewServer(m Marketplace, config ServerConfig, logger *slog.Logger) (*Server, error) {
	if m == nil {
		return nil, fmt.Errorf("marketplace is required")
	}
	if config.Name == "" {
		config.Name = "marketplace"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.EstimatesPerMinute <= 0 {
		config.EstimatesPerMinute = 10
	}
	if config.CallsPerMinute <= 0 {
		config.CallsPerMinute = 100
	}

	s := &Server{
		mcpServer:   server.NewMCPServer(config.Name, config.Version),
		market:      m,
		version:     config.Version,
		rateLimiter: NewRateLimiter(config.EstimatesPerMinute, config.CallsPerMinute),
		logger:      marketlog.WithComponent(logger, "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server using stdio transport
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting marketplace MCP server", slog.String("version", s.version))

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// Helper function to create error response
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// jsonResponse renders v as indented JSON text content.
func jsonResponse(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(string(out)),
		},
	}
}
