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

package server

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/market"
	"github.com/tombee/marketplace/pkg/errors"
)

// registerTools registers all marketplace tools with the MCP server
func (s *Server) registerTools() {
	// Tool: marketplace_estimate
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "marketplace_estimate",
		Description: "Find and price reusable workflows for a task. Personal data in the query is redacted before search. Returns ranked solutions and a session_id for marketplace_resolve.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The task to solve, in plain language",
				},
				"context": map[string]interface{}{
					"type":        "object",
					"description": "Optional structured context; sensitive fields stay local",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of solutions to return (default: 5)",
				},
				"require_close_match": map[string]interface{}{
					"type":        "boolean",
					"description": "Return no solutions unless a close match was found",
					"default":     false,
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum match score for require_close_match, 0 to 1 (default: server setting)",
				},
			},
			Required: []string{"query"},
		},
	}, s.handleEstimate)

	// Tool: marketplace_resolve
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "marketplace_resolve",
		Description: "Purchase a solution from an earlier estimate. Returns the full execution plan with workflow steps in order.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "The session_id returned by marketplace_estimate",
				},
				"solution_id": map[string]interface{}{
					"type":        "string",
					"description": "The chosen solution, e.g. sol_1",
				},
			},
			Required: []string{"session_id", "solution_id"},
		},
	}, s.handleResolve)

	// Tool: marketplace_catalog
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "marketplace_catalog",
		Description: "List catalog workflows, optionally filtered by category.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Filter by category (e.g., 'data_gathering', 'filing')",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum items to return (default: 20)",
				},
			},
		},
	}, s.handleCatalog)

	// Tool: marketplace_pricing
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "marketplace_pricing",
		Description: "Explain the value-based price of one catalog workflow.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"item_id": map[string]interface{}{
					"type":        "string",
					"description": "Catalog item ID",
				},
			},
			Required: []string{"item_id"},
		},
	}, s.handlePricing)

	// Tool: marketplace_feedback
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "marketplace_feedback",
		Description: "Vote a catalog workflow up or down after using it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"item_id": map[string]interface{}{
					"type":        "string",
					"description": "Catalog item ID",
				},
				"vote": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"up", "down"},
					"description": "up or down",
				},
				"comment": map[string]interface{}{
					"type":        "string",
					"description": "Optional comment",
				},
			},
			Required: []string{"item_id", "vote"},
		},
	}, s.handleFeedback)
}

func (s *Server) handleEstimate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() || !s.rateLimiter.AllowEstimate() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	req := market.EstimateRequest{
		Query:             query,
		TopK:              request.GetInt("top_k", 0),
		RequireCloseMatch: request.GetBool("require_close_match", false),
	}
	if args := request.GetArguments(); args != nil {
		if c, ok := args["context"].(map[string]interface{}); ok {
			req.Context = c
		}
		if v, ok := args["min_score"].(float64); ok {
			req.MinScore = &v
		}
	}

	resp, err := s.market.Estimate(ctx, req)
	if err != nil {
		return s.failure("marketplace_estimate", err), nil
	}
	return jsonResponse(resp), nil
}

func (s *Server) handleResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	solutionID, err := request.RequireString("solution_id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	purchase, err := s.market.Resolve(ctx, sessionID, solutionID)
	if err != nil {
		return s.failure("marketplace_resolve", err), nil
	}
	return jsonResponse(purchase), nil
}

func (s *Server) handleCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	items, err := s.market.ListItems(ctx, request.GetString("category", ""), request.GetInt("limit", 0))
	if err != nil {
		return s.failure("marketplace_catalog", err), nil
	}
	return jsonResponse(map[string]interface{}{
		"items": items,
		"count": len(items),
	}), nil
}

func (s *Server) handlePricing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	id, err := request.RequireString("item_id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	p, err := s.market.ItemPricing(ctx, id)
	if err != nil {
		return s.failure("marketplace_pricing", err), nil
	}
	return jsonResponse(p), nil
}

func (s *Server) handleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.rateLimiter.AllowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	vote, err := request.RequireString("vote")
	if err != nil {
		return errorResponse(err.Error()), nil
	}
	res, err := s.market.Feedback(ctx, market.FeedbackRequest{
		ItemID:  itemID,
		Vote:    vote,
		Comment: request.GetString("comment", ""),
	})
	if err != nil {
		return s.failure("marketplace_feedback", err), nil
	}
	return jsonResponse(res), nil
}

// failure turns a service error into a tool error. Classified errors are
// shown to the caller; anything else is logged and reported generically.
func (s *Server) failure(tool string, err error) *mcp.CallToolResult {
	if errors.Classify(err) == "internal" {
		s.logger.Error("tool failed", slog.String("tool", tool), marketlog.Error(err))
		return errorResponse("Internal error. See server logs for details.")
	}
	return errorResponse(err.Error())
}
