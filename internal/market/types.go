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

package market

import (
	"time"

	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/sanitize"
	"github.com/tombee/marketplace/pkg/catalog"
)

// EstimateRequest asks for priced solutions to a task.
type EstimateRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
	TopK    int            `json:"top_k,omitempty"`

	// RequireCloseMatch returns no solutions when the search exhausted its
	// depth without reaching the minimum acceptable score.
	RequireCloseMatch bool `json:"require_close_match,omitempty"`

	// MinScore overrides the configured strict-mode threshold. It must be
	// in [0,1].
	MinScore *float64 `json:"min_score,omitempty"`
}

// EstimateResponse lists ranked solutions without their item payloads.
type EstimateResponse struct {
	Query          QueryInfo       `json:"query"`
	Decomposition  Decomposition   `json:"decomposition"`
	Search         SearchInfo      `json:"search"`
	Solutions      []Solution      `json:"solutions"`
	NumSolutions   int             `json:"num_solutions"`
	SessionID      string          `json:"session_id,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	QualityControl *QualityControl `json:"quality_control,omitempty"`
}

// QueryInfo is the sanitized form of the request.
type QueryInfo struct {
	Sanitized        string           `json:"sanitized"`
	Context          map[string]any   `json:"context,omitempty"`
	PrivacyProtected bool             `json:"privacy_protected"`
	Summary          sanitize.Summary `json:"sanitization"`
}

// Decomposition lists the subtasks the solutions were built from.
type Decomposition struct {
	NumSubtasks int               `json:"num_subtasks"`
	Subtasks    []catalog.Subtask `json:"subtasks"`
}

// SearchInfo carries the planner's diagnostics.
type SearchInfo struct {
	Type              planner.PlanType `json:"type"`
	Score             float64          `json:"score"`
	Coverage          string           `json:"coverage,omitempty"`
	FinalDepth        int              `json:"final_depth"`
	BestScoreObserved float64          `json:"best_score_observed"`
	MaxDepthReached   bool             `json:"max_depth_reached"`
}

// QualityControl explains why strict mode withheld solutions.
type QualityControl struct {
	Triggered         bool    `json:"triggered"`
	Reason            string  `json:"reason"`
	FinalDepth        int     `json:"final_depth"`
	BestScore         float64 `json:"best_score"`
	BestScoreObserved float64 `json:"best_score_observed"`
	MaxDepthReached   bool    `json:"max_depth_reached"`
	MinRequiredScore  float64 `json:"min_required_score"`
}

// Solution is the public summary of one ranked plan.
type Solution struct {
	ID              string            `json:"solution_id"`
	Rank            int               `json:"rank"`
	ConfidenceScore float64           `json:"confidence_score"`
	Pricing         SolutionPricing   `json:"pricing"`
	Structure       Structure         `json:"structure"`
	Items           []ItemSummary     `json:"items_summary"`
	Strategy        composer.Strategy `json:"strategy"`
}

// SolutionPricing compares a plan's cost with solving from scratch.
type SolutionPricing struct {
	TotalCostTokens     int `json:"total_cost_tokens"`
	DownloadCost        int `json:"download_cost"`
	ExecutionCost       int `json:"execution_cost"`
	FromScratchEstimate int `json:"from_scratch_estimate"`
	SavingsTokens       int `json:"savings_tokens"`
	SavingsPercentage   int `json:"savings_percentage"`
}

// Structure summarises a plan's shape.
type Structure struct {
	NumItems       int      `json:"num_items"`
	NumSubtasks    int      `json:"num_subtasks"`
	Coverage       string   `json:"coverage"`
	ExecutionOrder []string `json:"execution_order"`
}

// ItemSummary names an item used by a plan node.
type ItemSummary struct {
	NodeID             string `json:"node_id"`
	ItemID             string `json:"item_id"`
	Title              string `json:"title"`
	Category           string `json:"category"`
	SubtaskDescription string `json:"subtask_description"`
	TokenCost          int    `json:"token_cost"`
}

// Purchase is the receipt and materialised plan returned by Resolve.
type Purchase struct {
	PurchaseID        string        `json:"purchase_id"`
	SessionID         string        `json:"session_id"`
	SolutionID        string        `json:"solution_id"`
	Timestamp         time.Time     `json:"timestamp"`
	TokensCharged     int           `json:"tokens_charged"`
	NumItems          int           `json:"num_items"`
	ExecutionPlan     PurchasedPlan `json:"execution_plan"`
	Status            string        `json:"status"`
	UsageInstructions []string      `json:"usage_instructions"`
}

// PurchasedPlan is a plan with full item payloads in execution order.
type PurchasedPlan struct {
	ExecutionOrder []string        `json:"execution_order"`
	RootIDs        []string        `json:"root_ids"`
	Steps          []PurchasedStep `json:"steps"`
}

// PurchasedStep is one node with its full item.
type PurchasedStep struct {
	NodeID        string       `json:"node_id"`
	Description   string       `json:"description"`
	Dependencies  []string     `json:"dependencies"`
	Children      []string     `json:"children"`
	Item          catalog.Item `json:"item"`
	TokensCharged int          `json:"tokens_charged"`
}

// ItemListing is a catalog entry without steps or embeddings.
type ItemListing struct {
	ItemID        string   `json:"item_id"`
	Title         string   `json:"title"`
	Category      string   `json:"category"`
	Description   string   `json:"description,omitempty"`
	Rating        float64  `json:"rating"`
	UsageCount    int      `json:"usage_count"`
	DownloadCost  int      `json:"download_cost"`
	ExecutionCost int      `json:"execution_cost"`
	PriceTokens   int      `json:"price_tokens,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ItemPricing is the value-based price of a catalog item.
type ItemPricing struct {
	ItemID            string            `json:"item_id"`
	Title             string            `json:"title"`
	PriceTokens       int               `json:"price_tokens"`
	TokensSaved       int               `json:"tokens_saved"`
	SavingsPercentage int               `json:"savings_percentage"`
	ROIPercentage     float64           `json:"roi_percentage"`
	Pricing           pricing.Breakdown `json:"pricing"`
	AvgTokensWithout  int               `json:"avg_tokens_without"`
	AvgTokensWith     int               `json:"avg_tokens_with"`
	Rating            float64           `json:"rating"`
	UsageCount        int               `json:"usage_count"`
}

// FeedbackRequest is a vote on an item.
type FeedbackRequest struct {
	ItemID  string `json:"item_id"`
	Vote    string `json:"vote"`
	Comment string `json:"comment,omitempty"`
}

// FeedbackResult reports the running totals after a vote.
type FeedbackResult struct {
	Status   string  `json:"status"`
	ItemID   string  `json:"item_id"`
	Vote     string  `json:"vote"`
	Up       int64   `json:"up_votes"`
	Down     int64   `json:"down_votes"`
	Approval float64 `json:"approval"`
}
