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

// Package market is the marketplace's request layer. Estimate sanitizes a
// task, plans and composes ranked solutions, prices them and records a
// session; Resolve turns a chosen solution into a purchasable plan.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/marketplace/internal/composer"
	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/sanitize"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

const directRationale = "direct match, no decomposition needed"

// PlanSearcher produces search plans; *planner.Planner implements it.
type PlanSearcher interface {
	Search(ctx context.Context, task string, topK int) (*planner.SearchPlan, error)
}

// PlanComposer turns search plans into execution plans;
// *composer.Composer implements it.
type PlanComposer interface {
	Compose(ctx context.Context, subtasks []catalog.Subtask, plan *planner.SearchPlan, k int) ([]*composer.ExecutionPlan, error)
}

// Deps are the service's collaborators. All are required except Logger.
type Deps struct {
	Planner   PlanSearcher
	Composer  PlanComposer
	Pricing   *pricing.Engine
	Sanitizer *sanitize.Sanitizer
	Store     store.Store
	Catalog   catalog.Reader
	Logger    *slog.Logger
}

// Service implements the marketplace operations.
type Service struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer

	now   func() time.Time
	newID func() string
}

// New creates a service.
func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Planner == nil:
		return nil, fmt.Errorf("market: planner is required")
	case deps.Composer == nil:
		return nil, fmt.Errorf("market: composer is required")
	case deps.Pricing == nil:
		return nil, fmt.Errorf("market: pricing engine is required")
	case deps.Sanitizer == nil:
		return nil, fmt.Errorf("market: sanitizer is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("market: store is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("market: catalog is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: marketlog.WithComponent(deps.Logger, "market"),
		tracer: otel.Tracer("github.com/tombee/marketplace/internal/market"),
		now:    time.Now,
		newID:  func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}, nil
}

// Config returns the service settings.
func (s *Service) Config() Config {
	return s.cfg
}

// Estimate plans, composes and prices solutions for req. Nothing is stored
// unless at least one solution is returned.
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (resp *EstimateResponse, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "market.estimate")
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("estimate.outcome", outcome))
		span.End()
		metrics.RecordEstimate(outcome, time.Since(start))
	}()

	if strings.TrimSpace(req.Query) == "" {
		return nil, &errors.ValidationError{Field: "query", Message: "must not be empty"}
	}
	minScore := s.cfg.MinAcceptableScore
	if req.MinScore != nil {
		minScore = *req.MinScore
		if math.IsNaN(minScore) || minScore < 0 || minScore > 1 {
			return nil, &errors.ValidationError{Field: "min_score", Message: "must be between 0 and 1"}
		}
	}
	topK := s.topK(req.TopK)

	clean := s.deps.Sanitizer.Sanitize(req.Query, req.Context)
	resp = &EstimateResponse{
		Query: QueryInfo{
			Sanitized:        clean.Text,
			Context:          clean.Public,
			PrivacyProtected: true,
			Summary:          clean.Summary,
		},
		Solutions: []Solution{},
	}
	s.logger.Debug("query sanitized",
		slog.Int("private_fields", len(clean.Private)),
		slog.Int("redacted_patterns", len(clean.Summary.Redactions)))

	plan, err := s.deps.Planner.Search(ctx, clean.Text, topK)
	if err != nil {
		return nil, errors.Wrap(err, "searching catalog")
	}
	resp.Search = SearchInfo{
		Type:              plan.Type,
		Score:             plan.Score,
		Coverage:          plan.Coverage,
		FinalDepth:        plan.FinalDepth,
		BestScoreObserved: plan.BestScoreObserved,
		MaxDepthReached:   plan.MaxDepthReached,
	}
	span.SetAttributes(
		attribute.String("plan.type", string(plan.Type)),
		attribute.Float64("plan.score", plan.Score),
		attribute.Int("plan.final_depth", plan.FinalDepth),
	)

	subtasks := plan.Subtasks
	if !plan.IsComposite() || len(subtasks) == 0 {
		subtasks = []catalog.Subtask{{
			Text:      clean.Text,
			Category:  catalog.GeneralCategory,
			Weight:    1.0,
			Rationale: directRationale,
		}}
	}
	resp.Decomposition = Decomposition{NumSubtasks: len(subtasks), Subtasks: subtasks}

	if req.RequireCloseMatch && plan.MaxDepthReached && plan.Score < minScore {
		outcome = "quality_control"
		resp.QualityControl = &QualityControl{
			Triggered:         true,
			Reason:            "no close match found after exhausting the maximum search depth",
			FinalDepth:        plan.FinalDepth,
			BestScore:         plan.Score,
			BestScoreObserved: plan.BestScoreObserved,
			MaxDepthReached:   plan.MaxDepthReached,
			MinRequiredScore:  minScore,
		}
		s.logger.Info("quality control withheld solutions",
			slog.Float64(marketlog.ScoreKey, plan.Score),
			slog.Int(marketlog.DepthKey, plan.FinalDepth))
		return resp, nil
	}

	plans, err := s.deps.Composer.Compose(ctx, subtasks, plan, topK)
	if err != nil {
		return nil, errors.Wrap(err, "composing solutions")
	}
	if len(plans) == 0 {
		outcome = "empty"
		return resp, nil
	}

	now := s.now()
	sess := &store.Session{
		ID:        "session_" + s.newID()[:16],
		Query:     clean.Text,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	for i, p := range plans {
		sol := summarise(i, p, len(subtasks))
		resp.Solutions = append(resp.Solutions, sol)
		sess.Solutions = append(sess.Solutions, store.SolutionRecord{SolutionID: sol.ID, Rank: sol.Rank, Plan: p})
	}
	if err := s.deps.Store.PutSession(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "saving session")
	}

	resp.NumSolutions = len(resp.Solutions)
	resp.SessionID = sess.ID
	resp.ExpiresAt = &sess.ExpiresAt
	s.logger.Info("estimate complete",
		slog.String(marketlog.SessionIDKey, sess.ID),
		slog.Int("solutions", resp.NumSolutions),
		slog.String("plan_type", string(plan.Type)),
		slog.Float64(marketlog.ScoreKey, plan.Score))
	return resp, nil
}

func (s *Service) topK(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.TopK
	case requested > s.cfg.MaxTopK:
		return s.cfg.MaxTopK
	}
	return requested
}

func summarise(i int, p *composer.ExecutionPlan, numSubtasks int) Solution {
	total := p.TotalCost()
	scratch := FromScratchEstimate(p)
	sol := Solution{
		ID:              fmt.Sprintf("sol_%d", i+1),
		Rank:            i + 1,
		ConfidenceScore: p.OverallConfidence,
		Pricing: SolutionPricing{
			TotalCostTokens:     total,
			DownloadCost:        p.TotalDownloadCost,
			ExecutionCost:       p.TotalExecutionCost,
			FromScratchEstimate: scratch,
			SavingsTokens:       scratch - total,
			SavingsPercentage:   pricing.SavingsPercentage(scratch, total),
		},
		Structure: Structure{
			NumItems:       len(p.Nodes),
			NumSubtasks:    numSubtasks,
			Coverage:       p.Coverage,
			ExecutionOrder: p.ExecutionOrder,
		},
		Strategy: p.Strategy,
	}
	for _, n := range p.OrderedNodes() {
		sol.Items = append(sol.Items, ItemSummary{
			NodeID:             n.ID,
			ItemID:             n.Item.ID,
			Title:              n.Item.Title,
			Category:           n.Item.EffectiveCategory(),
			SubtaskDescription: n.Description,
			TokenCost:          n.Item.TotalCost(),
		})
	}
	return sol
}

// FromScratchEstimate is the token cost of solving the plan's task without
// the catalog. Items that record a measured from-scratch cost use it;
// others are estimated at three to five times their cost, rising with
// step count.
func FromScratchEstimate(p *composer.ExecutionPlan) int {
	total := 0
	for _, n := range p.OrderedNodes() {
		if tc := n.Item.TokenComparison; tc != nil && tc.FromScratch > 0 {
			total += tc.FromScratch
			continue
		}
		multiplier := 3 + min(2, float64(len(n.Item.Steps))/10)
		total += int(float64(n.Item.TotalCost()) * multiplier)
	}
	return total
}
