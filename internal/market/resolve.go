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
	"context"
	"log/slog"
	"strings"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/pkg/errors"
)

var usageInstructions = []string{
	"Execute the steps in the order given by execution_order.",
	"Supply private data kept locally to each step at execution time.",
	"Each item carries its steps, edge cases and domain knowledge.",
	"Follow each item's steps sequentially.",
}

// Resolve materialises a solution from an earlier estimate. It fails with
// SessionNotFoundError, SessionExpiredError or InvalidSolutionError.
func (s *Service) Resolve(ctx context.Context, sessionID, solutionID string) (*Purchase, error) {
	ctx, span := s.tracer.Start(ctx, "market.resolve")
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return nil, &errors.ValidationError{Field: "session_id", Message: "required"}
	}
	if strings.TrimSpace(solutionID) == "" {
		return nil, &errors.ValidationError{Field: "solution_id", Message: "required"}
	}
	logger := marketlog.WithSessionID(s.logger, sessionID)

	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			metrics.RecordResolve("not_found")
		} else {
			metrics.RecordResolve("error")
		}
		return nil, err
	}
	if sess.Expired(s.now()) {
		metrics.RecordResolve("expired")
		return nil, &errors.SessionExpiredError{SessionID: sessionID, ExpiredAt: sess.ExpiresAt}
	}
	rec, ok := sess.Solution(solutionID)
	if !ok || rec.Plan == nil {
		metrics.RecordResolve("invalid_solution")
		return nil, &errors.InvalidSolutionError{SessionID: sessionID, SolutionID: solutionID}
	}

	plan := rec.Plan
	purchase := &Purchase{
		PurchaseID:    "purchase_" + s.newID()[:8],
		SessionID:     sessionID,
		SolutionID:    solutionID,
		Timestamp:     s.now().UTC(),
		TokensCharged: plan.TotalCost(),
		NumItems:      len(plan.Nodes),
		ExecutionPlan: PurchasedPlan{
			ExecutionOrder: plan.ExecutionOrder,
			RootIDs:        plan.RootIDs,
		},
		Status:            "purchased",
		UsageInstructions: usageInstructions,
	}
	for _, n := range plan.OrderedNodes() {
		purchase.ExecutionPlan.Steps = append(purchase.ExecutionPlan.Steps, PurchasedStep{
			NodeID:        n.ID,
			Description:   n.Description,
			Dependencies:  n.Dependencies,
			Children:      n.Children,
			Item:          n.Item,
			TokensCharged: n.Item.TotalCost(),
		})
	}

	metrics.RecordResolve("ok")
	logger.Info("solution resolved",
		slog.String(marketlog.SolutionIDKey, solutionID),
		slog.String("purchase_id", purchase.PurchaseID),
		slog.Int("tokens_charged", purchase.TokensCharged))
	return purchase, nil
}
