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
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/internal/catalog/memory"
	"github.com/tombee/marketplace/internal/composer"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/sanitize"
	"github.com/tombee/marketplace/internal/store"
	memstore "github.com/tombee/marketplace/internal/store/memory"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

type fakePlanner struct {
	plan  *planner.SearchPlan
	err   error
	tasks []string
	topKs []int
}

func (f *fakePlanner) Search(ctx context.Context, task string, topK int) (*planner.SearchPlan, error) {
	f.tasks = append(f.tasks, task)
	f.topKs = append(f.topKs, topK)
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

type recordingComposer struct {
	next     PlanComposer
	subtasks []catalog.Subtask
	k        int
}

func (r *recordingComposer) Compose(ctx context.Context, subtasks []catalog.Subtask, plan *planner.SearchPlan, k int) ([]*composer.ExecutionPlan, error) {
	r.subtasks, r.k = subtasks, k
	return r.next.Compose(ctx, subtasks, plan, k)
}

var (
	itemW2 = catalog.Item{
		ID: "w2-gather", Title: "Gather W-2 forms", Category: catalog.CategoryDataGathering,
		DownloadCost: 100, ExecutionCost: 200, Rating: 4.5, SimilarityScore: 0.9,
		TokenComparison: &catalog.TokenComparison{WithWorkflow: 300, FromScratch: 2000},
	}
	itemFile = catalog.Item{
		ID: "ohio-file", Title: "File Ohio IT-1040", Category: catalog.CategoryFiling,
		DownloadCost: 150, ExecutionCost: 150, Rating: 4.0, SimilarityScore: 0.7,
		Steps: make([]catalog.Step, 10),
	}
	itemCalc = catalog.Item{
		ID: "ohio-calc", Title: "Compute Ohio tax", Category: catalog.CategoryComputation,
		DownloadCost: 50, ExecutionCost: 50, Rating: 3.5, SimilarityScore: 0.6,
	}
)

type harness struct {
	svc      *Service
	planner  *fakePlanner
	composer *recordingComposer
	store    *memstore.Store
	now      time.Time
}

func newHarness(t *testing.T, plan *planner.SearchPlan) *harness {
	t.Helper()
	h := &harness{
		planner:  &fakePlanner{plan: plan},
		composer: &recordingComposer{next: composer.New(composer.DefaultConfig(), nil, nil)},
		store:    memstore.New(100, 2*time.Hour),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := New(Deps{
		Planner:   h.planner,
		Composer:  h.composer,
		Pricing:   pricing.New(pricing.DefaultConfig()),
		Sanitizer: sanitize.New(),
		Store:     h.store,
		Catalog:   memory.New([]catalog.Item{itemW2, itemFile, itemCalc}),
	}, DefaultConfig())
	require.NoError(t, err)

	seq := 0
	svc.now = func() time.Time { return h.now }
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("%032x", seq)
	}
	h.svc = svc
	return h
}

func directPlan() *planner.SearchPlan {
	return &planner.SearchPlan{
		Type:              planner.PlanDirect,
		Items:             []catalog.Item{itemW2, itemFile, itemCalc},
		Score:             0.9,
		BestScoreObserved: 0.9,
	}
}

func compositePlan() *planner.SearchPlan {
	return &planner.SearchPlan{
		Type:  planner.PlanComposite,
		Items: []catalog.Item{itemW2, itemFile},
		Score: 0.8,
		Subtasks: []catalog.Subtask{
			{Text: "collect wage statements", Category: catalog.CategoryDataGathering, Weight: 0.4},
			{Text: "file the state return", Category: catalog.CategoryFiling, Weight: 0.6},
		},
		Mapping:           map[int]int{0: 0, 1: 1},
		Coverage:          "2/2",
		FinalDepth:        1,
		BestScoreObserved: 0.8,
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	require.Error(t, err)
}

func TestEstimate_Direct(t *testing.T) {
	h := newHarness(t, directPlan())

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{
		Query:   "file my Ohio taxes, SSN 123-45-6789",
		Context: map[string]any{"state": "OH", "ssn": "123-45-6789"},
	})
	require.NoError(t, err)

	assert.NotContains(t, h.planner.tasks[0], "123-45-6789")
	assert.Contains(t, resp.Query.Sanitized, "[REDACTED_SSN]")
	assert.NotContains(t, resp.Query.Context, "ssn")
	assert.True(t, resp.Query.PrivacyProtected)

	require.Len(t, h.composer.subtasks, 1)
	assert.Equal(t, catalog.GeneralCategory, h.composer.subtasks[0].Category)
	assert.Equal(t, 1.0, h.composer.subtasks[0].Weight)
	assert.Equal(t, 5, h.composer.k)
	assert.Equal(t, []int{5}, h.planner.topKs)
	assert.Equal(t, 1, resp.Decomposition.NumSubtasks)

	require.Equal(t, 3, resp.NumSolutions)
	first := resp.Solutions[0]
	assert.Equal(t, "sol_1", first.ID)
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, composer.StrategySingle, first.Strategy)
	assert.Equal(t, 300, first.Pricing.TotalCostTokens)
	assert.Equal(t, 2000, first.Pricing.FromScratchEstimate)
	assert.Equal(t, 1700, first.Pricing.SavingsTokens)
	assert.Equal(t, 85, first.Pricing.SavingsPercentage)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "w2-gather", first.Items[0].ItemID)

	assert.Regexp(t, `^session_[0-9a-f]{16}$`, resp.SessionID)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, h.now.Add(time.Hour), *resp.ExpiresAt)
	assert.Equal(t, 1, h.store.Len())
	assert.Nil(t, resp.QualityControl)
}

func TestEstimate_Composite(t *testing.T) {
	h := newHarness(t, compositePlan())

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "do my taxes", TopK: 50})
	require.NoError(t, err)

	assert.Equal(t, 20, h.composer.k)
	assert.Equal(t, 2, resp.Decomposition.NumSubtasks)
	assert.Equal(t, planner.PlanComposite, resp.Search.Type)
	assert.Equal(t, 1, resp.Search.FinalDepth)

	var decomposed *Solution
	for i := range resp.Solutions {
		if resp.Solutions[i].Strategy == composer.StrategyDecomposed {
			decomposed = &resp.Solutions[i]
		}
	}
	require.NotNil(t, decomposed)
	assert.Equal(t, 2, decomposed.Structure.NumItems)
	assert.Equal(t, "2/2", decomposed.Structure.Coverage)
	assert.Equal(t, 600, decomposed.Pricing.TotalCostTokens)
	assert.Equal(t, []string{"subtask_0", "subtask_1"}, decomposed.Structure.ExecutionOrder)
	assert.Equal(t, "collect wage statements", decomposed.Items[0].SubtaskDescription)
}

func TestEstimate_QualityControl(t *testing.T) {
	plan := directPlan()
	plan.Score = 0.3
	plan.MaxDepthReached = true
	plan.FinalDepth = 2
	h := newHarness(t, plan)

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "obscure task", RequireCloseMatch: true})
	require.NoError(t, err)

	require.NotNil(t, resp.QualityControl)
	assert.True(t, resp.QualityControl.Triggered)
	assert.Equal(t, 0.5, resp.QualityControl.MinRequiredScore)
	assert.Equal(t, 2, resp.QualityControl.FinalDepth)
	assert.Empty(t, resp.Solutions)
	assert.Empty(t, resp.SessionID)
	assert.Zero(t, h.store.Len())
	assert.Nil(t, h.composer.subtasks)
}

func TestEstimate_CallerMinimumScore(t *testing.T) {
	minScore := func(v float64) *float64 { return &v }

	plan := directPlan()
	plan.Score = 0.6
	plan.MaxDepthReached = true
	plan.FinalDepth = 2
	h := newHarness(t, plan)

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "obscure task", RequireCloseMatch: true})
	require.NoError(t, err)
	assert.Nil(t, resp.QualityControl, "0.6 clears the configured minimum")
	assert.NotEmpty(t, resp.Solutions)

	resp, err = h.svc.Estimate(context.Background(), EstimateRequest{
		Query:             "obscure task",
		RequireCloseMatch: true,
		MinScore:          minScore(0.7),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.QualityControl)
	assert.True(t, resp.QualityControl.Triggered)
	assert.Equal(t, 0.7, resp.QualityControl.MinRequiredScore)
	assert.Empty(t, resp.Solutions)
	assert.Empty(t, resp.SessionID)

	plan.Score = 0.3
	resp, err = h.svc.Estimate(context.Background(), EstimateRequest{
		Query:             "obscure task",
		RequireCloseMatch: true,
		MinScore:          minScore(0.2),
	})
	require.NoError(t, err)
	assert.Nil(t, resp.QualityControl)
	assert.NotEmpty(t, resp.Solutions)

	for _, bad := range []float64{-0.1, 1.5, math.NaN()} {
		_, err = h.svc.Estimate(context.Background(), EstimateRequest{Query: "obscure task", MinScore: minScore(bad)})
		var verr *errors.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "min_score", verr.Field)
	}
}

func TestEstimate_PassesTopKToPlanner(t *testing.T) {
	h := newHarness(t, directPlan())

	_, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "taxes", TopK: 2})
	require.NoError(t, err)
	_, err = h.svc.Estimate(context.Background(), EstimateRequest{Query: "taxes", TopK: 500})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 20}, h.planner.topKs)
	assert.Equal(t, 20, h.composer.k)
}

func TestEstimate_LowScoreWithoutStrictMode(t *testing.T) {
	plan := directPlan()
	plan.Score = 0.3
	plan.MaxDepthReached = true
	h := newHarness(t, plan)

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "obscure task"})
	require.NoError(t, err)
	assert.Nil(t, resp.QualityControl)
	assert.NotEmpty(t, resp.Solutions)
}

func TestEstimate_NoCandidates(t *testing.T) {
	h := newHarness(t, &planner.SearchPlan{Type: planner.PlanDirect})

	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "nothing matches"})
	require.NoError(t, err)
	assert.Empty(t, resp.Solutions)
	assert.Empty(t, resp.SessionID)
	assert.Nil(t, resp.ExpiresAt)
	assert.Zero(t, h.store.Len())
}

func TestEstimate_Errors(t *testing.T) {
	h := newHarness(t, directPlan())

	_, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "  "})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "query", verr.Field)

	h.planner.err = fmt.Errorf("catalog unavailable")
	_, err = h.svc.Estimate(context.Background(), EstimateRequest{Query: "taxes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog unavailable")
}

func estimate(t *testing.T, h *harness) *EstimateResponse {
	t.Helper()
	resp, err := h.svc.Estimate(context.Background(), EstimateRequest{Query: "do my taxes"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Solutions)
	return resp
}

func TestResolve(t *testing.T) {
	h := newHarness(t, compositePlan())
	resp := estimate(t, h)

	var id string
	for _, s := range resp.Solutions {
		if s.Strategy == composer.StrategyDecomposed {
			id = s.ID
		}
	}
	purchase, err := h.svc.Resolve(context.Background(), resp.SessionID, id)
	require.NoError(t, err)

	assert.Regexp(t, `^purchase_[0-9a-f]{8}$`, purchase.PurchaseID)
	assert.Equal(t, "purchased", purchase.Status)
	assert.Equal(t, 600, purchase.TokensCharged)
	assert.Equal(t, 2, purchase.NumItems)
	require.Len(t, purchase.ExecutionPlan.Steps, 2)
	assert.Equal(t, "subtask_0", purchase.ExecutionPlan.Steps[0].NodeID)
	assert.Equal(t, "w2-gather", purchase.ExecutionPlan.Steps[0].Item.ID)
	assert.Equal(t, []string{"subtask_0"}, purchase.ExecutionPlan.Steps[1].Dependencies)
	assert.NotEmpty(t, purchase.UsageInstructions)

	// Resolving is repeatable while the session lives.
	_, err = h.svc.Resolve(context.Background(), resp.SessionID, id)
	require.NoError(t, err)
}

func TestResolve_Failures(t *testing.T) {
	h := newHarness(t, directPlan())
	resp := estimate(t, h)
	ctx := context.Background()

	_, err := h.svc.Resolve(ctx, "session_missing", "sol_1")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)

	_, err = h.svc.Resolve(ctx, resp.SessionID, "sol_99")
	assert.ErrorIs(t, err, errors.ErrInvalidSolution)

	_, err = h.svc.Resolve(ctx, "", "sol_1")
	var verr *errors.ValidationError
	assert.ErrorAs(t, err, &verr)

	h.now = h.now.Add(time.Hour + time.Second)
	_, err = h.svc.Resolve(ctx, resp.SessionID, "sol_1")
	assert.ErrorIs(t, err, errors.ErrSessionExpired)
	var expired *errors.SessionExpiredError
	require.ErrorAs(t, err, &expired)
	assert.Equal(t, *resp.ExpiresAt, expired.ExpiredAt)
}

func TestFromScratchEstimate(t *testing.T) {
	plan := &composer.ExecutionPlan{
		Nodes: map[string]*composer.Node{
			"a": {ID: "a", Item: itemW2},
			"b": {ID: "b", Item: itemFile},
			"c": {ID: "c", Item: itemCalc},
		},
		ExecutionOrder: []string{"a", "b", "c"},
	}
	// 2000 measured, 300 * 4 for ten steps, 100 * 3 for none.
	assert.Equal(t, 2000+1200+300, FromScratchEstimate(plan))
}

func TestListItems(t *testing.T) {
	h := newHarness(t, directPlan())
	ctx := context.Background()

	all, err := h.svc.ListItems(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filing, err := h.svc.ListItems(ctx, catalog.CategoryFiling, 0)
	require.NoError(t, err)
	require.Len(t, filing, 1)
	assert.Equal(t, "ohio-file", filing[0].ItemID)

	one, err := h.svc.ListItems(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestItemPricing(t *testing.T) {
	h := newHarness(t, directPlan())

	p, err := h.svc.ItemPricing(context.Background(), "w2-gather")
	require.NoError(t, err)
	assert.Equal(t, 1700, p.TokensSaved)
	assert.Equal(t, 85, p.SavingsPercentage)
	assert.Equal(t, p.Pricing.FinalPrice, p.PriceTokens)
	assert.GreaterOrEqual(t, p.PriceTokens, 50)
	assert.LessOrEqual(t, p.PriceTokens, 2000)

	_, err = h.svc.ItemPricing(context.Background(), "missing")
	var nf *errors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestFeedback(t *testing.T) {
	h := newHarness(t, directPlan())
	ctx := context.Background()

	_, err := h.svc.Feedback(ctx, FeedbackRequest{ItemID: "w2-gather", Vote: "up"})
	require.NoError(t, err)
	res, err := h.svc.Feedback(ctx, FeedbackRequest{ItemID: "w2-gather", Vote: "DOWN", Comment: "missed a form"})
	require.NoError(t, err)
	assert.Equal(t, "recorded", res.Status)
	assert.Equal(t, int64(1), res.Up)
	assert.Equal(t, int64(1), res.Down)
	assert.Equal(t, string(store.VoteDown), res.Vote)

	_, err = h.svc.Feedback(ctx, FeedbackRequest{ItemID: "w2-gather", Vote: "sideways"})
	var verr *errors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "vote", verr.Field)

	_, err = h.svc.Feedback(ctx, FeedbackRequest{ItemID: "missing", Vote: "up"})
	var nf *errors.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
