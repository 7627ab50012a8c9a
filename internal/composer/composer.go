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

// Package composer turns search plans into ranked execution plans: it
// assigns catalog items to nodes, infers dependencies between them,
// repairs any cycles, and accounts for cost.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/internal/planner"
	"github.com/tombee/marketplace/pkg/catalog"
)

const (
	wholeTaskDescription = "Complete workflow"
	variantDescription   = "Main workflow"
)

// Composer builds ExecutionPlans.
type Composer struct {
	cfg      Config
	prec     precedenceTable
	embedder catalog.Embedder
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a composer. embedder may be nil, in which case subtask
// assignment uses search scores only.
func New(cfg Config, embedder catalog.Embedder, logger *slog.Logger) *Composer {
	return &Composer{
		cfg:      cfg,
		prec:     newPrecedenceTable(cfg.Precedence),
		embedder: embedder,
		logger:   marketlog.WithComponent(logger, "composer"),
		tracer:   otel.Tracer("github.com/tombee/marketplace/internal/composer"),
	}
}

// builder produces one candidate, or nil when the strategy does not apply.
type builder func() *ExecutionPlan

// Compose returns up to k ranked, acyclic plans for the search plan. For
// a composite plan the plan's own subtasks are used; subtasks only guide
// per-subtask assignment of a direct pool. k <= 0 selects the configured
// default.
func (c *Composer) Compose(ctx context.Context, subtasks []catalog.Subtask, plan *planner.SearchPlan, k int) ([]*ExecutionPlan, error) {
	ctx, span := c.tracer.Start(ctx, "composer.compose")
	defer span.End()

	if k <= 0 {
		k = c.cfg.TopK
	}
	if plan == nil || len(plan.Items) == 0 {
		return nil, nil
	}
	span.SetAttributes(
		attribute.String("plan.type", string(plan.Type)),
		attribute.Int("plan.items", len(plan.Items)),
	)

	var builders []builder
	if plan.IsComposite() {
		builders = c.compositeBuilders(plan)
	} else {
		vectors, err := c.subtaskVectors(ctx, subtasks, plan.Items)
		if err != nil {
			return nil, err
		}
		builders = c.directBuilders(subtasks, plan.Items, vectors, k)
	}

	results := make([]*ExecutionPlan, len(builders))
	var wg sync.WaitGroup
	for i, b := range builders {
		wg.Add(1)
		go func(i int, b builder) {
			defer wg.Done()
			results[i] = b()
		}(i, b)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plans := make([]*ExecutionPlan, 0, len(results))
	for _, p := range results {
		if p != nil {
			plans = append(plans, p)
		}
	}
	plans = rank(plans, k)
	span.SetAttributes(attribute.Int("composer.plans", len(plans)))
	c.logger.Debug("composed execution plans",
		slog.Int("candidates", len(results)),
		slog.Int("returned", len(plans)))
	return plans, nil
}

func (c *Composer) compositeBuilders(plan *planner.SearchPlan) []builder {
	builders := []builder{func() *ExecutionPlan {
		var nodes []*Node
		for _, i := range plan.MatchedSubtasks() {
			item, _ := plan.ItemFor(i)
			st := plan.Subtasks[i]
			nodes = append(nodes, &Node{
				ID:          nodeID(i),
				Description: st.Text,
				Category:    st.EffectiveCategory(),
				Item:        item,
				Weight:      st.Weight,
				Confidence:  clamp01(item.SimilarityScore),
			})
		}
		if len(nodes) == 0 {
			return nil
		}
		return c.build(nodes, plan.Coverage, StrategyDecomposed)
	}}
	if len(plan.Items) > 1 {
		builders = append(builders, func() *ExecutionPlan {
			return c.wholeTask(plan.Items[0], wholeTaskDescription, StrategySingle)
		})
	}
	return builders
}

func (c *Composer) directBuilders(subtasks []catalog.Subtask, pool []catalog.Item, vectors [][]float32, k int) []builder {
	builders := []builder{func() *ExecutionPlan {
		return c.wholeTask(pool[0], wholeTaskDescription, StrategySingle)
	}}
	if len(subtasks) > 0 && len(pool) >= len(subtasks) {
		builders = append(builders, func() *ExecutionPlan {
			return c.perSubtask(subtasks, pool, vectors)
		})
	}
	for i := 2; i < min(k, len(pool)); i++ {
		item := pool[i]
		builders = append(builders, func() *ExecutionPlan {
			return c.wholeTask(item, variantDescription, StrategyVariant)
		})
	}
	return builders
}

func (c *Composer) wholeTask(item catalog.Item, description string, strategy Strategy) *ExecutionPlan {
	node := &Node{
		ID:          nodeID(0),
		Description: description,
		Category:    item.EffectiveCategory(),
		Item:        item,
		Weight:      1.0,
		Confidence:  clamp01(item.SimilarityScore),
	}
	return c.build([]*Node{node}, "1/1", strategy)
}

// perSubtask gives each subtask the pool item that matches it best. The
// first item with a strictly greater score wins.
func (c *Composer) perSubtask(subtasks []catalog.Subtask, pool []catalog.Item, vectors [][]float32) *ExecutionPlan {
	var nodes []*Node
	for i, st := range subtasks {
		best, bestScore := -1, 0.0
		for j, item := range pool {
			s := item.SimilarityScore
			if vectors != nil && len(vectors[i]) > 0 && len(item.Embedding) > 0 {
				s = catalog.Cosine(vectors[i], item.Embedding)
			}
			if item.EffectiveCategory() == st.EffectiveCategory() {
				s *= c.cfg.CategoryBoost
			}
			if best < 0 || s > bestScore {
				best, bestScore = j, s
			}
		}
		item := pool[best]
		nodes = append(nodes, &Node{
			ID:          nodeID(i),
			Description: st.Text,
			Category:    st.EffectiveCategory(),
			Item:        item,
			Weight:      st.Weight,
			Confidence:  clamp01(item.SimilarityScore),
		})
	}
	return c.build(nodes, fmt.Sprintf("%d/%d", len(nodes), len(subtasks)), StrategyPerSubtask)
}

// subtaskVectors embeds subtask texts when an embedder is configured and
// the pool carries embeddings. Embedding failures fall back to search
// scores.
func (c *Composer) subtaskVectors(ctx context.Context, subtasks []catalog.Subtask, pool []catalog.Item) ([][]float32, error) {
	if c.embedder == nil || len(subtasks) == 0 || len(pool) < len(subtasks) || !anyEmbedded(pool) {
		return nil, nil
	}
	texts := make([]string, len(subtasks))
	for i, st := range subtasks {
		texts[i] = st.Text
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("subtask embedding failed, using search scores", marketlog.Error(err))
		return nil, nil
	}
	if len(vectors) != len(subtasks) {
		c.logger.Warn("subtask embedding count mismatch, using search scores",
			slog.Int("want", len(subtasks)), slog.Int("got", len(vectors)))
		return nil, nil
	}
	return vectors, nil
}

// build infers dependencies, orders the nodes and fills in totals.
func (c *Composer) build(nodes []*Node, coverage string, strategy Strategy) *ExecutionPlan {
	g := newGraph(nodes)
	g.inferDependencies(c.prec, c.cfg.WeightDominance)
	order, res := g.resolve(c.cfg.WeaknessBias, c.cfg.MaxRepairRounds)
	for range res.removed {
		metrics.RecordCycleRepair("edge_removed")
	}
	if res.forced {
		metrics.RecordCycleRepair("forced")
		c.logger.Warn("cycle repair fell back to weight order", slog.String("strategy", string(strategy)))
	}

	plan := g.apply(order)
	plan.Coverage = coverage
	plan.Strategy = strategy
	plan.computeTotals()
	return plan
}

func anyEmbedded(items []catalog.Item) bool {
	for _, it := range items {
		if len(it.Embedding) > 0 {
			return true
		}
	}
	return false
}

func nodeID(i int) string {
	return fmt.Sprintf("subtask_%d", i)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
