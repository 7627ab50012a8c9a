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

// Package planner implements recursive query decomposition: it decides
// whether one catalog item satisfies a task or whether the task must be
// split into weighted subtasks, matching each independently and refining
// the weakest match through bounded recursion.
package planner

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/internal/oracle"
	"github.com/tombee/marketplace/pkg/catalog"
)

const fallbackRationale = "decomposition unavailable, searching the whole task"

// Planner produces SearchPlans.
type Planner struct {
	searcher catalog.Searcher
	oracle   oracle.TaskOracle
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a planner. Zero-valued config fields are not defaulted;
// start from DefaultConfig.
func New(searcher catalog.Searcher, o oracle.TaskOracle, cfg Config, logger *slog.Logger) *Planner {
	return &Planner{
		searcher: searcher,
		oracle:   o,
		cfg:      cfg,
		logger:   marketlog.WithComponent(logger, "planner"),
		tracer:   otel.Tracer("github.com/tombee/marketplace/internal/planner"),
	}
}

// Config returns the planner's constants.
func (p *Planner) Config() Config {
	return p.cfg
}

// Search returns the best plan for task. A direct plan keeps at most topK
// candidates; topK <= 0 or above BroadTopK keeps BroadTopK. It fails only
// when the catalog search fails or ctx is done; oracle failures degrade to
// fallbacks.
func (p *Planner) Search(ctx context.Context, task string, topK int) (*SearchPlan, error) {
	plan, err := p.search(ctx, task, 0)
	if err != nil {
		return nil, err
	}
	if plan.Type == PlanDirect && topK > 0 && len(plan.Items) > topK {
		plan.Items = plan.Items[:topK]
	}
	plan.MaxDepthReached = plan.FinalDepth >= p.cfg.MaxDepth
	metrics.RecordSearchPlan(string(plan.Type))
	return plan, nil
}

// match is the outcome for one subtask.
type match struct {
	item    catalog.Item
	score   float64
	matched bool
}

func (p *Planner) search(ctx context.Context, task string, depth int) (*SearchPlan, error) {
	ctx, span := p.tracer.Start(ctx, "planner.search", trace.WithAttributes(attribute.Int("planner.depth", depth)))
	defer span.End()
	logger := p.logger.With(marketlog.DepthKey, depth)

	candidates, err := p.searcher.Search(ctx, task, catalog.Filters{}, p.cfg.BroadTopK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(candidates) == 0 {
		logger.Debug("no candidates")
		span.SetAttributes(attribute.String("planner.plan_type", string(PlanDirect)))
		return &SearchPlan{Type: PlanDirect, FinalDepth: depth}, nil
	}
	candidates = append([]catalog.Item(nil), candidates...)
	sortBySimilarity(candidates)
	if len(candidates) > p.cfg.BroadTopK {
		candidates = candidates[:p.cfg.BroadTopK]
	}

	directScore, err := p.score(ctx, task, candidates[0])
	if err != nil {
		return nil, err
	}
	direct := &SearchPlan{
		Type:              PlanDirect,
		Items:             candidates,
		Score:             directScore,
		FinalDepth:        depth,
		BestScoreObserved: directScore,
	}
	if directScore >= p.cfg.TauGood {
		logger.Debug("direct match accepted", marketlog.ItemIDKey, candidates[0].ID, marketlog.ScoreKey, directScore)
		span.SetAttributes(attribute.String("planner.plan_type", string(PlanDirect)), attribute.Float64("planner.score", directScore))
		return direct, nil
	}

	subtasks := p.decompose(ctx, task, logger)
	matches, err := p.matchSubtasks(ctx, subtasks)
	if err != nil {
		return nil, err
	}
	composite := buildComposite(subtasks, matches, depth)
	composite.BestScoreObserved = max(directScore, composite.Score)
	logger.Debug("composite scored",
		marketlog.ScoreKey, composite.Score,
		"direct_score", directScore,
		"coverage", composite.Coverage,
	)

	if composite.Score-directScore >= p.cfg.Epsilon {
		span.SetAttributes(attribute.String("planner.plan_type", string(PlanComposite)), attribute.Float64("planner.score", composite.Score))
		return composite, nil
	}
	if composite.Score < p.cfg.TauGood && depth < p.cfg.MaxDepth {
		if err := p.refine(ctx, composite, subtasks, matches, depth, logger); err != nil {
			return nil, err
		}
	}

	best := direct
	if composite.Score > directScore {
		best = composite
	}
	best.FinalDepth = max(direct.FinalDepth, composite.FinalDepth)
	best.BestScoreObserved = max(direct.BestScoreObserved, composite.BestScoreObserved)
	span.SetAttributes(attribute.String("planner.plan_type", string(best.Type)), attribute.Float64("planner.score", best.Score))
	return best, nil
}

// refine recursively searches the worst-matched subtask and substitutes the
// recursive result's first item when it scores higher for that subtask.
// composite and matches are updated in place.
func (p *Planner) refine(ctx context.Context, composite *SearchPlan, subtasks []catalog.Subtask, matches []match, depth int, logger *slog.Logger) error {
	worst := -1
	for i, m := range matches {
		if m.matched && (worst < 0 || m.score < matches[worst].score) {
			worst = i
		}
	}
	if worst < 0 {
		return nil
	}

	metrics.RecordRecursion()
	logger.Debug("refining weakest subtask", "subtask", worst, marketlog.ScoreKey, matches[worst].score)

	sub, err := p.search(ctx, subtasks[worst].Text, depth+1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("recursive search failed, keeping current match", marketlog.Error(err))
		return nil
	}
	composite.FinalDepth = max(composite.FinalDepth, sub.FinalDepth)
	composite.BestScoreObserved = max(composite.BestScoreObserved, sub.BestScoreObserved)
	if len(sub.Items) == 0 {
		return nil
	}

	candidate := sub.Items[0]
	score, err := p.score(ctx, subtasks[worst].Text, candidate)
	if err != nil {
		return err
	}
	if score <= matches[worst].score {
		return nil
	}

	logger.Debug("substituted refined match", marketlog.ItemIDKey, candidate.ID, marketlog.ScoreKey, score)
	matches[worst] = match{item: candidate, score: score, matched: true}
	rebuilt := buildComposite(subtasks, matches, composite.FinalDepth)
	rebuilt.BestScoreObserved = max(composite.BestScoreObserved, rebuilt.Score)
	*composite = *rebuilt
	return nil
}

// decompose asks the oracle for subtasks and normalizes them, falling back
// to the whole task when none are usable.
func (p *Planner) decompose(ctx context.Context, task string, logger *slog.Logger) []catalog.Subtask {
	raw, err := p.oracle.Decompose(ctx, task, p.cfg.MinSubtasks, p.cfg.MaxSubtasks)
	if err != nil {
		logger.Warn("decompose failed, using whole task", marketlog.Error(err))
	}
	subtasks := catalog.NormalizeSubtasks(raw, p.cfg.MaxSubtasks)
	if err == nil && len(subtasks) == 0 && len(raw) > 0 {
		logger.Warn("decompose returned no usable subtasks, using whole task", "returned", len(raw))
	}
	if err != nil || len(subtasks) == 0 {
		return []catalog.Subtask{{
			Text:      task,
			Category:  catalog.GeneralCategory,
			Weight:    1.0,
			Rationale: fallbackRationale,
		}}
	}
	return subtasks
}

// score asks the oracle, falling back to rating/5 on failure. Only
// cancellation is returned as an error.
func (p *Planner) score(ctx context.Context, text string, item catalog.Item) (float64, error) {
	s, err := p.oracle.Score(ctx, text, item)
	if err == nil {
		return clamp01(s), nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	p.logger.Warn("score failed, using rating", marketlog.ItemIDKey, item.ID, marketlog.Error(err))
	return clamp01(item.Rating / 5), nil
}

// matchSubtasks searches and scores every subtask on a bounded pool.
// Results are indexed by subtask position.
func (p *Planner) matchSubtasks(ctx context.Context, subtasks []catalog.Subtask) ([]match, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(len(subtasks), p.cfg.Concurrency)
	sem := make(chan struct{}, max(workers, 1))
	results := make([]match, len(subtasks))
	errs := make(chan error, len(subtasks))

	for i, st := range subtasks {
		go func(i int, st catalog.Subtask) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			defer func() { <-sem }()

			m, err := p.matchSubtask(ctx, st)
			if err == nil {
				results[i] = m
			}
			errs <- err
		}(i, st)
	}

	var firstErr error
	for range subtasks {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func (p *Planner) matchSubtask(ctx context.Context, st catalog.Subtask) (match, error) {
	items, err := p.searcher.Search(ctx, st.Text, catalog.ForSubtask(st), p.cfg.SubtaskTopK)
	if err != nil {
		if ctx.Err() != nil {
			return match{}, ctx.Err()
		}
		p.logger.Warn("subtask search failed, dropping subtask", "subtask", st.Text, marketlog.Error(err))
		return match{}, nil
	}
	if len(items) == 0 {
		return match{}, nil
	}
	items = append([]catalog.Item(nil), items...)
	sortBySimilarity(items)
	score, err := p.score(ctx, st.Text, items[0])
	if err != nil {
		return match{}, err
	}
	return match{item: items[0], score: score, matched: true}, nil
}

// buildComposite assembles a composite plan from per-subtask matches.
func buildComposite(subtasks []catalog.Subtask, matches []match, depth int) *SearchPlan {
	plan := &SearchPlan{
		Type:       PlanComposite,
		Subtasks:   subtasks,
		Mapping:    make(map[int]int),
		FinalDepth: depth,
	}
	var weighted, totalWeight float64
	for i, m := range matches {
		if !m.matched {
			continue
		}
		plan.Mapping[i] = len(plan.Items)
		plan.Items = append(plan.Items, m.item)
		weighted += m.score * subtasks[i].Weight
		totalWeight += subtasks[i].Weight
	}
	if totalWeight > 0 {
		plan.Score = weighted / totalWeight
	}
	plan.Coverage = coverage(len(plan.Items), len(subtasks))
	return plan
}

// sortBySimilarity orders items by descending similarity. Ties keep the
// order the catalog returned them in.
func sortBySimilarity(items []catalog.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SimilarityScore > items[j].SimilarityScore
	})
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
