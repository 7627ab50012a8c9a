package planner

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/pkg/catalog"
)

type searchCall struct {
	text     string
	category string
	topK     int
}

// fakeSearcher returns canned results keyed by "text|category".
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]catalog.Item
	delays  map[string]time.Duration
	block   map[string]bool
	calls   []searchCall
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		results: map[string][]catalog.Item{},
		delays:  map[string]time.Duration{},
		block:   map[string]bool{},
	}
}

func (f *fakeSearcher) add(text, category string, items ...catalog.Item) {
	f.results[text+"|"+category] = items
}

func (f *fakeSearcher) Search(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error) {
	key := text + "|" + filters.Category
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{text: text, category: filters.Category, topK: topK})
	delay, block := f.delays[key], f.block[key]
	items := f.results[key]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]catalog.Item, len(items))
	copy(out, items)
	return out, nil
}

func (f *fakeSearcher) callsFor(text string) []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []searchCall
	for _, c := range f.calls {
		if c.text == text {
			out = append(out, c)
		}
	}
	return out
}

// fakeOracle scores by "text|itemID" and decomposes by text.
type fakeOracle struct {
	mu             sync.Mutex
	scores         map[string]float64
	defaultScore   float64
	scoreErr       error
	subtasks       map[string][]catalog.Subtask
	defaultSplit   func(text string) []catalog.Subtask
	decomposeErr   error
	decomposeCalls int
	scoreCalls     int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{scores: map[string]float64{}, subtasks: map[string][]catalog.Subtask{}}
}

func (f *fakeOracle) Decompose(ctx context.Context, text string, minN, maxN int) ([]catalog.Subtask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decomposeCalls++
	if f.decomposeErr != nil {
		return nil, f.decomposeErr
	}
	if st, ok := f.subtasks[text]; ok {
		return st, nil
	}
	if f.defaultSplit != nil {
		return f.defaultSplit(text), nil
	}
	return nil, nil
}

func (f *fakeOracle) Score(ctx context.Context, text string, item catalog.Item) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreCalls++
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	if s, ok := f.scores[text+"|"+item.ID]; ok {
		return s, nil
	}
	return f.defaultScore, nil
}

func item(id, category string, sim float64) catalog.Item {
	return catalog.Item{ID: id, Title: id, Category: category, SimilarityScore: sim, Rating: 4}
}

const ohioTask = "file Ohio taxes"

func TestPlanner_ScenarioA_DirectMatch(t *testing.T) {
	s := newFakeSearcher()
	s.add(ohioTask, "", item("ohio_full", "filing", 0.9), item("generic", "general", 0.5))
	o := newFakeOracle()
	o.scores[ohioTask+"|ohio_full"] = 0.92

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), ohioTask, 0)
	require.NoError(t, err)

	assert.Equal(t, PlanDirect, plan.Type)
	assert.InDelta(t, 0.92, plan.Score, 1e-9)
	require.Len(t, plan.Items, 2)
	assert.Equal(t, "ohio_full", plan.Items[0].ID)
	assert.Zero(t, o.decomposeCalls, "decompose must not be called above the threshold")
	assert.Equal(t, 0, plan.FinalDepth)
	assert.False(t, plan.MaxDepthReached)
	assert.Equal(t, 10, s.callsFor(ohioTask)[0].topK)
}

func TestPlanner_ScenarioB_CompositeAccepted(t *testing.T) {
	s := newFakeSearcher()
	s.add(ohioTask, "", item("weak", "general", 0.6))
	s.add("gather W2", "data_gathering", item("w2", "data_gathering", 0.8))
	s.add("itemize deductions", "computation", item("itemize", "computation", 0.8))
	s.add("submit Ohio return", "filing", item("ohio_file", "filing", 0.8))

	o := newFakeOracle()
	o.scores[ohioTask+"|weak"] = 0.40
	o.defaultScore = 0.9
	o.subtasks[ohioTask] = []catalog.Subtask{
		{Text: "gather W2", Category: "data_gathering", Weight: 1.0},
		{Text: "itemize deductions", Category: "computation", Weight: 0.7},
		{Text: "submit Ohio return", Category: "filing", Weight: 0.5},
	}

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), ohioTask, 0)
	require.NoError(t, err)

	assert.Equal(t, PlanComposite, plan.Type)
	assert.InDelta(t, 0.9, plan.Score, 1e-9)
	assert.Equal(t, map[int]int{0: 0, 1: 1, 2: 2}, plan.Mapping)
	assert.Equal(t, "3/3", plan.Coverage)
	assert.Equal(t, []string{"w2", "itemize", "ohio_file"}, ids(plan.Items))
	assert.Equal(t, 1, o.decomposeCalls)
	assert.InDelta(t, 0.9, plan.BestScoreObserved, 1e-9)

	calls := s.callsFor("itemize deductions")
	require.Len(t, calls, 1)
	assert.Equal(t, "computation", calls[0].category)
	assert.Equal(t, 3, calls[0].topK)
}

func TestPlanner_NoCandidates(t *testing.T) {
	o := newFakeOracle()
	plan, err := New(newFakeSearcher(), o, DefaultConfig(), nil).Search(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanDirect, plan.Type)
	assert.Zero(t, plan.Score)
	assert.Empty(t, plan.Items)
	assert.Zero(t, o.scoreCalls)
}

func TestPlanner_UnmatchedSubtasksAreDropped(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))
	s.add("first", "", item("a", "general", 0.9))
	s.add("third", "", item("c", "general", 0.9))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.1
	o.defaultScore = 0.8
	o.subtasks["task"] = []catalog.Subtask{
		{Text: "first", Category: "general", Weight: 1},
		{Text: "second", Category: "general", Weight: 1},
		{Text: "third", Category: "general", Weight: 0.5},
	}

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanComposite, plan.Type)
	assert.Equal(t, map[int]int{0: 0, 2: 1}, plan.Mapping)
	assert.Equal(t, "2/3", plan.Coverage)
	assert.Equal(t, []int{0, 2}, plan.MatchedSubtasks())

	got, ok := plan.ItemFor(2)
	require.True(t, ok)
	assert.Equal(t, "c", got.ID)
	_, ok = plan.ItemFor(1)
	assert.False(t, ok)
}

func TestPlanner_DecomposeFailureFallsBack(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.3
	o.decomposeErr = fmt.Errorf("model unavailable")

	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	plan, err := New(s, o, cfg, nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)

	// The fallback subtask is the task itself, searched without a filter.
	calls := s.callsFor("task")
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[1].category)
	assert.Equal(t, 3, calls[1].topK)

	// Same item and score either way, so the direct plan wins the tie.
	assert.Equal(t, PlanDirect, plan.Type)
	assert.InDelta(t, 0.3, plan.Score, 1e-9)
}

func TestPlanner_DirectPoolTruncatedToTopK(t *testing.T) {
	s := newFakeSearcher()
	s.add(ohioTask, "",
		item("ohio_full", "filing", 0.9),
		item("ohio_w2", "filing", 0.8),
		item("generic", "general", 0.5),
	)
	o := newFakeOracle()
	o.scores[ohioTask+"|ohio_full"] = 0.92

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), ohioTask, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"ohio_full", "ohio_w2"}, ids(plan.Items))
	assert.Equal(t, 10, s.callsFor(ohioTask)[0].topK, "the broad search still scores the full pool")

	plan, err = New(s, o, DefaultConfig(), nil).Search(context.Background(), ohioTask, 50)
	require.NoError(t, err)
	assert.Len(t, plan.Items, 3)
}

func TestPlanner_MalformedSubtasksAreNormalized(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))
	s.add("gather W2", "data_gathering", item("w2", "data_gathering", 0.9))
	s.add("file return", "", item("file", "filing", 0.9))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.2
	o.defaultScore = 0.9
	o.subtasks["task"] = []catalog.Subtask{
		{Text: "  gather W2 ", Category: "data_gathering", Weight: 0},
		{Text: "", Category: "filing", Weight: 0.5},
		{Text: "file return", Category: "tax_filing", Weight: math.NaN()},
	}

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)

	assert.Equal(t, PlanComposite, plan.Type)
	assert.Equal(t, []catalog.Subtask{
		{Text: "gather W2", Category: "data_gathering", Weight: 1},
		{Text: "file return", Category: catalog.GeneralCategory, Weight: 1},
	}, plan.Subtasks)
	assert.InDelta(t, 0.9, plan.Score, 1e-9)
	assert.Equal(t, "2/2", plan.Coverage)
}

func TestPlanner_UnusableSubtasksFallBackToTask(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.3
	o.subtasks["task"] = []catalog.Subtask{{Text: "   ", Weight: 1}, {Text: "\t"}}

	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	plan, err := New(s, o, cfg, nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)

	calls := s.callsFor("task")
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[1].category)
	assert.Equal(t, 3, calls[1].topK)
	assert.Equal(t, PlanDirect, plan.Type)
}

func TestPlanner_ScoreFailureUsesRating(t *testing.T) {
	s := newFakeSearcher()
	it := item("rated", "general", 0.9)
	it.Rating = 4.5
	s.add("task", "", it)

	o := newFakeOracle()
	o.scoreErr = fmt.Errorf("rate limited")

	cfg := DefaultConfig()
	cfg.TauGood = 0.9
	plan, err := New(s, o, cfg, nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanDirect, plan.Type)
	assert.InDelta(t, 0.9, plan.Score, 1e-9)
	assert.Zero(t, o.decomposeCalls)
}

func TestPlanner_TerminationBound(t *testing.T) {
	s := newFakeSearcher()
	o := newFakeOracle()
	o.defaultScore = 0
	o.defaultSplit = func(text string) []catalog.Subtask {
		return []catalog.Subtask{
			{Text: text + "/a", Category: "general", Weight: 1},
			{Text: text + "/b", Category: "general", Weight: 0.5},
		}
	}
	// Every query has a match, so recursion is never starved.
	searcher := searcherFunc(func(ctx context.Context, text string, _ catalog.Filters, _ int) ([]catalog.Item, error) {
		s.mu.Lock()
		s.calls = append(s.calls, searchCall{text: text})
		s.mu.Unlock()
		return []catalog.Item{item("x:"+text, "general", 0.5)}, nil
	})

	cfg := DefaultConfig()
	plan, err := New(searcher, o, cfg, nil).Search(context.Background(), "root", 0)
	require.NoError(t, err)

	assert.Equal(t, cfg.MaxDepth+1, o.decomposeCalls, "one decomposition per depth level")
	assert.Equal(t, cfg.MaxDepth, plan.FinalDepth)
	assert.True(t, plan.MaxDepthReached)
	assert.Zero(t, plan.BestScoreObserved)
}

func TestPlanner_RefinesWeakestSubtask(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))
	s.add("strong part", "filing", item("a1", "filing", 0.9))
	s.add("weak part", "computation", item("b1", "computation", 0.9))
	// Recursive search on the weak subtask text is unfiltered.
	s.add("weak part", "", item("b2", "computation", 0.95), item("b1", "computation", 0.4))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.45
	o.scores["strong part|a1"] = 0.8
	o.scores["weak part|b1"] = 0.2
	o.scores["weak part|b2"] = 0.95
	o.subtasks["task"] = []catalog.Subtask{
		{Text: "strong part", Category: "filing", Weight: 1},
		{Text: "weak part", Category: "computation", Weight: 1},
	}

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)

	assert.Equal(t, PlanComposite, plan.Type)
	assert.Equal(t, []string{"a1", "b2"}, ids(plan.Items))
	assert.InDelta(t, 0.875, plan.Score, 1e-9)
	assert.Equal(t, 1, plan.FinalDepth)
	assert.False(t, plan.MaxDepthReached)
	assert.InDelta(t, 0.95, plan.BestScoreObserved, 1e-9)
	assert.Equal(t, 1, o.decomposeCalls, "the recursive call short-circuits on its direct match")
}

func TestPlanner_DirectWinsTies(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("d", "general", 0.5))
	s.add("part", "", item("p", "general", 0.5))

	o := newFakeOracle()
	o.defaultScore = 0.5
	o.subtasks["task"] = []catalog.Subtask{{Text: "part", Category: "general", Weight: 1}}

	cfg := DefaultConfig()
	cfg.MaxDepth = 0
	plan, err := New(s, o, cfg, nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, PlanDirect, plan.Type)
	assert.Equal(t, "d", plan.Items[0].ID)
}

func TestPlanner_BestCandidateFirstWinsTies(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("low", "general", 0.2), item("first", "general", 0.7), item("second", "general", 0.7))

	o := newFakeOracle()
	o.scores["task|first"] = 0.9

	plan, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "low"}, ids(plan.Items))
}

func TestPlanner_Deterministic(t *testing.T) {
	build := func() (*fakeSearcher, *fakeOracle) {
		s := newFakeSearcher()
		s.add("task", "", item("weak", "general", 0.5))
		for i := 0; i < 6; i++ {
			s.add(fmt.Sprintf("part %d", i), "", item(fmt.Sprintf("p%d", i), "general", 0.9))
		}
		o := newFakeOracle()
		o.scores["task|weak"] = 0.2
		o.defaultScore = 0.7
		var subtasks []catalog.Subtask
		for i := 0; i < 6; i++ {
			subtasks = append(subtasks, catalog.Subtask{Text: fmt.Sprintf("part %d", i), Category: "general", Weight: 1 - 0.1*float64(i)})
		}
		o.subtasks["task"] = subtasks
		return s, o
	}

	s1, o1 := build()
	first, err := New(s1, o1, DefaultConfig(), nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		s, o := build()
		again, err := New(s, o, DefaultConfig(), nil).Search(context.Background(), "task", 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPlanner_ResultsOrderedBySubtaskIndex(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))
	var subtasks []catalog.Subtask
	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("part %d", i)
		s.add(text, "", item(fmt.Sprintf("p%d", i), "general", 0.9))
		// Earlier subtasks finish last.
		s.delays[text+"|"] = time.Duration(5-i) * 10 * time.Millisecond
		subtasks = append(subtasks, catalog.Subtask{Text: text, Category: "general", Weight: 1})
	}
	o := newFakeOracle()
	o.scores["task|weak"] = 0.1
	o.defaultScore = 0.8
	o.subtasks["task"] = subtasks

	cfg := DefaultConfig()
	cfg.Concurrency = 3
	plan, err := New(s, o, cfg, nil).Search(context.Background(), "task", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, ids(plan.Items))
}

func TestPlanner_Cancellation(t *testing.T) {
	s := newFakeSearcher()
	s.add("task", "", item("weak", "general", 0.5))
	s.block["stuck|"] = true
	s.add("fine", "", item("f", "general", 0.9))

	o := newFakeOracle()
	o.scores["task|weak"] = 0.1
	o.subtasks["task"] = []catalog.Subtask{
		{Text: "fine", Category: "general", Weight: 1},
		{Text: "stuck", Category: "general", Weight: 1},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	plan, err := New(s, o, DefaultConfig(), nil).Search(ctx, "task", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, plan)
}

func TestPlanner_SearchErrorPropagates(t *testing.T) {
	boom := fmt.Errorf("catalog offline")
	searcher := searcherFunc(func(context.Context, string, catalog.Filters, int) ([]catalog.Item, error) {
		return nil, boom
	})
	_, err := New(searcher, newFakeOracle(), DefaultConfig(), nil).Search(context.Background(), "task", 0)
	assert.ErrorIs(t, err, boom)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tau out of range", func(c *Config) { c.TauGood = 1.5 }},
		{"negative epsilon", func(c *Config) { c.Epsilon = -0.1 }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"inverted subtask bounds", func(c *Config) { c.MinSubtasks, c.MaxSubtasks = 5, 2 }},
		{"zero top-k", func(c *Config) { c.SubtaskTopK = 0 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

type searcherFunc func(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error)

func (f searcherFunc) Search(ctx context.Context, text string, filters catalog.Filters, topK int) ([]catalog.Item, error) {
	return f(ctx, text, filters, topK)
}

func ids(items []catalog.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
