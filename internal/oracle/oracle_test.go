package oracle

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

type fakeProvider struct {
	content  string
	err      error
	requests []llm.CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Usage: llm.TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
}

func TestLLMOracle_Decompose(t *testing.T) {
	p := &fakeProvider{content: "```json\n" + `{"subtasks": [
		{"text": "Gather W2 forms", "task_type": "data_gathering", "weight": 0.9, "rationale": "inputs"},
		{"text": "  ", "task_type": "general", "weight": 0.5},
		{"text": "File Ohio return", "task_type": "Filing", "weight": 1.7},
		{"text": "Book a flight", "task_type": "travel_planning", "weight": 0}
	]}` + "\n```"}
	o := NewLLMOracle(p, LLMConfig{})

	subtasks, err := o.Decompose(context.Background(), "file ohio taxes", 2, 8)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Subtask{
		{Text: "Gather W2 forms", Category: "data_gathering", Weight: 0.9, Rationale: "inputs"},
		{Text: "File Ohio return", Category: "filing", Weight: 1.0},
		{Text: "Book a flight", Category: "general", Weight: 1.0},
	}, subtasks)

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.System, "2-8 searchable subtasks")
	assert.InDelta(t, 0.3, *req.Temperature, 1e-9)
}

func TestLLMOracle_DecomposeTruncates(t *testing.T) {
	p := &fakeProvider{content: `{"subtasks": [{"text": "a"}, {"text": "b"}, {"text": "c"}]}`}
	subtasks, err := NewLLMOracle(p, LLMConfig{}).Decompose(context.Background(), "x", 1, 2)
	require.NoError(t, err)
	assert.Len(t, subtasks, 2)
}

func TestLLMOracle_DecomposeErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{name: "provider failure", provider: &fakeProvider{err: fmt.Errorf("boom")}},
		{name: "invalid json", provider: &fakeProvider{content: "I cannot help with that"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLLMOracle(tt.provider, LLMConfig{}).Decompose(context.Background(), "x", 2, 8)
			var oErr *errors.OracleError
			require.True(t, errors.As(err, &oErr))
			assert.Equal(t, "decompose", oErr.Operation)
			assert.Equal(t, "fake", oErr.Provider)
		})
	}
}

func TestLLMOracle_Score(t *testing.T) {
	item := catalog.Item{ID: "ohio", Title: "Ohio filing", Category: "filing", Tags: []string{"ohio"}, Rating: 4}

	tests := []struct {
		name    string
		content string
		want    float64
		wantErr bool
	}{
		{name: "plain", content: `{"score": 0.72, "reasoning": "close"}`, want: 0.72},
		{name: "prose around json", content: `Here you go: {"score": 0.5} thanks`, want: 0.5},
		{name: "clamped high", content: `{"score": 3}`, want: 1},
		{name: "clamped low", content: `{"score": -1}`, want: 0},
		{name: "missing score", content: `{"reasoning": "?"}`, wantErr: true},
		{name: "garbage", content: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{content: tt.content}
			got, err := NewLLMOracle(p, LLMConfig{}).Score(context.Background(), "ohio taxes", item)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Contains(t, p.requests[0].Messages[0].Content, "Title: Ohio filing")
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSON(`sure! {"a": {"b": 2}}`))
	assert.Equal(t, "plain", extractJSON("plain"))
}

func TestKeywordOracle_Decompose(t *testing.T) {
	o := NewKeywordOracle()
	subtasks, err := o.Decompose(context.Background(),
		"Gather my W2 forms, calculate itemized deductions and then file the Ohio return", 2, 8)
	require.NoError(t, err)
	require.Len(t, subtasks, 3)

	assert.Equal(t, "Gather my W2 forms", subtasks[0].Text)
	assert.Equal(t, catalog.CategoryDataGathering, subtasks[0].Category)
	assert.Equal(t, 1.0, subtasks[0].Weight)
	assert.Equal(t, catalog.CategoryComputation, subtasks[1].Category)
	assert.InDelta(t, 0.9, subtasks[1].Weight, 1e-9)
	assert.Equal(t, catalog.CategoryFiling, subtasks[2].Category)
}

func TestKeywordOracle_DecomposeIsDeterministic(t *testing.T) {
	o := NewKeywordOracle()
	task := "collect receipts; verify totals; submit report"
	first, err := o.Decompose(context.Background(), task, 2, 8)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := o.Decompose(context.Background(), task, 2, 8)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestKeywordOracle_Score(t *testing.T) {
	o := NewKeywordOracle()
	item := catalog.Item{Title: "Ohio state tax filing", Category: "filing", Rating: 5}

	full, err := o.Score(context.Background(), "ohio tax filing", item)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, full, 1e-9)

	partial, err := o.Score(context.Background(), "ohio tax travel", item)
	require.NoError(t, err)
	assert.Less(t, partial, full)
	assert.Greater(t, partial, 0.0)

	empty, err := o.Score(context.Background(), "the a", item)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, empty, 1e-9)
}

func TestKeywordOracle_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywordOracle().Score(ctx, "x", catalog.Item{})
	assert.ErrorIs(t, err, context.Canceled)
}
