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

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	marketlog "github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/metrics"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

const decomposeSystemPrompt = `You are a task decomposition expert for an AI agent workflow marketplace.

Your job is to break down user tasks into %d-%d searchable subtasks that can be used to find relevant workflow templates.

Guidelines:
- Each subtask should be atomic and searchable
- Assign weights (0-1) based on importance (1.0 = critical, 0.5 = helpful, 0.3 = optional)
- Provide task_type, one of: %s
- Explain the rationale for each subtask

Output ONLY valid JSON in this exact format (no markdown, no extra text):
{
  "subtasks": [
    {
      "text": "subtask description",
      "task_type": "data_gathering",
      "weight": 0.9,
      "rationale": "why this subtask is important"
    }
  ]
}`

const scoreSystemPrompt = `You are a workflow quality scorer for an AI agent marketplace.

Your job is to evaluate how well a workflow template matches a user's task.

Consider:
- Task type match (exact match = higher score)
- Requirement coverage (does the workflow handle all user needs?)
- Specificity match (too specific or too general = lower score)
- Domain knowledge overlap

Output ONLY a JSON object with:
{
  "score": 0.85,
  "reasoning": "brief explanation"
}`

// LLMConfig configures an LLMOracle.
type LLMConfig struct {
	// Model overrides the provider default model.
	Model string

	// MaxTokens bounds each response (defaults to 2048).
	MaxTokens int

	// DecomposeTemperature and ScoreTemperature default to 0.3 and 0.2.
	DecomposeTemperature float64
	ScoreTemperature     float64

	Logger *slog.Logger
}

// LLMOracle implements TaskOracle on top of an llm.Provider.
type LLMOracle struct {
	provider llm.Provider
	cfg      LLMConfig
	logger   *slog.Logger
}

// NewLLMOracle creates an oracle backed by provider.
func NewLLMOracle(provider llm.Provider, cfg LLMConfig) *LLMOracle {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.DecomposeTemperature == 0 {
		cfg.DecomposeTemperature = 0.3
	}
	if cfg.ScoreTemperature == 0 {
		cfg.ScoreTemperature = 0.2
	}
	return &LLMOracle{provider: provider, cfg: cfg, logger: marketlog.WithComponent(cfg.Logger, "oracle")}
}

type decomposeResponse struct {
	Subtasks []struct {
		Text      string  `json:"text"`
		TaskType  string  `json:"task_type"`
		Category  string  `json:"category"`
		Weight    float64 `json:"weight"`
		Rationale string  `json:"rationale"`
	} `json:"subtasks"`
}

// Decompose asks the model for subtasks. Failures are returned as
// *errors.OracleError; the planner owns the fallback.
func (o *LLMOracle) Decompose(ctx context.Context, text string, minN, maxN int) ([]catalog.Subtask, error) {
	prompt := fmt.Sprintf("Task to decompose: %q\n\nDecompose this into %d-%d searchable subtasks. Output JSON only.", text, minN, maxN)
	content, err := o.complete(ctx, "decompose",
		fmt.Sprintf(decomposeSystemPrompt, minN, maxN, strings.Join(catalog.Categories, ", ")),
		prompt, o.cfg.DecomposeTemperature)
	if err != nil {
		return nil, err
	}

	var resp decomposeResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &resp); err != nil {
		return nil, o.fail("decompose", "response was not valid JSON", err)
	}

	raw := make([]catalog.Subtask, 0, len(resp.Subtasks))
	for _, st := range resp.Subtasks {
		category := st.TaskType
		if category == "" {
			category = st.Category
		}
		raw = append(raw, catalog.Subtask{
			Text:      st.Text,
			Category:  strings.ToLower(strings.TrimSpace(category)),
			Weight:    st.Weight,
			Rationale: st.Rationale,
		})
	}
	subtasks := catalog.NormalizeSubtasks(raw, maxN)
	o.logger.Debug("decomposed task", "subtasks", len(subtasks))
	return subtasks, nil
}

type scoreResponse struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// Score asks the model to rate item against text. The result is clamped to
// [0,1].
func (o *LLMOracle) Score(ctx context.Context, text string, item catalog.Item) (float64, error) {
	var summary strings.Builder
	fmt.Fprintf(&summary, "Title: %s\n", item.Title)
	fmt.Fprintf(&summary, "Task Type: %s\n", item.EffectiveCategory())
	fmt.Fprintf(&summary, "Description: %s\n", item.Description)
	fmt.Fprintf(&summary, "Tags: %s\n", strings.Join(item.Tags, ", "))
	if len(item.Requirements) > 0 {
		fmt.Fprintf(&summary, "Requirements: %s\n", strings.Join(item.Requirements, "; "))
	}

	prompt := fmt.Sprintf("Task: %q\n\nWorkflow to evaluate:\n%s\nHow well does this workflow match the task? Output JSON only.", text, summary.String())
	content, err := o.complete(ctx, "score", scoreSystemPrompt, prompt, o.cfg.ScoreTemperature)
	if err != nil {
		return 0, err
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(extractJSON(content)), &resp); err != nil {
		return 0, o.fail("score", "response was not valid JSON", err)
	}
	if resp.Score == nil {
		return 0, o.fail("score", "response had no score", nil)
	}
	o.logger.Debug("scored candidate", "item_id", item.ID, "score", *resp.Score, "reasoning", resp.Reasoning)
	return clamp01(*resp.Score), nil
}

func (o *LLMOracle) complete(ctx context.Context, operation, system, prompt string, temperature float64) (string, error) {
	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		Model:       o.cfg.Model,
		System:      system,
		Messages:    llm.UserMessage(prompt),
		Temperature: llm.Float64(temperature),
		MaxTokens:   o.cfg.MaxTokens,
		JSON:        true,
	})
	metrics.RecordOracleCall(operation, err)
	if err != nil {
		return "", o.fail(operation, "", err)
	}
	metrics.RecordOracleTokens(o.provider.Name(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp.Content, nil
}

func (o *LLMOracle) fail(operation, message string, cause error) error {
	return &errors.OracleError{
		Operation: operation,
		Provider:  o.provider.Name(),
		Message:   message,
		Cause:     cause,
	}
}

// extractJSON strips markdown fences and surrounding prose, returning the
// outermost JSON object in s.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
