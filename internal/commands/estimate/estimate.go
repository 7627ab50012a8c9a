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

// Package estimate implements the estimate command, which runs one
// estimate against the local catalog without starting the server.
package estimate

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/marketplace/internal/commands/shared"
	"github.com/tombee/marketplace/internal/daemon"
	"github.com/tombee/marketplace/internal/market"
)

// NewCommand creates the estimate command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "estimate <query>",
		Short: "Rank catalog solutions for a task",
		Long: `Run the planner, composer and pricing engine for one task and print
the ranked solutions. The session is stored in the configured session
backend, so with a shared sqlite or postgres store it can be resolved
through the API afterwards.`,
		Example: `  marketd estimate "file my 2024 Ohio taxes with two W2s"
  marketd estimate --context state=OH --top-k 3 "file state taxes"
  marketd estimate --strict --json "calculate depreciation"
  marketd estimate --strict --min-score 0.7 "amend a 2023 return"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return shared.NewInvalidInputError("query must not be empty", nil)
			}
			opts.minScoreSet = cmd.Flags().Changed("min-score")
			if opts.minScoreSet && (opts.minScore < 0 || opts.minScore > 1) {
				return shared.NewInvalidInputError("--min-score must be between 0 and 1", nil)
			}

			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := daemon.Build(ctx, cfg, daemon.NewLogger(cfg))
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Service.Estimate(ctx, opts.request(query))
			if err != nil {
				if shared.GetJSON() {
					_ = shared.EmitError(cmd.OutOrStdout(), "estimate", err)
				}
				return err
			}
			if shared.GetJSON() {
				return shared.EmitResult(cmd.OutOrStdout(), "estimate", resp)
			}
			PrintResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of solutions (default from config)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Return nothing unless a close match is found")
	cmd.Flags().Float64Var(&opts.minScore, "min-score", 0, "Minimum match score for --strict (default from config)")
	cmd.Flags().StringToStringVar(&opts.context, "context", nil, "Task context as key=value pairs")
	return cmd
}

type options struct {
	topK        int
	strict      bool
	minScore    float64
	minScoreSet bool
	context     map[string]string
}

func (o options) request(query string) market.EstimateRequest {
	req := market.EstimateRequest{Query: query, TopK: o.topK, RequireCloseMatch: o.strict}
	if o.minScoreSet {
		minScore := o.minScore
		req.MinScore = &minScore
	}
	if len(o.context) > 0 {
		req.Context = make(map[string]any, len(o.context))
		for k, v := range o.context {
			req.Context[k] = v
		}
	}
	return req
}

// PrintResponse renders an estimate as a table.
func PrintResponse(out io.Writer, resp *market.EstimateResponse) {
	fmt.Fprintf(out, "Query: %s\n", resp.Query.Sanitized)
	fmt.Fprintf(out, "Search: %s plan, score %.2f, depth %d\n", resp.Search.Type, resp.Search.Score, resp.Search.FinalDepth)

	if qc := resp.QualityControl; qc != nil && qc.Triggered {
		fmt.Fprintf(out, "\nNo close match: %s (best %.2f, minimum %.2f)\n", qc.Reason, qc.BestScore, qc.MinRequiredScore)
		return
	}
	if len(resp.Solutions) == 0 {
		fmt.Fprintln(out, "\nNo matching workflows found.")
		return
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOLUTION\tSTRATEGY\tCONFIDENCE\tCOST\tSAVINGS\tITEMS")
	for _, s := range resp.Solutions {
		ids := make([]string, len(s.Items))
		for i, it := range s.Items {
			ids[i] = it.ItemID
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d (%d%%)\t%s\n",
			s.ID, s.Strategy, s.ConfidenceScore,
			s.Pricing.TotalCostTokens, s.Pricing.SavingsTokens, s.Pricing.SavingsPercentage,
			strings.Join(ids, " -> "))
	}
	w.Flush()

	if resp.SessionID != "" {
		fmt.Fprintf(out, "\nSession: %s", resp.SessionID)
		if resp.ExpiresAt != nil {
			fmt.Fprintf(out, " (expires %s)", resp.ExpiresAt.Format("15:04:05 MST"))
		}
		fmt.Fprintln(out)
	}
}
