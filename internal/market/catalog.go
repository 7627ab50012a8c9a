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
	"github.com/tombee/marketplace/internal/pricing"
	"github.com/tombee/marketplace/internal/store"
	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// ListItems returns catalog listings, optionally for one category.
func (s *Service) ListItems(ctx context.Context, category string, limit int) ([]ItemListing, error) {
	switch {
	case limit <= 0:
		limit = s.cfg.DefaultListLimit
	case limit > s.cfg.MaxListLimit:
		limit = s.cfg.MaxListLimit
	}
	items, err := s.deps.Catalog.List(ctx, catalog.ListOptions{Category: category, Limit: limit})
	if err != nil {
		return nil, errors.Wrap(err, "listing catalog")
	}
	out := make([]ItemListing, 0, len(items))
	for _, it := range items {
		out = append(out, ItemListing{
			ItemID:        it.ID,
			Title:         it.Title,
			Category:      it.EffectiveCategory(),
			Description:   it.Description,
			Rating:        it.Rating,
			UsageCount:    it.UsageCount,
			DownloadCost:  it.DownloadCost,
			ExecutionCost: it.ExecutionCost,
			PriceTokens:   it.PriceTokens,
			Tags:          it.Tags,
		})
	}
	return out, nil
}

// ItemPricing prices one item against comparables in its category.
func (s *Service) ItemPricing(ctx context.Context, id string) (*ItemPricing, error) {
	item, err := s.deps.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	peers, err := s.deps.Catalog.List(ctx, catalog.ListOptions{Category: item.EffectiveCategory()})
	if err != nil {
		return nil, errors.Wrap(err, "listing comparables")
	}

	b := s.deps.Pricing.PriceItem(*item, peers)
	out := &ItemPricing{
		ItemID:        item.ID,
		Title:         item.Title,
		PriceTokens:   b.FinalPrice,
		TokensSaved:   b.TokensSaved,
		ROIPercentage: b.ROIPercentage,
		Pricing:       b,
		Rating:        item.Rating,
		UsageCount:    item.UsageCount,
	}
	if tc := item.TokenComparison; tc != nil {
		out.AvgTokensWithout = tc.FromScratch
		out.AvgTokensWith = tc.WithWorkflow
		out.SavingsPercentage = pricing.SavingsPercentage(tc.FromScratch, tc.WithWorkflow)
	}
	return out, nil
}

// Feedback records a vote on a catalog item.
func (s *Service) Feedback(ctx context.Context, req FeedbackRequest) (*FeedbackResult, error) {
	if strings.TrimSpace(req.ItemID) == "" {
		return nil, &errors.ValidationError{Field: "item_id", Message: "required"}
	}
	vote := store.Vote(strings.ToLower(strings.TrimSpace(req.Vote)))
	if !vote.Valid() {
		return nil, &errors.ValidationError{Field: "vote", Message: "must be up or down"}
	}
	if _, err := s.deps.Catalog.Get(ctx, req.ItemID); err != nil {
		return nil, err
	}

	f, err := s.deps.Store.RecordVote(ctx, req.ItemID, vote)
	if err != nil {
		return nil, errors.Wrap(err, "recording feedback")
	}
	s.logger.Info("feedback recorded",
		slog.String(marketlog.ItemIDKey, req.ItemID),
		slog.String("vote", string(vote)),
		slog.Int("comment_length", len(req.Comment)))
	return &FeedbackResult{
		Status:   "recorded",
		ItemID:   req.ItemID,
		Vote:     string(vote),
		Up:       f.Up,
		Down:     f.Down,
		Approval: f.Approval(),
	}, nil
}
