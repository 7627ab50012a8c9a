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

// Package pricing computes value-based prices for catalog items from the
// tokens they save, their rating, and the prices of comparable items.
package pricing

import (
	"math"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tombee/marketplace/pkg/catalog"
	"github.com/tombee/marketplace/pkg/errors"
)

// Config holds the pricing constants.
type Config struct {
	MinPrice int `yaml:"min_price"`
	MaxPrice int `yaml:"max_price"`

	// BaseRate is the share of saved tokens charged before quality
	// adjustment.
	BaseRate float64 `yaml:"base_rate"`

	// MarketVariance bounds the final price to median·(1±variance) of the
	// comparables.
	MarketVariance float64 `yaml:"market_variance"`

	// ComparableTolerance is the allowed relative difference in tokens
	// saved for an item to count as comparable.
	ComparableTolerance float64 `yaml:"comparable_tolerance"`
}

// DefaultConfig returns the default pricing constants.
func DefaultConfig() Config {
	return Config{
		MinPrice:            50,
		MaxPrice:            2000,
		BaseRate:            0.15,
		MarketVariance:      0.30,
		ComparableTolerance: 0.30,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinPrice < 0 {
		return &errors.ValidationError{Field: "pricing.min_price", Message: "must not be negative"}
	}
	if c.MaxPrice < c.MinPrice {
		return &errors.ValidationError{Field: "pricing.max_price", Message: "must be at least min_price"}
	}
	if c.BaseRate <= 0 {
		return &errors.ValidationError{Field: "pricing.base_rate", Message: "must be positive"}
	}
	if c.MarketVariance < 0 || c.MarketVariance >= 1 {
		return &errors.ValidationError{Field: "pricing.market_variance", Message: "must be in [0, 1)"}
	}
	if c.ComparableTolerance < 0 {
		return &errors.ValidationError{Field: "pricing.comparable_tolerance", Message: "must not be negative"}
	}
	return nil
}

// Breakdown is the full derivation of a price.
type Breakdown struct {
	TokensSaved       int      `json:"tokens_saved"`
	BasePrice         int      `json:"base_price"`
	QualityMultiplier float64  `json:"quality_multiplier"`
	ConstrainedPrice  int      `json:"constrained_price"`
	MarketRate        *float64 `json:"market_rate"`
	FinalPrice        int      `json:"final_price"`
	ROIPercentage     float64  `json:"roi_percentage"`
	Summary           string   `json:"breakdown"`
}

// Engine prices items. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	printer *message.Printer
}

// New creates a pricing engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg, printer: message.NewPrinter(language.English)}
}

// QualityMultiplier maps a 0-5 rating onto [0.7, 1.3].
func QualityMultiplier(rating float64) float64 {
	return 0.7 + rating/5*0.6
}

// BasePrice is the unclamped rate-and-quality price for saved tokens.
func (e *Engine) BasePrice(saved int, rating float64) int {
	return int(math.Round(float64(saved) * e.cfg.BaseRate * QualityMultiplier(rating)))
}

func (e *Engine) clamp(price int) int {
	return max(e.cfg.MinPrice, min(price, e.cfg.MaxPrice))
}

// Price derives the final price. With comparables the price is pulled
// into the market band around their median, then clamped again to the
// absolute bounds.
func (e *Engine) Price(saved int, rating float64, comparables []int) Breakdown {
	qm := QualityMultiplier(rating)
	b := Breakdown{
		TokensSaved:       saved,
		BasePrice:         e.BasePrice(saved, rating),
		QualityMultiplier: qm,
	}
	b.ConstrainedPrice = e.clamp(b.BasePrice)
	b.FinalPrice = b.ConstrainedPrice

	if rate, ok := median(comparables); ok {
		b.MarketRate = &rate
		lo := rate * (1 - e.cfg.MarketVariance)
		hi := rate * (1 + e.cfg.MarketVariance)
		b.FinalPrice = e.clamp(band(b.ConstrainedPrice, lo, hi))
	}

	if b.FinalPrice > 0 {
		b.ROIPercentage = math.Round(float64(saved)/float64(b.FinalPrice)*1000) / 10
	}
	b.Summary = e.printer.Sprintf("Base: %d (%d%% of %d saved) → Quality adjusted (%.1f★): ×%.2f → Final: %d tokens",
		int(float64(saved)*e.cfg.BaseRate), int(math.Round(e.cfg.BaseRate*100)), saved, rating, qm, b.FinalPrice)
	return b
}

// band pulls price into [lo, hi], rounding toward the inside so the
// integer result stays in the band. A band too narrow to hold an integer
// yields the integer nearest its centre.
func band(price int, lo, hi float64) int {
	minInt, maxInt := math.Ceil(lo), math.Floor(hi)
	if minInt > maxInt {
		return int(math.Round((lo + hi) / 2))
	}
	return int(math.Max(minInt, math.Min(float64(price), maxInt)))
}

// PriceItem prices a catalog item against the rest of the catalog.
func (e *Engine) PriceItem(target catalog.Item, all []catalog.Item) Breakdown {
	saved := 0
	if target.TokenComparison != nil {
		saved = target.TokenComparison.Saved()
	}
	return e.Price(saved, target.Rating, e.Comparables(target, all))
}

// Comparables returns the prices of items in the target's category whose
// tokens saved are within the tolerance of the target's. Items without a
// price or without savings are ignored.
func (e *Engine) Comparables(target catalog.Item, all []catalog.Item) []int {
	if target.TokenComparison == nil || target.TokenComparison.Saved() == 0 {
		return nil
	}
	want := float64(target.TokenComparison.Saved())
	category := target.EffectiveCategory()

	var prices []int
	for _, it := range all {
		if it.ID == target.ID || it.EffectiveCategory() != category {
			continue
		}
		if it.PriceTokens <= 0 || it.TokenComparison == nil {
			continue
		}
		s := it.TokenComparison.Saved()
		if s == 0 {
			continue
		}
		ratio := float64(s) / want
		if ratio >= 1-e.cfg.ComparableTolerance && ratio <= 1+e.cfg.ComparableTolerance {
			prices = append(prices, it.PriceTokens)
		}
	}
	return prices
}

// SavingsPercentage is the integer share of fromScratch saved by spending
// with instead.
func SavingsPercentage(fromScratch, with int) int {
	if fromScratch == 0 {
		return 0
	}
	return int(float64(fromScratch-with) / float64(fromScratch) * 100)
}

func median(values []int) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid]), true
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2, true
}
