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

package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/marketplace/pkg/catalog"
)

func TestQualityMultiplier(t *testing.T) {
	assert.InDelta(t, 1.3, QualityMultiplier(5), 1e-9)
	assert.InDelta(t, 1.276, QualityMultiplier(4.8), 1e-9)
	assert.InDelta(t, 0.82, QualityMultiplier(1), 1e-9)
	assert.InDelta(t, 0.7, QualityMultiplier(0), 1e-9)
}

func TestPrice_Bounds(t *testing.T) {
	e := New(DefaultConfig())

	tests := []struct {
		name        string
		saved       int
		rating      float64
		comparables []int
		want        int
	}{
		{"clamped to max", 12000, 4.8, nil, 2000},
		{"clamped to min", 100, 5, nil, 50},
		{"zero savings", 0, 3, nil, 50},
		{"negative savings", -500, 3, nil, 50},
		{"within bounds", 2000, 5, nil, 390},
		{"pulled into market band", 12000, 4.8, []int{500, 300, 400}, 520},
		{"raised to band floor", 2000, 5, []int{1000}, 700},
		{"band below min re-clamped", 12000, 4.8, []int{30}, 50},
		{"band above max re-clamped", 100, 5, []int{3000}, 2000},
		{"even comparables use mean of middle pair", 12000, 4.8, []int{400, 600}, 650},
		{"band floor rounds up", 0, 0, []int{1002}, 702},
		{"band ceiling rounds down", 20000, 5, []int{1003}, 1303},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := e.Price(tt.saved, tt.rating, tt.comparables)
			assert.Equal(t, tt.want, b.FinalPrice)
			assert.GreaterOrEqual(t, b.FinalPrice, 50)
			assert.LessOrEqual(t, b.FinalPrice, 2000)
			assert.Equal(t, tt.comparables != nil, b.MarketRate != nil)
		})
	}
}

func TestPrice_StaysInMarketBand(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)
	minP, maxP := float64(cfg.MinPrice), float64(cfg.MaxPrice)

	for m := 1; m <= 3000; m++ {
		for _, comparables := range [][]int{{m}, {m, m + 1}} {
			for _, saved := range []int{0, 777, 4000, 13333, 50000} {
				for _, rating := range []float64{0, 2.5, 5} {
					b := e.Price(saved, rating, comparables)
					require.GreaterOrEqual(t, b.FinalPrice, cfg.MinPrice)
					require.LessOrEqual(t, b.FinalPrice, cfg.MaxPrice)

					rate := *b.MarketRate
					lo, hi := rate*(1-cfg.MarketVariance), rate*(1+cfg.MarketVariance)
					// The absolute bounds win when no integer in the band lies within them.
					if math.Floor(hi) < minP || math.Ceil(lo) > maxP {
						continue
					}
					final := float64(b.FinalPrice)
					require.GreaterOrEqual(t, final, lo, "median %v saved %d rating %v", rate, saved, rating)
					require.LessOrEqual(t, final, hi, "median %v saved %d rating %v", rate, saved, rating)
				}
			}
		}
	}
}

func TestBand_NarrowerThanOneToken(t *testing.T) {
	assert.Equal(t, 3, band(100, 2.5, 2.5))
	assert.Equal(t, 10, band(10, 9.5, 10.5))
}

func TestPrice_Breakdown(t *testing.T) {
	e := New(DefaultConfig())
	b := e.Price(12000, 4.8, []int{300, 400, 500})

	assert.Equal(t, 12000, b.TokensSaved)
	assert.Equal(t, 2297, b.BasePrice)
	assert.Equal(t, 2000, b.ConstrainedPrice)
	require.NotNil(t, b.MarketRate)
	assert.InDelta(t, 400, *b.MarketRate, 1e-9)
	assert.Equal(t, 520, b.FinalPrice)
	assert.InDelta(t, 2307.7, b.ROIPercentage, 1e-9)

	assert.Contains(t, b.Summary, "Base: 1,800 (15% of 12,000 saved)")
	assert.Contains(t, b.Summary, "Quality adjusted (4.8★): ×1.28")
	assert.Contains(t, b.Summary, "Final: 520 tokens")
}

func TestPrice_ZeroFinalHasZeroROI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPrice = 0
	b := New(cfg).Price(0, 0, nil)
	assert.Equal(t, 0, b.FinalPrice)
	assert.Zero(t, b.ROIPercentage)
}

func withSavings(id, category string, saved, price int) catalog.Item {
	return catalog.Item{
		ID:              id,
		Category:        category,
		PriceTokens:     price,
		TokenComparison: &catalog.TokenComparison{WithWorkflow: 1000, FromScratch: 1000 + saved},
	}
}

func TestComparables(t *testing.T) {
	e := New(DefaultConfig())
	target := withSavings("target", "filing", 10000, 400)
	all := []catalog.Item{
		target,
		withSavings("close", "filing", 12000, 300),
		withSavings("edge", "filing", 7500, 350),
		withSavings("too_far", "filing", 14000, 900),
		withSavings("other_category", "computation", 10000, 500),
		withSavings("unpriced", "filing", 10000, 0),
		{ID: "no_comparison", Category: "filing", PriceTokens: 100},
	}

	assert.Equal(t, []int{300, 350}, e.Comparables(target, all))
	assert.Nil(t, e.Comparables(catalog.Item{ID: "bare"}, all))

	b := e.PriceItem(target, all)
	require.NotNil(t, b.MarketRate)
	assert.InDelta(t, 325, *b.MarketRate, 1e-9)
}

func TestSavingsPercentage(t *testing.T) {
	assert.Equal(t, 80, SavingsPercentage(15000, 3000))
	assert.Equal(t, 0, SavingsPercentage(0, 100))
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxPrice = 10
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MarketVariance = 1
	assert.Error(t, cfg.Validate())
}
