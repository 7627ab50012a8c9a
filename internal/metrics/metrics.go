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

// Package metrics defines the Prometheus collectors shared by the planning
// engine, the marketplace service and the catalog layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// estimates tracks estimate requests by outcome
	estimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_estimates_total",
			Help: "Total estimate requests by outcome",
		},
		[]string{"outcome"},
	)

	// estimateDuration tracks end-to-end estimate latency
	estimateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketplace_estimate_duration_seconds",
			Help:    "Estimate latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// searchPlans tracks the plan type chosen by the planner
	searchPlans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_search_plans_total",
			Help: "Search plans by type",
		},
		[]string{"type"},
	)

	// recursions tracks refinement recursions into weak subtasks
	recursions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_planner_recursions_total",
			Help: "Total recursive refinements of weak subtasks",
		},
	)

	// oracleCalls tracks oracle calls by operation and outcome
	oracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_oracle_calls_total",
			Help: "Oracle calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// oracleTokens tracks LLM tokens consumed by the oracle
	oracleTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_oracle_tokens_total",
			Help: "LLM tokens consumed by the oracle by provider and direction",
		},
		[]string{"provider", "direction"},
	)

	// cycleRepairs tracks dependency cycle repairs by kind
	cycleRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_cycle_repairs_total",
			Help: "Dependency cycle repairs by kind (edge_removed, forced)",
		},
		[]string{"kind"},
	)

	// resolves tracks resolve requests by outcome
	resolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_resolves_total",
			Help: "Resolve requests by outcome",
		},
		[]string{"outcome"},
	)

	// catalogItems tracks the number of items in the live catalog
	catalogItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_catalog_items",
			Help: "Number of items in the live catalog",
		},
	)

	// catalogReloads tracks catalog reloads by outcome
	catalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_catalog_reloads_total",
			Help: "Catalog reloads by outcome",
		},
		[]string{"outcome"},
	)

	// searchCache tracks search cache lookups
	searchCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_search_cache_total",
			Help: "Search cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
)

// RecordEstimate records an estimate outcome and its latency.
func RecordEstimate(outcome string, d time.Duration) {
	estimates.WithLabelValues(outcome).Inc()
	estimateDuration.Observe(d.Seconds())
}

// RecordSearchPlan increments the plan type counter.
func RecordSearchPlan(planType string) {
	searchPlans.WithLabelValues(planType).Inc()
}

// RecordRecursion increments the recursion counter.
func RecordRecursion() {
	recursions.Inc()
}

// RecordOracleCall increments the oracle call counter.
func RecordOracleCall(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	oracleCalls.WithLabelValues(operation, outcome).Inc()
}

// RecordOracleTokens adds LLM token usage.
func RecordOracleTokens(provider string, input, output int) {
	oracleTokens.WithLabelValues(provider, "input").Add(float64(input))
	oracleTokens.WithLabelValues(provider, "output").Add(float64(output))
}

// RecordCycleRepair increments the cycle repair counter.
func RecordCycleRepair(kind string) {
	cycleRepairs.WithLabelValues(kind).Inc()
}

// RecordResolve increments the resolve counter.
func RecordResolve(outcome string) {
	resolves.WithLabelValues(outcome).Inc()
}

// SetCatalogItems sets the live catalog size.
func SetCatalogItems(n int) {
	catalogItems.Set(float64(n))
}

// RecordCatalogReload increments the reload counter.
func RecordCatalogReload(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	catalogReloads.WithLabelValues(outcome).Inc()
}

// RecordSearchCache records a cache hit or miss.
func RecordSearchCache(hit bool) {
	if hit {
		searchCache.WithLabelValues("hit").Inc()
		return
	}
	searchCache.WithLabelValues("miss").Inc()
}
