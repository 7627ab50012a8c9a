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

package server

import (
	"sync"
	"time"
)

// RateLimiter implements token bucket rate limiting for MCP tool calls
type RateLimiter struct {
	// estimateBucket limits marketplace_estimate, which runs the planner
	estimateBucket *tokenBucket
	callBucket     *tokenBucket
}

// tokenBucket implements a simple token bucket algorithm
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(perMinute int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(perMinute),
		maxTokens:  float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		lastRefill: time.Now(),
	}
}

// NewRateLimiter creates a rate limiter with per-minute limits for
// estimates and for all tool calls.
func NewRateLimiter(estimatesPerMinute, callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		estimateBucket: newTokenBucket(estimatesPerMinute),
		callBucket:     newTokenBucket(callsPerMinute),
	}
}

// AllowEstimate checks if a marketplace_estimate call is allowed
func (rl *RateLimiter) AllowEstimate() bool {
	return rl.estimateBucket.take(1)
}

// AllowCall checks if any tool call is allowed
func (rl *RateLimiter) AllowCall() bool {
	return rl.callBucket.take(1)
}

func (tb *tokenBucket) take(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}
