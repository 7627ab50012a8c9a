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

package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client token buckets.
type RateLimitConfig struct {
	// RequestsPerSecond is the refill rate per client. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket capacity.
	Burst int `yaml:"burst"`

	// MaxClients bounds the number of tracked clients.
	MaxClients int `yaml:"max_clients"`
}

// RateLimiter hands out one limiter per client address. Idle clients are
// forgotten after ten minutes.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter returns nil when cfg disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	return &RateLimiter{
		cfg:     cfg,
		clients: expirable.NewLRU[string, *rate.Limiter](cfg.MaxClients, nil, 10*time.Minute),
	}
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	if rl == nil {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)
		rl.clients.Add(client, lim)
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	retry := strconv.Itoa(max(1, int(1/rl.cfg.RequestsPerSecond)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientAddr(r)) {
			w.Header().Set("Retry-After", retry)
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
