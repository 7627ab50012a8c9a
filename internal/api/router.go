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

// Package api serves the marketplace over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/marketplace/internal/log"
	"github.com/tombee/marketplace/internal/market"
	"github.com/tombee/marketplace/pkg/errors"
)

const maxBodyBytes = 1 << 20

// Marketplace is the service behind the API; *market.Service implements it.
type Marketplace interface {
	Estimate(ctx context.Context, req market.EstimateRequest) (*market.EstimateResponse, error)
	Resolve(ctx context.Context, sessionID, solutionID string) (*market.Purchase, error)
	ListItems(ctx context.Context, category string, limit int) ([]market.ItemListing, error)
	ItemPricing(ctx context.Context, id string) (*market.ItemPricing, error)
	Feedback(ctx context.Context, req market.FeedbackRequest) (*market.FeedbackResult, error)
}

// CatalogHealth describes the loaded catalog.
type CatalogHealth struct {
	Items  int    `json:"items"`
	Digest string `json:"digest,omitempty"`
	Source string `json:"source,omitempty"`
}

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	RateLimit RateLimitConfig

	// Catalog reports catalog status for /v1/health. Optional.
	Catalog func(ctx context.Context) CatalogHealth

	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// Router wraps an http.ServeMux with logging and rate limiting.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	market  Marketplace
	config  RouterConfig
	logger  *slog.Logger
	started time.Time
}

// NewRouter creates a router with every API endpoint registered.
func NewRouter(m Marketplace, cfg RouterConfig, logger *slog.Logger) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		market:  m,
		config:  cfg,
		logger:  log.WithComponent(logger, "api"),
		started: time.Now(),
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("POST /v1/estimate", r.handleEstimate)
	r.mux.HandleFunc("POST /v1/resolve", r.handleResolve)
	r.mux.HandleFunc("GET /v1/catalog", r.handleCatalog)
	r.mux.HandleFunc("GET /v1/pricing/{id}", r.handlePricing)
	r.mux.HandleFunc("POST /v1/feedback", r.handleFeedback)

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.mux.Handle("GET /metrics", metrics)

	// Logging is outermost so throttled requests are logged too.
	r.handler = log.Middleware(r.logger)(NewRateLimiter(cfg.RateLimit).Middleware(r.mux))
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	resp := map[string]any{
		"status":         "healthy",
		"version":        r.config.Version,
		"uptime_seconds": int64(time.Since(r.started).Seconds()),
	}
	if r.config.Catalog != nil {
		resp["catalog"] = r.config.Catalog(req.Context())
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (r *Router) handleEstimate(w http.ResponseWriter, req *http.Request) {
	var body market.EstimateRequest
	if !r.decode(w, req, &body) {
		return
	}
	resp, err := r.market.Estimate(req.Context(), body)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	SessionID  string `json:"session_id"`
	SolutionID string `json:"solution_id"`
}

func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) {
	var body resolveRequest
	if !r.decode(w, req, &body) {
		return
	}
	purchase, err := r.market.Resolve(req.Context(), body.SessionID, body.SolutionID)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	WriteJSON(w, http.StatusOK, purchase)
}

func (r *Router) handleCatalog(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			r.fail(w, req, &errors.ValidationError{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		limit = n
	}
	items, err := r.market.ListItems(req.Context(), q.Get("category"), limit)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (r *Router) handlePricing(w http.ResponseWriter, req *http.Request) {
	p, err := r.market.ItemPricing(req.Context(), req.PathValue("id"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (r *Router) handleFeedback(w http.ResponseWriter, req *http.Request) {
	var body market.FeedbackRequest
	if !r.decode(w, req, &body) {
		return
	}
	res, err := r.market.Feedback(req.Context(), body)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (r *Router) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		r.fail(w, req, &errors.ValidationError{
			Field:      "body",
			Message:    "invalid JSON: " + err.Error(),
			Suggestion: "send a JSON object with Content-Type application/json",
		})
		return false
	}
	return true
}

func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	status := WriteErr(w, err)
	if status >= http.StatusInternalServerError {
		log.FromContext(req.Context(), r.logger).Error("request failed",
			slog.String("path", req.URL.Path),
			log.Error(err))
	}
}
