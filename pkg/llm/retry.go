package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// ErrMaxRetriesExceeded indicates all retry attempts have been exhausted.
var ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier.
	Multiplier float64

	// Jitter is the +/- fraction of randomness applied to each delay.
	Jitter float64

	// Retryable decides whether an error is retried. Nil uses IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns sensible default retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// RetryingProvider retries transient failures of the wrapped provider.
type RetryingProvider struct {
	provider Provider
	config   RetryConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewRetryingProvider wraps a provider with retry logic.
func NewRetryingProvider(provider Provider, config RetryConfig) *RetryingProvider {
	if config.Retryable == nil {
		config.Retryable = IsRetryable
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &RetryingProvider{provider: provider, config: config, sleep: sleepContext}
}

// Name returns the wrapped provider's name.
func (r *RetryingProvider) Name() string {
	return r.provider.Name()
}

// Complete executes a completion request with retry logic.
func (r *RetryingProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := r.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !r.config.Retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, r.config.MaxRetries+1, lastErr)
}

func (r *RetryingProvider) backoff(attempt int) time.Duration {
	backoff := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if backoff > float64(r.config.MaxDelay) {
		backoff = float64(r.config.MaxDelay)
	}
	if r.config.Jitter > 0 {
		jitterAmount := backoff * r.config.Jitter
		backoff += (rand.Float64() * 2 * jitterAmount) - jitterAmount
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports whether err is a transient provider failure: HTTP
// 5xx, 408 or 429.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}
	return false
}

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
