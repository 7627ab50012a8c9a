package httpclient

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// retryTransport wraps an http.RoundTripper to add retry logic with exponential backoff.
type retryTransport struct {
	base                    http.RoundTripper
	maxAttempts             int
	baseBackoff             time.Duration
	maxBackoff              time.Duration
	allowNonIdempotentRetry bool
}

// newRetryTransport creates a new retry transport that wraps the base transport.
func newRetryTransport(base http.RoundTripper, cfg Config) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &retryTransport{
		base:                    base,
		maxAttempts:             cfg.RetryAttempts + 1, // +1 because attempts include initial try
		baseBackoff:             cfg.RetryBackoff,
		maxBackoff:              cfg.MaxBackoff,
		allowNonIdempotentRetry: cfg.AllowNonIdempotentRetry,
	}
}

// RoundTrip implements http.RoundTripper with retry logic.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.isIdempotentMethod(req.Method) && !t.allowNonIdempotentRetry {
		return t.base.RoundTrip(req)
	}
	// A body that cannot be replayed can only be sent once.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		attemptReq := req
		if attempt > 1 {
			delay := t.calculateBackoff(attempt - 1)
			if lastResp != nil {
				if retryAfter := t.parseRetryAfter(lastResp); retryAfter > 0 && retryAfter < delay {
					delay = retryAfter
				}
			}

			select {
			case <-time.After(delay):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				attemptReq = req.Clone(req.Context())
				attemptReq.Body = body
			}
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if err == nil && !t.shouldRetryStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil && !t.isRetryableError(err) {
			return nil, err
		}

		// The final response is returned to the caller unread.
		if attempt == t.maxAttempts {
			return resp, err
		}

		lastErr = err
		lastResp = resp
		if resp != nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
	}

	return lastResp, lastErr
}

// isIdempotentMethod reports whether method is retried without opt-in.
func (t *retryTransport) isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return true
	default:
		return false
	}
}

// shouldRetryStatus determines if an HTTP status code should trigger a retry.
func (t *retryTransport) shouldRetryStatus(statusCode int) bool {
	switch {
	case statusCode >= 500 && statusCode < 600:
		return true
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// isRetryableError determines if an error should trigger a retry.
func (t *retryTransport) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return t.isRetryableError(urlErr.Err)
	}

	errMsg := strings.ToLower(err.Error())
	transientKeywords := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network unreachable",
		"temporary failure in name resolution",
		"eof",
	}

	for _, keyword := range transientKeywords {
		if strings.Contains(errMsg, keyword) {
			return true
		}
	}

	return false
}

// calculateBackoff computes the delay for a given attempt with exponential backoff and jitter.
func (t *retryTransport) calculateBackoff(attempt int) time.Duration {
	backoff := float64(t.baseBackoff) * math.Pow(2.0, float64(attempt-1))

	if backoff > float64(t.maxBackoff) {
		backoff = float64(t.maxBackoff)
	}

	// Up to 20% jitter.
	jitterAmount := backoff * 0.2
	jitter := rand.Float64() * jitterAmount

	return time.Duration(backoff + jitter)
}

// parseRetryAfter extracts the Retry-After header value.
// Supports both seconds (integer) and HTTP-date formats.
// Returns 0 if header is missing or invalid.
func (t *retryTransport) parseRetryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}

	// Try parsing as seconds (integer)
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP-date
	if retryTime, err := http.ParseTime(header); err == nil {
		delay := time.Until(retryTime)
		if delay > 0 {
			return delay
		}
	}

	return 0
}
