package httpclient

import (
	"fmt"
	"net/http"
	"time"
)

// Signer signs an outbound request after all headers are set. The body is
// passed separately because it has already been consumed into bytes.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// Config configures the HTTP client with timeout, retry, rate limiting,
// and signing.
type Config struct {
	// Timeout is the total request timeout (includes retries).
	// Default: 30s. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts (0 = no retries).
	// Default: 3. Must be >= 0.
	RetryAttempts int

	// RetryBackoff is the initial backoff delay before first retry.
	// Default: 200ms. Must be > 0 if RetryAttempts > 0.
	RetryBackoff time.Duration

	// MaxBackoff is the maximum backoff delay cap.
	// Default: 10s. Must be >= RetryBackoff.
	MaxBackoff time.Duration

	// UserAgent is the User-Agent header value. Required.
	UserAgent string

	// AllowNonIdempotentRetry enables retry for POST, PUT, PATCH and DELETE.
	// Model and search APIs take POST bodies but are safe to repeat.
	AllowNonIdempotentRetry bool

	// RequestsPerSecond limits outbound request rate (0 = unlimited).
	RequestsPerSecond float64

	// Burst is the rate limiter bucket size. Defaults to 1 when a rate is set.
	Burst int

	// Signer, when set, signs every attempt including retries.
	Signer Signer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  200 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
		UserAgent:     "marketplace-http-client/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retry_attempts > 0, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must be >= 0, got %v", c.RequestsPerSecond)
	}
	if c.Burst < 0 {
		return fmt.Errorf("burst must be >= 0, got %d", c.Burst)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}
