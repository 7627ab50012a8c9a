// Package httpclient builds the HTTP clients used for model providers,
// embedding APIs and the search backend.
//
// Transport layers, outermost first:
//   - rate limiting (golang.org/x/time/rate), once per logical request
//   - retries with exponential backoff and jitter, replaying the body
//   - request signing, re-applied on every attempt
//   - logging with sanitized URLs, User-Agent, request ID and trace
//     context propagation
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// New creates a new HTTP client with the given configuration.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseTransport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: Wrap(baseTransport, cfg),
		Timeout:   cfg.Timeout,
	}, nil
}

// Wrap layers the configured behaviour over base. Tests use it with
// httptest transports.
func Wrap(base http.RoundTripper, cfg Config) http.RoundTripper {
	var rt http.RoundTripper = newLoggingTransport(base, cfg.UserAgent)
	if cfg.Signer != nil {
		rt = &signingTransport{base: rt, signer: cfg.Signer}
	}
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg)
	}
	if cfg.RequestsPerSecond > 0 {
		rt = newRateLimitTransport(rt, cfg.RequestsPerSecond, cfg.Burst)
	}
	return rt
}
