package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	marketlog "github.com/tombee/marketplace/internal/log"
)

// loggingTransport sets the User-Agent, propagates the inbound request ID
// and trace context, and logs each attempt.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newLoggingTransport(base http.RoundTripper, userAgent string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if id := marketlog.RequestIDFromContext(ctx); id != "" && req.Header.Get(marketlog.RequestIDHeader) == "" {
		req.Header.Set(marketlog.RequestIDHeader, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	logURL := sanitizeURL(req.URL)
	logger := marketlog.FromContext(ctx, nil)

	if err != nil {
		logger.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}

// signingTransport signs each attempt. Signatures include a timestamp, so
// a retried request must be signed again.
type signingTransport struct {
	base   http.RoundTripper
	signer Signer
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}
	signed := req.Clone(req.Context())
	if body != nil {
		signed.Body = io.NopCloser(bytes.NewReader(body))
		signed.ContentLength = int64(len(body))
	}
	if err := t.signer.Sign(signed, body); err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return t.base.RoundTrip(signed)
}

// readBody returns the request body bytes, using GetBody when available so
// the original body stays replayable.
func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	rc := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		rc = fresh
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if req.GetBody == nil {
		req.Body = io.NopCloser(bytes.NewReader(data))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		}
	}
	return data, nil
}
