package httpclient

import (
	"net/http"

	"golang.org/x/time/rate"
)

// rateLimitTransport waits for a token before each logical request.
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitTransport(base http.RoundTripper, rps float64, burst int) *rateLimitTransport {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
