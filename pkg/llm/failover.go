package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrAllProvidersFailed indicates all providers in the failover chain failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrCircuitOpen indicates the circuit breaker is open for a provider.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// FailoverConfig configures provider failover behavior.
type FailoverConfig struct {
	// CircuitBreakerThreshold is the number of consecutive failures before
	// a provider is skipped. 0 disables the circuit breaker.
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long an open circuit stays open.
	CircuitBreakerTimeout time.Duration

	// OnFailover is called when moving to the next provider.
	OnFailover func(from, to string, err error)
}

// DefaultFailoverConfig returns sensible default failover settings.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// FailoverProvider tries providers in order until one succeeds.
type FailoverProvider struct {
	providers      []Provider
	config         FailoverConfig
	circuitBreaker *circuitBreaker
}

// NewFailoverProvider creates a provider with automatic failover.
func NewFailoverProvider(providers []Provider, config FailoverConfig) (*FailoverProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("failover requires at least one provider")
	}
	fp := &FailoverProvider{providers: providers, config: config}
	if config.CircuitBreakerThreshold > 0 {
		fp.circuitBreaker = newCircuitBreaker(config.CircuitBreakerThreshold, config.CircuitBreakerTimeout)
	}
	return fp, nil
}

// Name joins the provider names in order.
func (f *FailoverProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return strings.Join(names, ">")
}

// Complete tries providers in order until one succeeds. Errors that would
// fail the same way everywhere, such as a bad request, stop the chain.
func (f *FailoverProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	var attempted []string

	for i, provider := range f.providers {
		name := provider.Name()
		if f.circuitBreaker != nil && !f.circuitBreaker.allowRequest(name) {
			lastErr = fmt.Errorf("%w for provider %s", ErrCircuitOpen, name)
			attempted = append(attempted, name)
			continue
		}

		resp, err := provider.Complete(ctx, req)
		if err == nil {
			if f.circuitBreaker != nil {
				f.circuitBreaker.recordSuccess(name)
			}
			return resp, nil
		}

		if f.circuitBreaker != nil {
			f.circuitBreaker.recordFailure(name)
		}
		lastErr = err
		attempted = append(attempted, name)

		if !shouldFailover(err) {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		if f.config.OnFailover != nil && i+1 < len(f.providers) {
			f.config.OnFailover(name, f.providers[i+1].Name(), err)
		}
	}

	return nil, fmt.Errorf("%w (tried: %v): %w", ErrAllProvidersFailed, attempted, lastErr)
}

// CircuitBreakerStatus returns the circuit state per provider.
func (f *FailoverProvider) CircuitBreakerStatus() map[string]CircuitBreakerStatus {
	if f.circuitBreaker == nil {
		return nil
	}
	return f.circuitBreaker.getStatus()
}

// shouldFailover reports whether another provider might succeed where this
// one failed. Auth failures count: the next provider has its own key.
func shouldFailover(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode == http.StatusUnauthorized ||
			httpErr.StatusCode == http.StatusForbidden
	}
	// Transport errors (DNS, refused connections) carry no status.
	return true
}

type circuitBreaker struct {
	mu               sync.Mutex
	states           map[string]*circuitState
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

type circuitState struct {
	consecutiveFailures int
	lastFailureTime     time.Time
	open                bool
}

// CircuitBreakerStatus represents the current state of a circuit breaker.
type CircuitBreakerStatus struct {
	Open                bool
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		states:           make(map[string]*circuitState),
		failureThreshold: threshold,
		recoveryTimeout:  timeout,
		now:              time.Now,
	}
}

func (cb *circuitBreaker) allowRequest(name string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, exists := cb.states[name]
	if !exists || !state.open {
		return true
	}
	// Half-open: let one request through after the timeout.
	if cb.now().Sub(state.lastFailureTime) > cb.recoveryTimeout {
		state.open = false
		state.consecutiveFailures = 0
		return true
	}
	return false
}

func (cb *circuitBreaker) recordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.states[name] = &circuitState{}
}

func (cb *circuitBreaker) recordFailure(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, exists := cb.states[name]
	if !exists {
		state = &circuitState{}
		cb.states[name] = state
	}
	state.consecutiveFailures++
	state.lastFailureTime = cb.now()
	if state.consecutiveFailures >= cb.failureThreshold {
		state.open = true
	}
}

func (cb *circuitBreaker) getStatus() map[string]CircuitBreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := make(map[string]CircuitBreakerStatus, len(cb.states))
	for name, state := range cb.states {
		status[name] = CircuitBreakerStatus{
			Open:                state.open,
			ConsecutiveFailures: state.consecutiveFailures,
			LastFailureTime:     state.lastFailureTime,
		}
	}
	return status
}
