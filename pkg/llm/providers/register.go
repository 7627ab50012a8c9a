package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/marketplace/pkg/errors"
	"github.com/tombee/marketplace/pkg/llm"
)

// Config selects and configures one provider.
type Config struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Factory builds a provider from its configuration.
type Factory func(ctx context.Context, cfg Config) (llm.Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		"anthropic": func(_ context.Context, cfg Config) (llm.Provider, error) { return NewAnthropicProvider(cfg) },
		"openai":    func(_ context.Context, cfg Config) (llm.Provider, error) { return NewOpenAIProvider(cfg) },
		"ollama":    func(_ context.Context, cfg Config) (llm.Provider, error) { return NewOllamaProvider(cfg) },
		"gemini":    func(ctx context.Context, cfg Config) (llm.Provider, error) { return NewGeminiProvider(ctx, cfg) },
	}
)

// Register adds or replaces a provider factory.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Names lists the registered provider names.
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New instantiates the provider named by cfg.Provider.
func New(ctx context.Context, cfg Config) (llm.Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, &errors.ConfigError{
			Key:    "llm.provider",
			Reason: fmt.Sprintf("unknown provider %q (available: %v)", cfg.Provider, Names()),
		}
	}
	return f(ctx, cfg)
}

// NewChain builds each configured provider wrapped in retries, then puts
// them behind a failover provider in the given order. A single provider
// skips the failover layer.
func NewChain(ctx context.Context, cfgs []Config, retry llm.RetryConfig, failover llm.FailoverConfig) (llm.Provider, error) {
	if len(cfgs) == 0 {
		return nil, &errors.ConfigError{Key: "llm.providers", Reason: "no providers configured"}
	}
	chain := make([]llm.Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, llm.NewRetryingProvider(p, retry))
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return llm.NewFailoverProvider(chain, failover)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
