package chat

import (
	"fmt"
	"sync"

	"github.com/entrepeneur4lyf/chatforge/internal/config"
	"github.com/entrepeneur4lyf/chatforge/internal/llm"
	"github.com/entrepeneur4lyf/chatforge/internal/llm/providers"
)

// ClientFactory returns the client that serves a model id
type ClientFactory func(modelID string) (llm.Client, error)

// NewClientFactory builds resilient provider clients from the config. Clients are cached per
// model; all of them share limiter, and each provider gets one circuit breaker.
func NewClientFactory(cfg *config.Config, limiter *providers.RateLimiter) ClientFactory {
	var (
		mu       sync.Mutex
		clients  = make(map[string]llm.Client)
		breakers = make(map[string]*providers.CircuitBreaker)
	)
	policy := cfg.RetryPolicy()

	return func(modelID string) (llm.Client, error) {
		if modelID == "" {
			modelID = cfg.Model
		}

		mu.Lock()
		defer mu.Unlock()

		if c, ok := clients[modelID]; ok {
			return c, nil
		}

		opts, err := cfg.ProviderOptions(modelID)
		if err != nil {
			return nil, err
		}
		inner, err := providers.NewClient(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", opts.Provider, err)
		}

		breaker, ok := breakers[opts.Provider]
		if !ok {
			breaker = cfg.NewCircuitBreaker()
			breakers[opts.Provider] = breaker
		}

		client := providers.NewResilientClient(inner, limiter, breaker, policy)
		clients[modelID] = client
		return client, nil
	}
}
