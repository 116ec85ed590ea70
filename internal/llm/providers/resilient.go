package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/chatforge/internal/llm"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerReset    = 60 * time.Second
)

// ResilientClient wraps a provider client with the shared rate limiter, a per-provider
// circuit breaker and retry of transient failures
type ResilientClient struct {
	inner   llm.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	policy  RetryPolicy
}

// NewResilientClient wraps inner. A nil limiter disables rate limiting; a nil breaker
// gets a fresh one that opens after five consecutive transient failures.
func NewResilientClient(inner llm.Client, limiter *RateLimiter, breaker *CircuitBreaker, policy RetryPolicy) *ResilientClient {
	if breaker == nil {
		breaker = NewCircuitBreaker(defaultBreakerFailures, defaultBreakerReset)
	}
	return &ResilientClient{
		inner:   inner,
		limiter: limiter,
		breaker: breaker,
		policy:  policy,
	}
}

func (c *ResilientClient) Provider() string { return c.inner.Provider() }

// Breaker exposes the circuit breaker guarding this provider
func (c *ResilientClient) Breaker() *CircuitBreaker { return c.breaker }

// admit waits on the smoothing bucket, then takes a slot in the sliding window
func (c *ResilientClient) admit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	provider := c.inner.Provider()
	if err := c.limiter.Wait(ctx, provider); err != nil {
		return err
	}
	if res := c.limiter.Acquire(provider); !res.Allowed {
		return fmt.Errorf("%w: %s allows another request in %ds", ErrRateLimited, provider, res.WaitSeconds)
	}
	return nil
}

// Complete sends the request with rate limiting and retry
func (c *ResilientClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := c.admit(ctx); err != nil {
		return nil, err
	}

	return WithRetry(ctx, c.policy, func(ctx context.Context, attempt int) (*llm.Response, error) {
		var resp *llm.Response
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			resp, err = c.inner.Complete(ctx, req)
			return err
		})
		if err != nil {
			log.Debug("provider call failed", "provider", c.inner.Provider(), "attempt", attempt+1, "err", err)
		}
		return resp, err
	})
}

// Stream opens the stream with rate limiting and retry. Failures after the stream
// has started are delivered on the subscription and are not retried.
func (c *ResilientClient) Stream(ctx context.Context, req llm.Request) (*llm.Subscription, error) {
	if err := c.admit(ctx); err != nil {
		return nil, err
	}

	return WithRetry(ctx, c.policy, func(ctx context.Context, attempt int) (*llm.Subscription, error) {
		var sub *llm.Subscription
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			sub, err = c.inner.Stream(ctx, req)
			return err
		})
		return sub, err
	})
}
