package providers

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerWindow = 20
	DefaultRateWindow        = 60 * time.Second
)

// RateLimitResult is the answer to a rate limit check
type RateLimitResult struct {
	Allowed     bool `json:"allowed"`
	WaitSeconds int  `json:"wait_seconds"`
}

// RateLimiter enforces a sliding window request cap per provider
type RateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	now        func() time.Time
	timestamps map[string][]time.Time

	// optional token bucket that spaces out bursts inside the window
	smoothing rate.Limit
	burst     int
	smoothers map[string]*rate.Limiter
}

// RateLimiterOption configures a RateLimiter
type RateLimiterOption func(*RateLimiter)

// WithClock replaces the time source
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// WithWindow overrides the request cap and window length
func WithWindow(limit int, window time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if limit > 0 {
			rl.limit = limit
		}
		if window > 0 {
			rl.window = window
		}
	}
}

// WithSmoothing adds a token bucket of r requests per second and the given burst,
// used by Wait to space requests out
func WithSmoothing(r float64, burst int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if r > 0 && burst > 0 {
			rl.smoothing = rate.Limit(r)
			rl.burst = burst
		}
	}
}

// NewRateLimiter creates a limiter allowing 20 requests per trailing 60 seconds by default
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		limit:      DefaultRequestsPerWindow,
		window:     DefaultRateWindow,
		now:        time.Now,
		timestamps: make(map[string][]time.Time),
		smoothers:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Check reports whether provider may send a request now. It prunes expired
// entries but never records one.
func (rl *RateLimiter) Check(provider string) RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.check(provider, rl.now())
}

// Acquire checks and, when allowed, records a request for provider in one step
func (rl *RateLimiter) Acquire(provider string) RateLimitResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	res := rl.check(provider, now)
	if res.Allowed {
		rl.timestamps[provider] = append(rl.timestamps[provider], now)
	}
	return res
}

func (rl *RateLimiter) check(provider string, now time.Time) RateLimitResult {
	recent := rl.prune(provider, now)
	if len(recent) < rl.limit {
		return RateLimitResult{Allowed: true}
	}

	wait := rl.window - now.Sub(recent[0])
	return RateLimitResult{
		Allowed:     false,
		WaitSeconds: int(math.Ceil(wait.Seconds())),
	}
}

// Record notes that a request was sent to provider now
func (rl *RateLimiter) Record(provider string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.timestamps[provider] = append(rl.prune(provider, now), now)
}

// Wait blocks on the smoothing bucket, if one is configured
func (rl *RateLimiter) Wait(ctx context.Context, provider string) error {
	rl.mu.Lock()
	if rl.smoothing == 0 {
		rl.mu.Unlock()
		return nil
	}
	lim, ok := rl.smoothers[provider]
	if !ok {
		lim = rate.NewLimiter(rl.smoothing, rl.burst)
		rl.smoothers[provider] = lim
	}
	rl.mu.Unlock()

	return lim.Wait(ctx)
}

// Reset forgets all recorded requests for provider
func (rl *RateLimiter) Reset(provider string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.timestamps, provider)
}

func (rl *RateLimiter) prune(provider string, now time.Time) []time.Time {
	all := rl.timestamps[provider]
	kept := all[:0]
	for _, t := range all {
		if now.Sub(t) < rl.window {
			kept = append(kept, t)
		}
	}
	rl.timestamps[provider] = kept
	return kept
}
