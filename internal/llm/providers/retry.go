package providers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// RetryPolicy defines retry behavior for provider calls
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"baseDelay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"maxDelay" mapstructure:"max_delay"`

	// OnRetry is called before each wait; attempt counts from 1
	OnRetry func(attempt int, delay time.Duration, err error) `json:"-" mapstructure:"-"`
}

// DefaultRetryPolicy returns three attempts with a one second base delay
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
}

var transientMarkers = []string{
	"rate limit",
	"timeout",
	"429",
	"500",
	"502",
	"503",
	"network",
	"fetch",
	"connection refused",
	"connection reset",
	"no such host",
}

// IsTransientError reports whether err is worth retrying: rate limits, timeouts,
// server errors and network failures. Cancellation never is.
func IsTransientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if transientStatus[StatusCode(err)] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// BackoffDelay returns base * 2^attempt, capped at max when max is positive
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if max > 0 && delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation[T any] func(ctx context.Context, attempt int) (T, error)

// WithRetry runs operation until it succeeds, fails with a non-transient error or runs
// out of attempts. The last error is returned unchanged.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, operation RetryableOperation[T]) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var result T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, lastErr = operation(ctx, attempt)
		if lastErr == nil {
			return result, nil
		}

		if attempt == attempts-1 || !IsTransientError(lastErr) {
			break
		}

		delay := BackoffDelay(attempt, policy.BaseDelay, policy.MaxDelay)
		log.Debug("retrying provider call", "attempt", attempt+1, "delay", delay, "err", lastErr)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, lastErr
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops calling a provider after repeated failures until a cool-down passes
type CircuitBreaker struct {
	mu              sync.Mutex
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	now             func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitBreakerClosed,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open circuit to half-open
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitBreakerOpen && cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
		cb.state = CircuitBreakerHalfOpen
	}
	if cb.state == CircuitBreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Record updates the breaker with the outcome of a call. Only transient
// failures count; a bad request says nothing about provider health.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.state = CircuitBreakerClosed
		cb.failures = 0
		return
	}
	if !IsTransientError(err) {
		return
	}

	cb.failures++
	cb.lastFailureTime = cb.now()
	if cb.state == CircuitBreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitBreakerOpen
	}
}

// Execute runs operation through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := operation(ctx)
	cb.Record(err)
	return err
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
