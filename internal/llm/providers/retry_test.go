package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit text", errors.New("Rate limit reached for requests"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"status in text", errors.New("server returned 502"), true},
		{"network", errors.New("network unreachable"), true},
		{"fetch", errors.New("failed to fetch"), true},
		{"typed 503", &ProviderError{Provider: "openai", StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}, true},
		{"typed 401", &ProviderError{Provider: "openai", StatusCode: http.StatusUnauthorized, Err: errors.New("bad key")}, false},
		{"wrapped", fmt.Errorf("turn failed: %w", errors.New("HTTP 429")), true},
		{"cancelled", context.Canceled, false},
		{"bad request", errors.New("invalid model parameter"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientError(tt.err); got != tt.want {
				t.Errorf("IsTransientError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	base := time.Second
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := BackoffDelay(attempt, base, 0); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
	if got := BackoffDelay(10, base, 30*time.Second); got != 30*time.Second {
		t.Errorf("delay should be capped, got %v", got)
	}
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		var retries []int
		p := policy
		p.OnRetry = func(attempt int, _ time.Duration, _ error) { retries = append(retries, attempt) }

		got, err := WithRetry(context.Background(), p, func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt < 2 {
				return "", errors.New("503 service unavailable")
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "ok" || calls != 3 {
			t.Errorf("got %q after %d calls", got, calls)
		}
		if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
			t.Errorf("unexpected retry callbacks %v", retries)
		}
	})

	t.Run("non transient fails at once", func(t *testing.T) {
		calls := 0
		want := errors.New("invalid api key")
		_, err := WithRetry(context.Background(), policy, func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, want
		})
		if !errors.Is(err, want) {
			t.Errorf("expected the original error, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		want := errors.New("timeout")
		_, err := WithRetry(context.Background(), policy, func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, want
		})
		if !errors.Is(err, want) || calls != 3 {
			t.Errorf("got err %v after %d calls", err, calls)
		}
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}
		_, err := WithRetry(ctx, slow, func(ctx context.Context, attempt int) (int, error) {
			cancel()
			return 0, errors.New("rate limit")
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	transient := errors.New("503")
	fail := func(ctx context.Context) error { return transient }
	ok := func(ctx context.Context) error { return nil }

	// Client errors do not count against the provider
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("bad request") })
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitBreakerClosed {
		t.Fatalf("expected closed after one transient failure, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitBreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Errorf("half-open probe should run: %v", err)
	}
	if cb.State() != CircuitBreakerClosed {
		t.Errorf("expected closed after a successful probe, got %s", cb.State())
	}
}
