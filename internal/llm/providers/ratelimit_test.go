package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(WithClock(func() time.Time { return now }))

	for i := 0; i < DefaultRequestsPerWindow; i++ {
		require.True(t, rl.Check("anthropic").Allowed, "request %d", i)
		rl.Record("anthropic")
		now = now.Add(time.Second)
	}

	// 20 requests at t=0..19s; the oldest leaves the window at t=60s
	res := rl.Check("anthropic")
	assert.False(t, res.Allowed)
	assert.Equal(t, 40, res.WaitSeconds)

	// Other providers are independent
	assert.True(t, rl.Check("openai").Allowed)

	now = now.Add(39*time.Second + 500*time.Millisecond)
	res = rl.Check("anthropic")
	assert.False(t, res.Allowed)
	assert.Equal(t, 1, res.WaitSeconds)

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Check("anthropic").Allowed)
}

func TestRateLimiter_CheckDoesNotRecord(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(WithClock(func() time.Time { return now }), WithWindow(1, time.Minute))

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Check("gemini").Allowed)
	}
	rl.Record("gemini")
	assert.False(t, rl.Check("gemini").Allowed)

	rl.Reset("gemini")
	assert.True(t, rl.Check("gemini").Allowed)
}

func TestRateLimiter_AcquireRecordsOnlyAllowed(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(WithClock(func() time.Time { return now }), WithWindow(2, time.Minute))

	assert.True(t, rl.Acquire("openai").Allowed)
	assert.True(t, rl.Acquire("openai").Allowed)

	res := rl.Acquire("openai")
	assert.False(t, res.Allowed)
	assert.Equal(t, 60, res.WaitSeconds)
	assert.Len(t, rl.timestamps["openai"], 2)

	now = now.Add(time.Minute)
	assert.True(t, rl.Acquire("openai").Allowed)
}

func TestRateLimiter_AcquireConcurrent(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(WithClock(func() time.Time { return now }))

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 3*DefaultRequestsPerWindow; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Acquire("anthropic").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(DefaultRequestsPerWindow), allowed.Load())
	assert.False(t, rl.Check("anthropic").Allowed)
}

func TestRateLimiter_Wait(t *testing.T) {
	rl := NewRateLimiter()
	require.NoError(t, rl.Wait(context.Background(), "openai"))

	smooth := NewRateLimiter(WithSmoothing(1000, 1))
	require.NoError(t, smooth.Wait(context.Background(), "openai"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewRateLimiter(WithSmoothing(0.001, 1)).waitTwice(ctx))
}

// waitTwice drains the single token and then waits for the next one
func (rl *RateLimiter) waitTwice(ctx context.Context) error {
	if err := rl.Wait(context.Background(), "x"); err != nil {
		return err
	}
	return rl.Wait(ctx, "x")
}
