package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-2fa/pkg/codestore"
)

func newTestLimiter(t *testing.T) (*Limiter, *time.Time) {
	t.Helper()
	limiter := NewLimiter(codestore.NewInMemStore())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.Now = func() time.Time { return now }
	return limiter, &now
}

func TestLimiter_ThresholdReached(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Threshold: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d should be allowed", i+1)
	}

	decision, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, time.Minute)
}

func TestLimiter_WindowElapses(t *testing.T) {
	limiter, now := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Threshold: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		decision, err := limiter.CheckAndIncrement(ctx, "user-1", "email", ClassSend, limit)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	decision, err := limiter.CheckAndIncrement(ctx, "user-1", "email", ClassSend, limit)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	*now = now.Add(time.Minute + time.Second)
	decision, err = limiter.CheckAndIncrement(ctx, "user-1", "email", ClassSend, limit)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "a fresh window starts after the old one elapses")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Threshold: 1, Window: time.Minute}

	decision, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	decision, err = limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Different class, method, and identity all have their own budget
	for _, check := range []struct {
		identity string
		method   string
		class    Class
	}{
		{"user-1", "totp", ClassSend},
		{"user-1", "email", ClassVerify},
		{"user-2", "totp", ClassVerify},
	} {
		decision, err := limiter.CheckAndIncrement(ctx, check.identity, check.method, check.class, limit)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "%+v should have its own budget", check)
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Threshold: 1, Window: time.Hour}

	decision, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	decision, err = limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	require.NoError(t, limiter.Reset(ctx, "user-1", "totp", ClassVerify))

	decision, err = limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_InvalidLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, Limit{})
	assert.Error(t, err)
}

func TestLimiter_ConcurrentChecksDoNotUndercount(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{Threshold: 5, Window: time.Minute}

	const workers = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.CheckAndIncrement(ctx, "user-1", "totp", ClassVerify, limit)
			assert.NoError(t, err)
			allowed <- decision.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, 5, count, "exactly threshold checks may pass in one window")
}
