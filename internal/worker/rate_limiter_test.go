package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenpress/courier/internal/worker"
)

func newTestLimiter(t *testing.T, limits worker.SendLimits) *worker.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return worker.NewRateLimiter(client, limits)
}

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := newTestLimiter(t, worker.SendLimits{PerSecond: 10, PerMinute: 100, PerDay: 1000})
	ctx := context.Background()

	allowed, wait, err := rl.CheckAndIncrement(ctx, 5)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, wait)

	allowed, _, err = rl.CheckAndIncrement(ctx, 5)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterDeniesOverMinuteBudget(t *testing.T) {
	// The minute window is used here so a bucket rollover mid-test is
	// vanishingly unlikely.
	rl := newTestLimiter(t, worker.SendLimits{PerSecond: 1000, PerMinute: 10, PerDay: 1000})
	ctx := context.Background()

	allowed, _, err := rl.CheckAndIncrement(ctx, 10)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, wait, err := rl.CheckAndIncrement(ctx, 1)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, wait, time.Duration(0))
}

func TestRateLimiterDenialDoesNotConsumeBudget(t *testing.T) {
	rl := newTestLimiter(t, worker.SendLimits{PerSecond: 1000, PerMinute: 10, PerDay: 1000})
	ctx := context.Background()

	// A batch bigger than the whole window is denied without incrementing,
	// so a smaller batch still fits.
	allowed, _, err := rl.CheckAndIncrement(ctx, 11)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, _, err = rl.CheckAndIncrement(ctx, 10)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterDailyExhaustionIsAnError(t *testing.T) {
	rl := newTestLimiter(t, worker.SendLimits{PerSecond: 100, PerMinute: 100, PerDay: 20})
	ctx := context.Background()

	allowed, _, err := rl.CheckAndIncrement(ctx, 20)
	require.NoError(t, err)
	require.True(t, allowed)

	_, _, err = rl.CheckAndIncrement(ctx, 1)
	assert.Error(t, err, "daily exhaustion should surface as an error, not a wait")
}

func TestNilRateLimiterAlwaysAllows(t *testing.T) {
	var rl *worker.RateLimiter
	allowed, wait, err := rl.CheckAndIncrement(context.Background(), 1000)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, wait)
}
