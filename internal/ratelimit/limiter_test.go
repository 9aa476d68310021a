package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-oauth/internal/common/logging"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel})
	require.NoError(t, err)
	return logger
}

func TestIntervalPolicySpacesCalls(t *testing.T) {
	// 10 rps means at least 100ms between the 2nd and 3rd call.
	l := NewPlatformLimiter("twitter", Config{Policy: PolicyInterval, RequestsPerSecond: 10}, testLogger(t))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, "token"))
	}
	elapsed := time.Since(start)

	// First call is immediate; the next two each wait ~100ms.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestIntervalPolicyIndependentEndpoints(t *testing.T) {
	l := NewPlatformLimiter("twitter", Config{Policy: PolicyInterval, RequestsPerSecond: 1}, testLogger(t))

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "token"))

	// A different endpoint must not inherit the first endpoint's debt.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "refresh"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestIntervalPolicyContextCancellation(t *testing.T) {
	l := NewPlatformLimiter("twitter", Config{Policy: PolicyInterval, RequestsPerSecond: 0.1}, testLogger(t))

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "token"))

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	// The next slot is ~10s away, so the context expires first.
	err := l.Wait(shortCtx, "token")
	assert.Error(t, err)
}

func TestWindowPolicyAllowsUpToLimit(t *testing.T) {
	l := NewPlatformLimiter("linkedin", Config{Policy: PolicyWindow, MaxPerMinute: 5}, testLogger(t))

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(ctx, "token"))
	}
	// All five fit in the window without blocking.
	assert.Less(t, time.Since(start), time.Second)
}

func TestWindowPolicyBlocksBeyondLimit(t *testing.T) {
	l := NewPlatformLimiter("linkedin", Config{Policy: PolicyWindow, MaxPerMinute: 2}, testLogger(t))

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "token"))
	require.NoError(t, l.Wait(ctx, "token"))

	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	err := l.Wait(shortCtx, "token")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowPolicyResetClearsWindow(t *testing.T) {
	l := NewPlatformLimiter("linkedin", Config{Policy: PolicyWindow, MaxPerMinute: 1}, testLogger(t))

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "token"))

	l.Reset("token")

	// A fresh window admits the next call immediately.
	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, l.Wait(shortCtx, "token"))
}

func TestDefaultConfigFallback(t *testing.T) {
	l := NewPlatformLimiter("facebook", Config{}, testLogger(t))
	assert.Equal(t, PolicyInterval, l.config.Policy)
	assert.Equal(t, float64(1), l.config.RequestsPerSecond)
}
