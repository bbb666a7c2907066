package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Configuration(t *testing.T) {
	t.Parallel()

	l := New(10, 5, "56")
	require.NotNil(t, l)
	assert.InDelta(t, 10.0, float64(l.bucket.Limit()), 0.001)
	assert.Equal(t, 5, l.bucket.Burst())
	assert.Equal(t, "56", l.chainID)

	l = New(10, 0, "56")
	assert.Equal(t, 1, l.bucket.Burst())
}

func TestLimiter_BurstIsImmediate(t *testing.T) {
	t.Parallel()

	l := New(100, 3, "56")
	for i := 0; i < 3; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(context.Background()))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_WaitsWhenExhausted(t *testing.T) {
	t.Parallel()

	l := New(10, 1, "97")
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_CancelledWait(t *testing.T) {
	t.Parallel()

	l := New(0.5, 1, "97")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestLimiter_DisabledAndNil(t *testing.T) {
	t.Parallel()

	l := New(0, 0, "56")
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Wait(context.Background()))
}
