package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(l *Limiter, start time.Time) *time.Time {
	now := start
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Allow("emp-1"))
	}

	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Allow("emp-1"))
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})
	now := fixedClock(l, time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("emp-1"))
	}
	assert.ErrorIs(t, l.Allow("emp-1"), ErrRateLimited)

	*now = now.Add(time.Second)
	assert.NoError(t, l.Allow("emp-1"))
	assert.ErrorIs(t, l.Allow("emp-1"), ErrRateLimited)
}

func TestLimiter_PerUserIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 1})
	fixedClock(l, time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC))

	require.NoError(t, l.Allow("emp-1"))
	assert.ErrorIs(t, l.Allow("emp-1"), ErrRateLimited)
	assert.NoError(t, l.Allow("emp-2"))
}

func TestLimiter_EvictsIdleUsers(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 10})
	now := fixedClock(l, time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC))

	require.NoError(t, l.Allow("emp-1"))
	require.NoError(t, l.Allow("emp-2"))
	assert.Equal(t, 2, l.Len())

	*now = now.Add(idleTTL + time.Minute)
	require.NoError(t, l.Allow("emp-3"))
	assert.Equal(t, 1, l.Len())
}
