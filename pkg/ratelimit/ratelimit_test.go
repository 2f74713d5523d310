package ratelimit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provhub/hub/pkg/ratelimit"
)

func TestInProcessLimiter_AllowsWithinBurst(t *testing.T) {
	l := ratelimit.NewInProcessLimiter(1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed within burst", i)
	}

	ok, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted, next request should be denied")
}

func TestInProcessLimiter_KeysAreIndependent(t *testing.T) {
	l := ratelimit.NewInProcessLimiter(1, 1)
	ctx := context.Background()

	ok, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, ok, "a different key must have its own bucket")
}
