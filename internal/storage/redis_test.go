package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCancelSignal(t *testing.T) (*RedisCancelSignal, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCancelSignal(NewRedisClientFrom(client), time.Hour), mr
}

func TestRedisCancelSignal_RequestAndClear(t *testing.T) {
	signal, _ := setupTestCancelSignal(t)
	ctx := testContext(t)

	requested, err := signal.Requested(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, signal.Request(ctx, "job-1"))
	requested, err = signal.Requested(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, requested)

	other, err := signal.Requested(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, other)

	require.NoError(t, signal.Clear(ctx, "job-1"))
	requested, err = signal.Requested(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestRedisCancelSignal_FlagExpires(t *testing.T) {
	signal, mr := setupTestCancelSignal(t)
	ctx := testContext(t)

	require.NoError(t, signal.Request(ctx, "job-1"))
	assert.Equal(t, time.Hour, mr.TTL(cancelKey("job-1")))

	mr.FastForward(2 * time.Hour)
	requested, err := signal.Requested(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestRedisCancelSignal_RedisDown(t *testing.T) {
	signal, mr := setupTestCancelSignal(t)
	mr.Close()

	_, err := signal.Requested(testContext(t), "job-1")
	assert.Error(t, err)
}
