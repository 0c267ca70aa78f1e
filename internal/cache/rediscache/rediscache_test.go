package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, ok, err := c.Get(ctx, "device:BUS1:current")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "device:BUS1:current", []byte(`{"imei":"BUS1"}`), time.Minute))
	b, ok, err := c.Get(ctx, "device:BUS1:current")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"imei":"BUS1"}`), b)

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "device:BUS1:current")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx))
	_, ok, _ = c.Get(ctx, "k")
	require.False(t, ok)
}

func TestRedisCache_Down(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, c.Ping(context.Background()))
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:unregistered:X1", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:unregistered:X1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:unregistered:X1", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// the window is not extended by later hits
	mr.FastForward(61 * time.Second)
	ok, n, _ = rl.Allow(ctx, "rl:unregistered:X1", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestRedisCache_SetIfNewer(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := "device:BUS1:current"

	ok, err := c.SetIfNewer(ctx, key, []byte("v10"), 10, 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetIfNewer(ctx, key, []byte("v9"), 9, 5, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = c.SetIfNewer(ctx, key, []byte("v10b"), 10, 0, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// same major, later minor wins
	ok, err = c.SetIfNewer(ctx, key, []byte("v10c"), 10, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	b, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v10c"), b)

	mr.FastForward(2 * time.Minute)
	ok, err = c.SetIfNewer(ctx, key, []byte("v1"), 1, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
