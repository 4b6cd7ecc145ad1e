package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromExisting(rdb)
}

func TestClient_SetGetDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithExpiry(ctx, "k1", []byte("v1"), 0))
	v, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, err = c.Get(ctx, "k1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_AppendStream_TrimsToMaxLen(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AppendStream(ctx, "stream:s1", []byte("item"), 3))
	}
	n, err := c.rdb.LLen(ctx, "stream:s1").Result()
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestClient_SetNX(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "nx1", []byte("a"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetNX(ctx, "nx1", []byte("b"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
