package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, nil), mr
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "stock:repair:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("stock:repair:lock"))

	_, ok, err = locker.Acquire(ctx, "stock:repair:lock", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	release()
	require.False(t, mr.Exists("stock:repair:lock"))

	_, ok, err = locker.Acquire(ctx, "stock:repair:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("k"))
	require.NoError(t, mr.Set("k", "someone-else"))

	release()
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestLockerReportsRedisErrors(t *testing.T) {
	locker, mr := newTestLocker(t)
	mr.Close()
	_, _, err := locker.Acquire(context.Background(), "k", time.Second)
	require.Error(t, err)
}

func TestNilLockerAlwaysAcquires(t *testing.T) {
	var locker *Locker
	release, ok, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	release()
}
