package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/demandd/pkg/adapters/redis"
	"github.com/aretw0/demandd/pkg/pool"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ pool.Pool = (*redis.Pool)(nil)

func newPool(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *redis.Pool) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	p := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = p.Close() })
	return mr, p
}

func TestPool_SyncPublishesDemand(t *testing.T) {
	mr, p := newPool(t, redis.WithKey("site:pool"), redis.WithDemand(2))
	ctx := context.Background()

	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, "2", mr.HGet("site:pool", "demand"))

	p.SetDemand(12.5)
	assert.Equal(t, 12.5, p.Demand())
	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, "12.5", mr.HGet("site:pool", "demand"))
}

func TestPool_SyncWritesOnlyChanges(t *testing.T) {
	mr, p := newPool(t)
	ctx := context.Background()

	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, "0", mr.HGet(redis.DefaultKey, "demand"))

	// an external edit survives while the local demand is unchanged
	mr.HSet(redis.DefaultKey, "demand", "99")
	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, "99", mr.HGet(redis.DefaultKey, "demand"))
}

func TestPool_SyncReadsSignals(t *testing.T) {
	mr, p := newPool(t)
	ctx := context.Background()

	mr.HSet(redis.DefaultKey, "supply", "10", "utilisation", "0.5")
	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, 10.0, p.Supply())
	assert.Equal(t, 0.5, p.Utilisation())
	assert.Equal(t, 0.0, p.Allocation())

	mr.HSet(redis.DefaultKey, "allocation", "0.8")
	mr.HDel(redis.DefaultKey, "supply")
	require.NoError(t, p.Sync(ctx))
	assert.Equal(t, 10.0, p.Supply(), "missing fields keep their last value")
	assert.Equal(t, 0.8, p.Allocation())
}

func TestPool_SyncRejectsGarbage(t *testing.T) {
	mr, p := newPool(t)

	mr.HSet(redis.DefaultKey, "utilisation", "lots")
	err := p.Sync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "utilisation")
}

func TestPool_SyncServerDown(t *testing.T) {
	mr, p := newPool(t)
	p.SetDemand(3)
	mr.Close()

	assert.Error(t, p.Sync(context.Background()))
	assert.Error(t, p.Ping(context.Background()))
	assert.Equal(t, 3.0, p.Demand())
}

func TestPool_RunSyncsPeriodically(t *testing.T) {
	mr, p := newPool(t, redis.WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		done <- err
	}()

	p.SetDemand(4)
	mr.HSet(redis.DefaultKey, "supply", "7")
	require.Eventually(t, func() bool {
		return mr.HGet(redis.DefaultKey, "demand") == "4" && p.Supply() == 7
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
