package stock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheServesRepeatedReads(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	var loads int32
	loader := func(context.Context) (StockView, error) {
		atomic.AddInt32(&loads, 1)
		return StockView{Product: Product{ID: colaID, StockTotal: 153}}, nil
	}

	view, err := cache.Load(ctx, colaID, loader)
	require.NoError(t, err)
	require.Equal(t, int64(153), view.Product.StockTotal)
	require.True(t, mr.Exists(cacheKey(colaID)))

	view, err = cache.Load(ctx, colaID, loader)
	require.NoError(t, err)
	require.Equal(t, int64(153), view.Product.StockTotal)
	require.Equal(t, int32(1), atomic.LoadInt32(&loads))

	require.NoError(t, cache.Invalidate(ctx, colaID))
	require.False(t, mr.Exists(cacheKey(colaID)))
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	var loads int32
	release := make(chan struct{})
	loader := func(context.Context) (StockView, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return StockView{Product: Product{ID: colaID}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Load(ctx, colaID, loader)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestCacheSharedLoadSurvivesCallerCancel(t *testing.T) {
	cache, mr := newTestCache(t)
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (StockView, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return StockView{}, err
		}
		return StockView{Product: Product{ID: colaID, StockTotal: 153}}, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Load(firstCtx, colaID, loader)
		firstErr <- err
	}()
	<-started

	type result struct {
		view StockView
		err  error
	}
	second := make(chan result, 1)
	go func() {
		view, err := cache.Load(context.Background(), colaID, loader)
		second <- result{view, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	res := <-second
	require.NoError(t, res.err)
	require.Equal(t, int64(153), res.view.Product.StockTotal)
	require.True(t, mr.Exists(cacheKey(colaID)))
}

func TestNilCacheAlwaysLoads(t *testing.T) {
	var cache *Cache
	view, err := cache.Load(context.Background(), colaID, func(context.Context) (StockView, error) {
		return StockView{Product: Product{ID: colaID}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, colaID, view.Product.ID)
	require.NoError(t, cache.Invalidate(context.Background(), colaID))
}

func TestSaleInvalidatesCachedStock(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := newColaRepo()
	svc := NewService(repo, nil, nil, ServiceConfig{})
	svc.SetCache(cache)
	ctx := context.Background()

	view, err := svc.GetStock(ctx, colaID)
	require.NoError(t, err)
	require.Equal(t, int64(153), view.Product.StockTotal)

	_, err = svc.RecordSale(ctx, saleOf(colaID, 1, entryPtr(boxID)))
	require.NoError(t, err)

	view, err = svc.GetStock(ctx, colaID)
	require.NoError(t, err)
	require.Equal(t, int64(141), view.Product.StockTotal)
	for _, e := range view.Entries {
		if e.ID == boxID {
			require.Equal(t, int64(0), e.Stock)
		}
	}
}
