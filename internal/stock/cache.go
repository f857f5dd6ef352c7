package stock

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cachePrefix = "stock:view:"

// Cache keeps stock views in Redis. Concurrent misses for the same product
// share one database load. A nil Cache always loads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(id ProductID) string {
	return cachePrefix + strconv.FormatInt(int64(id), 10)
}

// Load returns the cached view or populates it using loader.
func (c *Cache) Load(ctx context.Context, id ProductID, loader func(context.Context) (StockView, error)) (StockView, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := cacheKey(id)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var view StockView
		if err := json.Unmarshal(payload, &view); err == nil {
			return view, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}

	// The load is shared by every waiter; one caller leaving must not cancel it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		view, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(view); err == nil {
			_ = c.client.Set(loadCtx, key, raw, c.ttl).Err()
		}
		return view, nil
	})
	select {
	case <-ctx.Done():
		return StockView{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return StockView{}, res.Err
		}
		return res.Val.(StockView), nil
	}
}

// Invalidate drops the cached views of the given products.
func (c *Cache) Invalidate(ctx context.Context, ids ...ProductID) error {
	if c == nil || c.client == nil || len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}
