package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ventas-erp/ventas-erp/internal/observability"
	"github.com/ventas-erp/ventas-erp/internal/platform/cache"
	"github.com/ventas-erp/ventas-erp/internal/shared"
	"github.com/ventas-erp/ventas-erp/internal/stock"
)

// NewStockService wires the stock service the HTTP server, the worker and the
// CLI share. redisClient may be nil, which disables the stock view cache and
// the cross-process repair lock.
func NewStockService(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *stock.Service {
	svc := stock.NewService(
		stock.NewRepository(pool),
		shared.NewAuditLogger(pool),
		shared.NewIdempotencyStore(pool),
		cfg.StockServiceConfig(),
	)
	svc.SetLogger(logger)
	svc.SetRecorder(metrics.Stock())
	if redisClient != nil {
		svc.SetCache(stock.NewCache(redisClient, cfg.StockCacheTTL))
		svc.SetRepairLock(cache.NewLocker(redisClient, logger))
	}
	return svc
}
