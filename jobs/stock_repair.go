package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ventas-erp/ventas-erp/internal/jobs"
	"github.com/ventas-erp/ventas-erp/internal/stock"
)

// StockRepairer is the slice of stock.Service the repair job drives.
type StockRepairer interface {
	RepairProduct(ctx context.Context, id stock.ProductID, actorID int64) (stock.RepairResult, error)
	RepairAll(ctx context.Context, actorID int64) (stock.RepairSummary, error)
}

// StockRepairJob handles TaskStockRepair.
type StockRepairJob struct {
	Service StockRepairer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockRepairJob initialises the repair handler.
func NewStockRepairJob(service StockRepairer, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockRepairJob {
	return &StockRepairJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes one repair request.
func (j *StockRepairJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("stock repair: handler not configured")
	}
	var payload StockRepairPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskStockRepair)
	logger := j.logger().With(slog.Int64("product_id", payload.ProductID))

	if payload.ProductID > 0 {
		res, err := j.Service.RepairProduct(ctx, stock.ProductID(payload.ProductID), payload.RequestedBy)
		switch {
		case errors.Is(err, stock.ErrNotFound), errors.Is(err, stock.ErrNoUnitsConfigured):
			logger.Warn("stock repair skipped", slog.Any("error", err))
			tracker.Skip()
			return asynq.SkipRetry
		case err != nil:
			logger.Error("stock repair failed", slog.Any("error", err))
			return tracker.End(err)
		}
		if res.Changed() {
			j.Metrics.AddCorrections(TaskStockRepair, 1)
		}
		return tracker.End(nil)
	}

	logger.Info("starting stock repair sweep")
	summary, err := j.Service.RepairAll(ctx, payload.RequestedBy)
	if errors.Is(err, stock.ErrRepairRunning) {
		logger.Info("stock repair already running elsewhere")
		tracker.Skip()
		return nil
	}
	j.Metrics.AddCorrections(TaskStockRepair, len(summary.Corrected))
	if err != nil {
		logger.Error("stock repair sweep failed",
			slog.Int("corrected", len(summary.Corrected)),
			slog.Any("failed", summary.Failed),
			slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("stock repair sweep done",
		slog.Int("products", summary.Products),
		slog.Int("corrected", len(summary.Corrected)))
	return tracker.End(nil)
}

func (j *StockRepairJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
