package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ventas-erp/ventas-erp/cmd/ventas/cli"
	"github.com/ventas-erp/ventas-erp/internal/app"
	"github.com/ventas-erp/ventas-erp/internal/masterdata/units"
	"github.com/ventas-erp/ventas-erp/internal/observability"
	"github.com/ventas-erp/ventas-erp/internal/platform/cache"
	"github.com/ventas-erp/ventas-erp/internal/platform/db"
	"github.com/ventas-erp/ventas-erp/internal/shared"
	"github.com/ventas-erp/ventas-erp/internal/stock"
	"github.com/ventas-erp/ventas-erp/jobs"
)

const usage = `usage:
  ventas [serve]                          run the HTTP API
  ventas repair [-queue] [-json] [-actor N] [productID]
                                          recompute stored stock totals
  ventas jobs stats                       print queue depth`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "repair":
		os.Exit(repair(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(jobStats(ctx, cfg, args))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, stock cache and repair lock disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer closeRedis(redisClient, logger)

	metrics := observability.NewMetrics()
	stockService := app.NewStockService(cfg, pool, redisClient, metrics, logger)

	redisOpts := cfg.AsynqRedisOpt()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	stockHandler := stock.NewHandler(logger, stockService, jobClient)
	stockHandler.SetAuditReader(shared.NewAuditLogger(pool))
	unitsHandler := units.NewHandler(logger, units.NewService(units.NewRepository(pool)))

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		StockHandler: stockHandler,
		UnitsHandler: unitsHandler,
		JobHandler:   jobs.NewHandler(inspector, logger),
		Metrics:      metrics,
		Pool:         pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func repair(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("repair", flag.ContinueOnError)
	queue := fs.Bool("queue", false, "hand the repair to the worker instead of running it here")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	actor := fs.Int64("actor", 0, "actor id recorded in the audit log")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	opts := cli.RepairOptions{Queue: *queue, JSONOutput: *asJSON, ActorID: *actor}
	if fs.NArg() > 0 {
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil || id <= 0 {
			fmt.Fprintf(os.Stderr, "repair: invalid product id %q\n", fs.Arg(0))
			return 2
		}
		opts.ProductID = id
	}

	if opts.Queue {
		jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return cli.ExitFailed
		}
		defer jobsCLI.Close()
		return cli.RepairCommand(ctx, nil, jobsCLI, opts)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitFailed
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisOptions()); err == nil {
		redisClient = client
	} else {
		logger.Warn("redis unavailable, running repair without the lock", slog.Any("error", err))
	}
	defer closeRedis(redisClient, logger)

	svc := app.NewStockService(cfg, pool, redisClient, nil, logger)
	return cli.RepairCommand(ctx, svc, nil, opts)
}

func jobStats(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) != 1 || args[0] != "stats" {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedisOpt())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitFailed
	}
	defer jobsCLI.Close()
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cli.ExitFailed
	}
	fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return cli.ExitOK
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
