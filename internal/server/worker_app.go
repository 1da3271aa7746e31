package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/rueidis"

	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/checkout"
	"github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/devices"
	"github.com/villagecompute/posoffline/internal/server/reconciliation"
	"github.com/villagecompute/posoffline/internal/server/repositories/repomanager"
	"github.com/villagecompute/posoffline/internal/server/stream"
)

// WorkerApp bootstraps the reconciliation worker process.
type WorkerApp struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  rueidis.Client
	worker *reconciliation.Worker
}

func NewWorkerApp(c *config.Config) (*WorkerApp, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	masterKey, err := decodeMasterKey(c.MasterKeyHex)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	var wakeup reconciliation.WakeupSource
	var redisClient rueidis.Client
	if c.RedisAddr != "" {
		redisClient, err = rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{c.RedisAddr}})
		if err != nil {
			logger.Warn(context.Background(), "redis unavailable, falling back to polling", "error", err.Error())
		} else {
			hostname, _ := os.Hostname()
			wakeup = stream.NewConsumer(redisClient, c.RedisStream, c.RedisConsumerGroup, hostname, logger)
		}
	}

	keys := devices.NewService(db, rm, c, masterKey, logger)
	co := checkout.NewHTTPService(c.CheckoutBaseURL, c.CheckoutTimeout)

	worker := reconciliation.NewWorker(db, rm, keys, co, wakeup, c, logger)

	return &WorkerApp{config: c, logger: logger, db: db, redis: redisClient, worker: worker}, nil
}

// Run drives the worker until a signal or ctx cancellation stops it.
func (app *WorkerApp) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting reconciliation worker...")

	initSignalHandler(cancelFunc)

	if err := app.worker.Run(ctx); err != nil && ctx.Err() == nil {
		app.logger.Error(ctx, "worker stopped", "error", err.Error())
	}

	if app.redis != nil {
		app.redis.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
