// Package server initializes and runs the POS offline server: it opens the
// database, runs migrations, wires the services, and serves the HTTP API with
// graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/rueidis"

	"github.com/villagecompute/posoffline/internal/logging"
	"github.com/villagecompute/posoffline/internal/server/config"
	"github.com/villagecompute/posoffline/internal/server/devices"
	"github.com/villagecompute/posoffline/internal/server/exports"
	"github.com/villagecompute/posoffline/internal/server/httpapi"
	"github.com/villagecompute/posoffline/internal/server/offline"
	"github.com/villagecompute/posoffline/internal/server/repositories/repomanager"
	"github.com/villagecompute/posoffline/internal/server/stream"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	redis  rueidis.Client
	api    *httpapi.Server
}

func NewApp(c *config.Config) (*App, error) {

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

	var notifier stream.Notifier = stream.NoopNotifier{}
	var redisClient rueidis.Client
	if c.RedisAddr != "" {
		redisClient, err = rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{c.RedisAddr}})
		if err != nil {
			// wake-ups are a latency optimization, the worker polls regardless
			logger.Warn(context.Background(), "redis unavailable, wake-ups disabled", "error", err.Error())
		} else {
			notifier = stream.NewRedisNotifier(redisClient, c.RedisStream, logger)
		}
	}

	ds := devices.NewService(db, rm, c, masterKey, logger)
	off := offline.NewService(db, rm, notifier, logger)
	es := exports.NewService(c)

	api := httpapi.NewServer(c, off, ds, es, logger)

	return &App{config: c, logger: logger, db: db, redis: redisClient, api: api}, nil
}

func decodeMasterKey(masterKeyHex string) ([]byte, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.api.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "shutdown error", "error", err.Error())
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.redis != nil {
		app.redis.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err.Error())
	}
}
