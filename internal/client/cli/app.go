package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/villagecompute/posoffline/internal/client/config"
	"github.com/villagecompute/posoffline/internal/client/localdb"
	"github.com/villagecompute/posoffline/internal/client/services"
	"github.com/villagecompute/posoffline/internal/client/transport"
	"github.com/villagecompute/posoffline/internal/common"
	"github.com/villagecompute/posoffline/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// App wires the terminal components together: local queue storage, the queue
// manager, the sync trigger and orchestrator, and the HTTP transport.
type App struct {
	config       *config.Config
	queue        services.QueueService
	orchestrator *services.SyncOrchestrator
	trigger      *services.SyncTrigger
	api          transport.Client
	logger       logging.Logger
	reader       *bufio.Reader
	closeDB      func() error
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	repos, err := localdb.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	api := transport.NewHTTPClient(c.ServerEndpointAddr, c.RequestTimeout)

	queue := services.NewQueueService(repos.Queue, repos.DeviceKeys, c.QueueSoftLimit, c.QueueHardLimit, logger)
	orchestrator := services.NewSyncOrchestrator(queue, api, c.SyncBatchSize, logger)
	trigger := services.NewSyncTrigger(api, logger)

	app := &App{
		config:       c,
		queue:        queue,
		orchestrator: orchestrator,
		trigger:      trigger,
		api:          api,
		logger:       logger.With("module", "cli"),
		reader:       bufio.NewReader(os.Stdin),
		closeDB:      repos.DB.Close,
	}

	if token, err := app.loadDeviceToken(); err == nil && token != "" {
		api.SetDeviceToken(token)
	}

	return app, nil
}

// Run starts the background trigger and the sync consumer, then hands
// control to the REPL. Returns when the user exits.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.closeDB()

	go a.trigger.Run(ctx, a.config.OnlineCheckInterval, a.config.SyncInterval)
	go a.consumeSyncRequests(ctx)

	fmt.Println("POS offline queue (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

// consumeSyncRequests services the trigger channel so syncs requested by the
// connectivity watcher run even while the operator is idle at the prompt.
func (a *App) consumeSyncRequests(ctx context.Context) {
	for {
		select {
		case <-a.trigger.Requests():
			result, err := a.orchestrator.SyncOnce(ctx)
			if err != nil {
				a.logger.Warn(ctx, "background sync failed", "error", err.Error())
				continue
			}
			if result.Uploaded > 0 || result.Resolved > 0 {
				a.logger.Info(ctx, "background sync",
					"uploaded", result.Uploaded,
					"duplicates", result.Duplicates,
					"rejected", result.Rejected,
					"resolved", result.Resolved)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) getStatus() string {
	mode := ModeOffline
	if a.trigger.Online() {
		mode = ModeOnline
	}
	if !a.isPaired() {
		return fmt.Sprintf("(unpaired %s)", mode)
	}
	return fmt.Sprintf("(%s)", mode)
}

func (a *App) isPaired() bool {
	_, err := a.queue.DeviceID(context.Background())
	return !errors.Is(err, common.ErrDeviceNotPaired)
}

// tokenPath keeps the device token next to the queue database so wiping the
// terminal state removes both.
func (a *App) tokenPath() string {
	return filepath.Join(filepath.Dir(a.config.DatabasePath), "device_token")
}

func (a *App) saveDeviceToken(token string) error {
	return os.WriteFile(a.tokenPath(), []byte(token), 0o600)
}

func (a *App) loadDeviceToken() (string, error) {
	data, err := os.ReadFile(a.tokenPath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
