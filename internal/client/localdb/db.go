// Package localdb opens the terminal-local SQLite store and wires up the
// queue repositories.
package localdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/villagecompute/posoffline/internal/client/migrations"
	"github.com/villagecompute/posoffline/internal/client/repositories/devicekeys"
	"github.com/villagecompute/posoffline/internal/client/repositories/queue"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

type Repositories struct {
	Queue      queue.Repository
	DeviceKeys devicekeys.Repository
	DB         *sql.DB
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		Queue:      queue.NewSQLiteRepository(db),
		DeviceKeys: devicekeys.NewSQLiteRepository(db),
		DB:         db,
	}, nil
}
