package repomanager

import (
	"context"
	"database/sql"

	"github.com/villagecompute/posoffline/internal/dbx"
	"github.com/villagecompute/posoffline/internal/server/repositories/audit"
	"github.com/villagecompute/posoffline/internal/server/repositories/devicekeys"
	"github.com/villagecompute/posoffline/internal/server/repositories/devices"
	"github.com/villagecompute/posoffline/internal/server/repositories/reconciliation"
)

// RepositoryManager vends repository implementations bound to a DBTX, so
// services can run several repositories inside one transaction.
type RepositoryManager interface {
	Reconciliation(db dbx.DBTX) reconciliation.Repository
	Devices(db dbx.DBTX) devices.Repository
	DeviceKeys(db dbx.DBTX) devicekeys.Repository
	Audit(db dbx.DBTX) audit.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
