package devicekeys

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/villagecompute/posoffline/internal/client/models"
	"github.com/villagecompute/posoffline/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE device_keys (
  device_id TEXT NOT NULL,
  key_material BLOB NOT NULL,
  key_version INTEGER NOT NULL,
  current INTEGER NOT NULL DEFAULT 0,
  paired_at TIMESTAMP NOT NULL,
  PRIMARY KEY (device_id, key_version)
);
`)
	require.NoError(t, err)

	return db
}

func TestGetCurrent_NotPaired(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetCurrent(context.Background())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAppend_RotationKeepsOldVersions(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	k1 := &models.DeviceKey{DeviceID: "dev-7", KeyMaterial: []byte("key-v1"), KeyVersion: 1, PairedAt: time.Now().UTC()}
	require.NoError(t, r.Append(ctx, k1))

	cur, err := r.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cur.KeyVersion)
	assert.True(t, cur.Current)

	// re-pairing appends version 2 and demotes version 1
	k2 := &models.DeviceKey{DeviceID: "dev-7", KeyMaterial: []byte("key-v2"), KeyVersion: 2, PairedAt: time.Now().UTC()}
	require.NoError(t, r.Append(ctx, k2))

	cur, err = r.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.KeyVersion)
	assert.Equal(t, []byte("key-v2"), cur.KeyMaterial)

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].KeyVersion)
	assert.False(t, all[0].Current)
	assert.Equal(t, []byte("key-v1"), all[0].KeyMaterial)
}
