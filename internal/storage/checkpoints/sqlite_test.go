package checkpoints

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/models"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE transfer_checkpoints (
  trip_id TEXT PRIMARY KEY,
  total_tiles INTEGER NOT NULL,
  completed_tiles INTEGER NOT NULL DEFAULT 0,
  completed_bytes INTEGER NOT NULL DEFAULT 0,
  reason TEXT NOT NULL DEFAULT 'none',
  resumable INTEGER NOT NULL DEFAULT 1,
  updated_at TEXT NOT NULL
);
`)
	require.NoError(t, err)
	return db
}

func TestSave_InsertAndAdvance(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	cp := &models.Checkpoint{
		TripID:     "t1",
		TotalTiles: 200,
		Reason:     models.PauseNone,
		Resumable:  true,
	}
	require.NoError(t, r.Save(ctx, cp))

	// advance after a batch
	cp.CompletedTiles = 90
	cp.CompletedBytes = 90 * 1024
	cp.Reason = models.PauseNetworkLost
	require.NoError(t, r.Save(ctx, cp))

	got, err := r.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 200, got.TotalTiles)
	assert.Equal(t, 90, got.CompletedTiles)
	assert.Equal(t, int64(90*1024), got.CompletedBytes)
	assert.Equal(t, models.PauseNetworkLost, got.Reason)
	assert.True(t, got.Resumable)
	assert.Equal(t, 110, got.Remaining())
}

func TestLoad_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLoadAllPaused(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, &models.Checkpoint{TripID: "t1", TotalTiles: 10, Reason: models.PauseNetworkLost, Resumable: true}))
	require.NoError(t, r.Save(ctx, &models.Checkpoint{TripID: "t2", TotalTiles: 20, Reason: models.PauseUserCancel, Resumable: false}))

	got, err := r.LoadAllPaused(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byTrip := map[string]models.Checkpoint{}
	for _, cp := range got {
		byTrip[cp.TripID] = cp
	}
	assert.True(t, byTrip["t1"].Resumable)
	assert.False(t, byTrip["t2"].Resumable)
}

func TestDelete(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, &models.Checkpoint{TripID: "t1", TotalTiles: 10}))
	require.NoError(t, r.Delete(ctx, "t1"))

	_, err := r.Load(ctx, "t1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// deleting twice is fine
	require.NoError(t, r.Delete(ctx, "t1"))
}
