package download

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/config"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
	"github.com/avolkovs/tripatlas/internal/quota"
	"github.com/avolkovs/tripatlas/internal/storage/checkpoints"
	"github.com/avolkovs/tripatlas/internal/storage/entities"
	"github.com/avolkovs/tripatlas/internal/storage/tiles"
	"github.com/avolkovs/tripatlas/internal/storage/trips"

	_ "modernc.org/sqlite"
)

const testTileSize = 1024

// fakeAPI serves a fixed bundle and synthetic tiles, counting every key it
// serves so tests can assert nothing is fetched twice. failAfter > 0 makes
// tile fetches fail once that many tiles have been served.
type fakeAPI struct {
	mu          sync.Mutex
	bundle      *models.TripBundle
	metadataErr error
	served      map[models.TileKey]int
	servedTotal int
	failAfter   int
	onFetch     func()
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) ListTrips(ctx context.Context) ([]models.TripSummary, error) {
	return []models.TripSummary{{ID: f.bundle.Trip.ID, Name: f.bundle.Trip.Name, Bounds: f.bundle.Trip.Bounds}}, nil
}

func (f *fakeAPI) FetchTripMetadata(ctx context.Context, tripID string) (*models.TripBundle, error) {
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.bundle, nil
}

func (f *fakeAPI) FetchTileBatch(ctx context.Context, keys []models.TileKey) ([]models.Tile, error) {
	if f.onFetch != nil {
		f.onFetch()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && f.servedTotal+len(keys) > f.failAfter {
		return nil, fmt.Errorf("%w: connection reset", common.ErrServerUnavailable)
	}
	out := make([]models.Tile, 0, len(keys))
	for _, k := range keys {
		f.served[k]++
		f.servedTotal++
		out = append(out, models.Tile{Key: k, Data: make([]byte, testTileSize)})
	}
	return out, nil
}

func (f *fakeAPI) SendMutation(ctx context.Context, m *models.Mutation) error { return nil }
func (f *fakeAPI) Close() error                                               { return nil }

func (f *fakeAPI) maxServedPerKey() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, n := range f.served {
		if n > max {
			max = n
		}
	}
	return max
}

type fixture struct {
	engine      *Engine
	api         *fakeAPI
	trips       *trips.SQLiteRepository
	tiles       *tiles.SQLiteRepository
	checkpoints *checkpoints.SQLiteRepository
	ledger      *quota.Ledger
	cfg         *config.Config
	events      []models.Event
	evMu        sync.Mutex
}

func (f *fixture) eventsOf(kind func(models.Event) bool) []models.Event {
	f.evMu.Lock()
	defer f.evMu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if kind(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) lastPaused(t *testing.T) models.Paused {
	t.Helper()
	got := f.eventsOf(func(e models.Event) bool { _, ok := e.(models.Paused); return ok })
	require.NotEmpty(t, got)
	return got[len(got)-1].(models.Paused)
}

// testBounds covers a handful of z10-z11 tiles so downloads span several
// batches without being slow.
var testBounds = models.BoundingBox{South: 46.0, West: 7.0, North: 46.4, East: 7.8}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE trips (
  id TEXT PRIMARY KEY, name TEXT NOT NULL, notes TEXT NOT NULL DEFAULT '',
  south REAL NOT NULL, west REAL NOT NULL, north REAL NOT NULL, east REAL NOT NULL,
  local_state TEXT NOT NULL DEFAULT 'server_only', updated_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE places (
  id TEXT PRIMARY KEY, trip_id TEXT NOT NULL, name TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '', lat REAL NOT NULL, lon REAL NOT NULL,
  icon TEXT NOT NULL DEFAULT '', marker_color TEXT NOT NULL DEFAULT '',
  sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE regions (
  id TEXT PRIMARY KEY, trip_id TEXT NOT NULL, name TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '', south REAL NOT NULL, west REAL NOT NULL,
  north REAL NOT NULL, east REAL NOT NULL, sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE segments (
  id TEXT PRIMARY KEY, trip_id TEXT NOT NULL, name TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '', polyline TEXT NOT NULL DEFAULT '',
  sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE areas (
  id TEXT PRIMARY KEY, trip_id TEXT NOT NULL, name TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '', south REAL NOT NULL, west REAL NOT NULL,
  north REAL NOT NULL, east REAL NOT NULL, sort_order INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE tiles (
  source_id TEXT NOT NULL,
  z INTEGER NOT NULL,
  x INTEGER NOT NULL,
  y INTEGER NOT NULL,
  trip_id TEXT NOT NULL,
  data BLOB NOT NULL,
  size_bytes INTEGER NOT NULL,
  PRIMARY KEY (source_id, z, x, y)
);
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

func setup(t *testing.T, db *sql.DB, client *fakeAPI) *fixture {
	t.Helper()
	if db == nil {
		db = setupDB(t)
	}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MinZoom = 10
	cfg.MaxZoom = 11
	cfg.TileBatchSize = 5
	cfg.FetchConcurrency = 1
	cfg.AvgTileBytes = testTileSize
	cfg.CacheMaxBytes = 100 * 1024 * 1024

	if client == nil {
		client = &fakeAPI{served: make(map[models.TileKey]int)}
	}
	if client.bundle == nil {
		client.bundle = &models.TripBundle{
			Trip: models.Trip{ID: "t1", Name: "Alps", Bounds: testBounds},
			Places: []models.Place{
				{ID: "p1", TripID: "t1", Name: "Rifugio", Lat: 46.1, Lon: 7.5},
			},
		}
	}

	tr := trips.NewSQLiteRepository(db)
	tl := tiles.NewSQLiteRepository(db)
	cps := checkpoints.NewSQLiteRepository(db)
	ents := entities.NewSQLiteRepository(db)

	ledger := quota.NewLedger(cfg.CacheMaxBytes)
	f := &fixture{
		api:         client,
		trips:       tr,
		tiles:       tl,
		checkpoints: cps,
		ledger:      ledger,
		cfg:         cfg,
	}
	f.engine = NewEngine(client, tr, ents, tl, cps, ledger, cfg, logging.NewNopLogger())
	f.engine.Notify(func(e models.Event) {
		f.evMu.Lock()
		defer f.evMu.Unlock()
		f.events = append(f.events, e)
	})
	return f
}

func totalTiles(cfg *config.Config) int {
	return len(quota.EnumerateTiles(testBounds, cfg.MinZoom, cfg.MaxZoom, cfg.TileSourceID))
}

func TestStart_DownloadsToCompletion(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)
	total := totalTiles(f.cfg)

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	trip, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, trip.LocalState)

	_, err = f.checkpoints.Load(ctx, "t1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err := f.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, total, n)

	usage := f.ledger.Usage()
	assert.Equal(t, int64(total*testTileSize), usage.UsedBytes)

	done := f.eventsOf(func(e models.Event) bool { _, ok := e.(models.Completed); return ok })
	require.Len(t, done, 1)
	completed := done[0].(models.Completed)
	assert.Equal(t, total, completed.TilesDownloaded)
	assert.Equal(t, 1, f.api.maxServedPerKey())
}

func TestStart_MetadataOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: false}))

	trip, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateMetadataOnly, trip.LocalState)

	usage := f.ledger.Usage()
	assert.Zero(t, usage.UsedBytes)
}

func TestStart_MetadataFetchFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{
		served:      make(map[models.TileKey]int),
		metadataErr: fmt.Errorf("%w: 502", common.ErrServerUnavailable),
	}
	f := setup(t, nil, client)

	err := f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true})
	require.Error(t, err)

	// nothing resumable was left behind
	_, err = f.checkpoints.Load(ctx, "t1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	failed := f.eventsOf(func(e models.Event) bool { _, ok := e.(models.Failed); return ok })
	assert.Len(t, failed, 1)
}

func TestStart_QuotaPrecheck(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)
	total := totalTiles(f.cfg)

	// leave room for less than the estimate
	f.cfg.CacheMaxBytes = int64(total*testTileSize) / 2
	f.ledger = quota.NewLedger(f.cfg.CacheMaxBytes)
	f.engine.ledger = f.ledger

	err := f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQuotaExceeded)

	// explicit override proceeds anyway
	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true, Force: true}))
}

func TestNetworkLoss_PausesThenResumesAcrossRestart(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, db, client)
	total := totalTiles(f.cfg)
	require.Greater(t, total, 10)

	// drop the network after two full batches
	client.failAfter = 2 * f.cfg.TileBatchSize

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	paused := f.lastPaused(t)
	assert.Equal(t, models.PauseNetworkLost, paused.Reason)
	assert.Equal(t, 2*f.cfg.TileBatchSize, paused.TilesCompleted)
	assert.Equal(t, total, paused.TotalTiles)
	assert.True(t, paused.CanResume)

	// a fresh engine over the same database stands in for a process restart
	client.failAfter = 0
	f2 := setup(t, db, client)
	f2.ledger.Seed(mustRefs(t, f2))

	restored, err := f2.engine.RestorePaused(ctx)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	assert.Equal(t, "t1", restored[0].TripID)
	assert.Equal(t, 2*f.cfg.TileBatchSize, restored[0].CompletedTiles)

	require.NoError(t, f2.engine.Resume(ctx, "t1", false))

	n, err := f2.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, total, n)

	// every tile fetched exactly once across pause and resume
	assert.Equal(t, 1, client.maxServedPerKey())

	trip, err := f2.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, trip.LocalState)
}

func mustRefs(t *testing.T, f *fixture) []models.TileRef {
	t.Helper()
	refs, err := f.tiles.ListRefs(context.Background())
	require.NoError(t, err)
	return refs
}

func storedBytes(t *testing.T, f *fixture) int64 {
	t.Helper()
	var total int64
	for _, ref := range mustRefs(t, f) {
		total += ref.SizeBytes
	}
	return total
}

func TestRestart_RewritingKeptTilesDoesNotDoubleCharge(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, db, client)
	total := totalTiles(f.cfg)

	// one batch lands, then the download is cancelled with the data kept
	client.failAfter = f.cfg.TileBatchSize
	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))
	require.NoError(t, f.engine.Cancel(ctx, "t1", false))

	// after a restart a fresh start re-fetches from the beginning; the kept
	// tiles are re-written but must not be charged a second time
	client.failAfter = 0
	f2 := setup(t, db, client)
	f2.ledger.Seed(mustRefs(t, f2))
	require.NoError(t, f2.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	n, err := f2.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, total, n)
	assert.Equal(t, storedBytes(t, f2), f2.ledger.Usage().UsedBytes)
	assert.Equal(t, int64(total*testTileSize), f2.ledger.Usage().UsedBytes)
}

func TestCacheLimit_ForcesAutomaticPause(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)

	// budget smaller than one batch, so the limit trips right after the
	// first batch lands
	f.cfg.CacheMaxBytes = int64(f.cfg.TileBatchSize*testTileSize) - 1
	f.ledger = quota.NewLedger(f.cfg.CacheMaxBytes)
	f.engine.ledger = f.ledger
	f.ledger.SetNotifyFunc(f.engine.emit)

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true, Force: true}))

	paused := f.lastPaused(t)
	assert.Equal(t, models.PauseCacheLimit, paused.Reason)
	assert.True(t, paused.CanResume)
	assert.Equal(t, f.cfg.TileBatchSize, paused.TilesCompleted)

	cp, err := f.checkpoints.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cp.Resumable)
	assert.Equal(t, models.PauseCacheLimit, cp.Reason)

	crossed := f.eventsOf(func(e models.Event) bool {
		tc, ok := e.(models.ThresholdCrossed)
		return ok && tc.Level == models.QuotaLimitReached
	})
	assert.NotEmpty(t, crossed)
}

// flakyTiles fails batch writes with a disk-full error once failFrom batches
// have landed.
type flakyTiles struct {
	tiles.Repository
	mu       sync.Mutex
	failFrom int
	batches  int
}

func (f *flakyTiles) WriteBatch(ctx context.Context, tripID string, batch []models.Tile) (int64, error) {
	f.mu.Lock()
	f.batches++
	n := f.batches
	f.mu.Unlock()
	if n > f.failFrom {
		return 0, fmt.Errorf("writing tile batch: %w", syscall.ENOSPC)
	}
	return f.Repository.WriteBatch(ctx, tripID, batch)
}

func TestStorageFull_PausesWithStorageLowReason(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)
	f.engine.tiles = &flakyTiles{Repository: f.tiles, failFrom: 1}

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	paused := f.lastPaused(t)
	assert.Equal(t, models.PauseStorageLow, paused.Reason)
	assert.True(t, paused.CanResume)
	assert.Equal(t, f.cfg.TileBatchSize, paused.TilesCompleted)

	cp, err := f.checkpoints.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cp.Resumable)
	assert.Equal(t, models.PauseStorageLow, cp.Reason)
}

func TestContextCancel_StillPersistsCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, nil, client)

	var calls int
	client.onFetch = func() {
		calls++
		if calls == 2 {
			cancel()
		}
	}

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	paused := f.lastPaused(t)
	assert.Equal(t, models.PauseNetworkLost, paused.Reason)
	assert.True(t, paused.CanResume)

	cp, err := f.checkpoints.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, cp.Resumable)
	assert.Equal(t, f.cfg.TileBatchSize, cp.CompletedTiles)
}

func TestSecondStartWhileActiveIsRejected(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, nil, client)

	var second error
	var once sync.Once
	client.onFetch = func() {
		once.Do(func() {
			second = f.engine.Start(ctx, "t2", StartOptions{IncludeTiles: true})
		})
	}

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))
	assert.ErrorIs(t, second, common.ErrTransferActive)

	// after the first terminates a new start succeeds
	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))
}

func TestPause_HonoredAtBatchBoundary(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, nil, client)

	var once sync.Once
	client.onFetch = func() {
		once.Do(func() {
			assert.True(t, f.engine.Pause("t1"))
		})
	}

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	paused := f.lastPaused(t)
	assert.Equal(t, models.PauseUserRequest, paused.Reason)
	assert.True(t, paused.CanResume)
	// exactly the first batch completed before the request was honored
	assert.Equal(t, f.cfg.TileBatchSize, paused.TilesCompleted)

	cp, err := f.checkpoints.Load(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, cp.Resumable)
}

func TestPause_NoActiveTransfer(t *testing.T) {
	f := setup(t, nil, nil)
	assert.False(t, f.engine.Pause("t1"))
}

func TestCancel_CleanupDeletesTilesAndCheckpoint(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, db, client)

	client.failAfter = f.cfg.TileBatchSize
	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))
	require.Equal(t, models.PauseNetworkLost, f.lastPaused(t).Reason)

	require.NoError(t, f.engine.Cancel(ctx, "t1", true))

	n, err := f.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.checkpoints.Load(ctx, "t1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	trip, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateMetadataOnly, trip.LocalState)

	assert.Zero(t, f.ledger.Usage().UsedBytes)

	cancelled := f.eventsOf(func(e models.Event) bool { _, ok := e.(models.Cancelled); return ok })
	require.Len(t, cancelled, 1)
	assert.Equal(t, f.cfg.TileBatchSize, cancelled[0].(models.Cancelled).TilesDeleted)
}

func TestCancel_KeepDataRefusesResume(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	client := &fakeAPI{served: make(map[models.TileKey]int)}
	f := setup(t, db, client)

	client.failAfter = f.cfg.TileBatchSize
	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	require.NoError(t, f.engine.Cancel(ctx, "t1", false))

	cp, err := f.checkpoints.Load(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, cp.Resumable)
	assert.Equal(t, models.PauseUserCancel, cp.Reason)

	// partial tiles survive
	n, err := f.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, f.cfg.TileBatchSize, n)

	err = f.engine.Resume(ctx, "t1", false)
	assert.ErrorIs(t, err, common.ErrNotResumable)
}

func TestResume_NoCheckpoint(t *testing.T) {
	f := setup(t, nil, nil)
	err := f.engine.Resume(context.Background(), "ghost", false)
	assert.ErrorIs(t, err, common.ErrNoActiveTransfer)
}

func TestDeleteTrip_RemovesOfflineData(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))
	require.Positive(t, f.ledger.Usage().UsedBytes)

	require.NoError(t, f.engine.DeleteTrip(ctx, "t1"))

	n, err := f.tiles.CountByTrip(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.ledger.Usage().UsedBytes)

	trip, err := f.trips.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.StateServerOnly, trip.LocalState)
}

func TestThresholdEventsReachEngineObservers(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil, nil)
	total := totalTiles(f.cfg)

	// size the budget so the download crosses the warning level
	f.cfg.CacheMaxBytes = int64(total * testTileSize)
	f.ledger = quota.NewLedger(f.cfg.CacheMaxBytes)
	f.engine.ledger = f.ledger
	f.ledger.SetNotifyFunc(f.engine.emit)

	require.NoError(t, f.engine.Start(ctx, "t1", StartOptions{IncludeTiles: true}))

	crossed := f.eventsOf(func(e models.Event) bool { _, ok := e.(models.ThresholdCrossed); return ok })
	assert.NotEmpty(t, crossed)
}
