// Package download runs resumable trip downloads: metadata first, then map
// tiles in durable batches. A transfer moves through
// Idle -> MetadataFetching -> TileFetching <-> Paused -> Complete, Cancelled
// or Failed; all progress lives in a persisted checkpoint, so a paused or
// interrupted download continues after a process restart from nothing but
// the checkpoint and the trip's bounding box.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avolkovs/tripatlas/internal/api"
	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/config"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
	"github.com/avolkovs/tripatlas/internal/quota"
	"github.com/avolkovs/tripatlas/internal/storage/checkpoints"
	"github.com/avolkovs/tripatlas/internal/storage/entities"
	"github.com/avolkovs/tripatlas/internal/storage/tiles"
	"github.com/avolkovs/tripatlas/internal/storage/trips"
)

// StartOptions controls one Start call.
type StartOptions struct {
	// IncludeTiles false stops after metadata, settling the trip in the
	// metadata-only state.
	IncludeTiles bool
	// Force proceeds even when the quota pre-check says the estimate does
	// not fit.
	Force bool
}

// transfer is the engine's in-memory handle on the one active download.
// Pause and Cancel only flag it; the batch loop honors the request at the
// next batch boundary, never mid-write.
type transfer struct {
	tripID string

	mu        sync.Mutex
	requested bool
	reason    models.PauseReason
	cleanup   bool
}

func (t *transfer) request(reason models.PauseReason, cleanup bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requested {
		return
	}
	t.requested = true
	t.reason = reason
	t.cleanup = cleanup
}

func (t *transfer) takeRequest() (models.PauseReason, bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason, t.cleanup, t.requested
}

type Engine struct {
	api         api.Client
	trips       trips.Repository
	entities    entities.Repository
	tiles       tiles.Repository
	checkpoints checkpoints.Repository
	ledger      *quota.Ledger
	cfg         *config.Config
	log         logging.Logger

	mu     sync.Mutex
	active *transfer

	listenerMu sync.Mutex
	listeners  []func(models.Event)
}

func NewEngine(client api.Client, tr trips.Repository, ents entities.Repository, tl tiles.Repository, cps checkpoints.Repository, ledger *quota.Ledger, cfg *config.Config, log logging.Logger) *Engine {
	e := &Engine{
		api:         client,
		trips:       tr,
		entities:    ents,
		tiles:       tl,
		checkpoints: cps,
		ledger:      ledger,
		cfg:         cfg,
		log:         log,
	}
	// quota threshold events reach the same observers as transfer events
	ledger.SetNotifyFunc(e.emit)
	return e
}

// Notify registers an observer for progress, terminal, and quota events.
func (e *Engine) Notify(fn func(models.Event)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) emit(ev models.Event) {
	e.listenerMu.Lock()
	listeners := make([]func(models.Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// acquire claims the single active-transfer slot.
func (e *Engine) acquire(tripID string) (*transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, fmt.Errorf("%w: trip %s is transferring", common.ErrTransferActive, e.active.tripID)
	}
	t := &transfer{tripID: tripID}
	e.active = t
	return t, nil
}

func (e *Engine) release(t *transfer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == t {
		e.active = nil
	}
}

// Start downloads a trip. It blocks until the transfer reaches a terminal or
// paused state; observers follow along through events. A second Start or
// Resume while one transfer is active returns common.ErrTransferActive.
func (e *Engine) Start(ctx context.Context, tripID string, opts StartOptions) error {
	tr, err := e.acquire(tripID)
	if err != nil {
		return err
	}
	defer e.release(tr)

	var est quota.Estimate
	if opts.IncludeTiles {
		// pre-check needs the bounding box; a trip we have never seen is
		// estimated after the metadata arrives instead
		if known, err := e.trips.GetByID(ctx, tripID); err == nil {
			est = quota.EstimateTiles(known.Bounds, e.cfg.MinZoom, e.cfg.MaxZoom, e.cfg.AvgTileBytes)
			if err := e.checkFit(est.EstimatedBytes, opts.Force); err != nil {
				return err
			}
		}
	}

	e.log.Info(ctx, "fetching trip metadata", "trip", tripID)
	bundle, err := e.api.FetchTripMetadata(ctx, tripID)
	if err != nil {
		// nothing persisted yet, so nothing is resumable
		e.emit(models.Failed{TripID: tripID, Reason: fmt.Sprintf("metadata fetch failed: %v", err)})
		return fmt.Errorf("fetching metadata for trip %s: %w", tripID, err)
	}

	trip := bundle.Trip
	trip.LocalState = models.StateMetadataOnly
	trip.UpdatedAt = time.Now().UTC()
	if err := e.trips.Upsert(ctx, &trip); err != nil {
		e.emit(models.Failed{TripID: tripID, Reason: fmt.Sprintf("persisting trip: %v", err)})
		return err
	}
	if err := e.entities.SaveBundle(ctx, bundle); err != nil {
		e.emit(models.Failed{TripID: tripID, Reason: fmt.Sprintf("persisting entities: %v", err)})
		return err
	}

	if !opts.IncludeTiles {
		e.emit(models.Completed{TripID: tripID})
		return nil
	}

	est = quota.EstimateTiles(trip.Bounds, e.cfg.MinZoom, e.cfg.MaxZoom, e.cfg.AvgTileBytes)
	if err := e.checkFit(est.EstimatedBytes, opts.Force); err != nil {
		return err
	}

	keys := quota.EnumerateTiles(trip.Bounds, e.cfg.MinZoom, e.cfg.MaxZoom, e.cfg.TileSourceID)
	cp := &models.Checkpoint{
		TripID:     tripID,
		TotalTiles: len(keys),
		Reason:     models.PauseNone,
		Resumable:  true,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.emit(models.Failed{TripID: tripID, Reason: fmt.Sprintf("persisting checkpoint: %v", err)})
		return err
	}

	return e.runBatches(ctx, tr, keys, cp)
}

// Resume continues a paused download from its persisted checkpoint. All it
// needs is the checkpoint and the trip's bounding box, so it works across
// process restarts.
func (e *Engine) Resume(ctx context.Context, tripID string, force bool) error {
	tr, err := e.acquire(tripID)
	if err != nil {
		return err
	}
	defer e.release(tr)

	cp, err := e.checkpoints.Load(ctx, tripID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: trip %s has no paused download", common.ErrNoActiveTransfer, tripID)
		}
		return err
	}
	if !cp.Resumable {
		return fmt.Errorf("%w: trip %s was cancelled", common.ErrNotResumable, tripID)
	}

	trip, err := e.trips.GetByID(ctx, tripID)
	if err != nil {
		return fmt.Errorf("loading trip %s: %w", tripID, err)
	}

	remaining := int64(cp.Remaining()) * e.cfg.AvgTileBytes
	if err := e.checkFit(remaining, force); err != nil {
		return err
	}

	keys := quota.EnumerateTiles(trip.Bounds, e.cfg.MinZoom, e.cfg.MaxZoom, e.cfg.TileSourceID)
	e.log.Info(ctx, "resuming download", "trip", tripID, "completed", cp.CompletedTiles, "total", cp.TotalTiles)
	return e.runBatches(ctx, tr, keys, cp)
}

func (e *Engine) checkFit(estimatedBytes int64, force bool) error {
	report := e.ledger.CheckFit(estimatedBytes)
	if report.HasSufficientQuota || force {
		return nil
	}
	return fmt.Errorf("%w: estimate exceeds cache limit by %d bytes", common.ErrQuotaExceeded, report.WouldExceedByBytes)
}

// runBatches iterates tile batches from the checkpoint's completed index.
// Tile enumeration is deterministic for a given bounding box, so the
// completed count alone identifies where to continue. Each batch is fetched,
// durably written, charged to the ledger, and only then checkpointed; a crash
// mid-batch re-attempts that batch, which the idempotent tile store and
// ledger absorb.
func (e *Engine) runBatches(ctx context.Context, tr *transfer, keys []models.TileKey, cp *models.Checkpoint) error {
	tripID := tr.tripID
	batchSize := e.cfg.TileBatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for i := cp.CompletedTiles; i < len(keys); i += batchSize {
		if reason, cleanup, ok := tr.takeRequest(); ok {
			return e.stop(ctx, tripID, cp, reason, cleanup)
		}
		if err := ctx.Err(); err != nil {
			return e.stop(ctx, tripID, cp, models.PauseNetworkLost, false)
		}
		if e.ledger.LimitReached() {
			return e.stop(ctx, tripID, cp, models.PauseCacheLimit, false)
		}

		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch, err := e.fetchBatch(ctx, keys[i:end])
		if err != nil {
			return e.stopOnError(ctx, tripID, cp, err)
		}

		written, err := e.tiles.WriteBatch(ctx, tripID, batch)
		if err != nil {
			return e.stopOnError(ctx, tripID, cp, err)
		}
		for _, t := range batch {
			e.ledger.RecordWrite(t.Key, int64(len(t.Data)))
		}

		cp.CompletedTiles = end
		cp.CompletedBytes += written
		cp.Reason = models.PauseNone
		cp.UpdatedAt = time.Now().UTC()
		if err := e.checkpoints.Save(ctx, cp); err != nil {
			return e.stopOnError(ctx, tripID, cp, err)
		}

		e.emit(models.Progress{
			TripID:    tripID,
			Completed: cp.CompletedTiles,
			Total:     cp.TotalTiles,
			Fraction:  float64(cp.CompletedTiles) / float64(cp.TotalTiles),
			Message:   fmt.Sprintf("downloaded %d of %d tiles", cp.CompletedTiles, cp.TotalTiles),
		})
	}

	// honor a request that arrived during the final batch
	if reason, cleanup, ok := tr.takeRequest(); ok && reason == models.PauseUserCancel {
		return e.stop(ctx, tripID, cp, reason, cleanup)
	}

	if err := e.trips.SetLocalState(ctx, tripID, models.StateComplete); err != nil {
		return err
	}
	if err := e.checkpoints.Delete(ctx, tripID); err != nil {
		return err
	}
	e.log.Info(ctx, "download complete", "trip", tripID, "tiles", cp.TotalTiles, "bytes", cp.CompletedBytes)
	e.emit(models.Completed{TripID: tripID, TilesDownloaded: cp.TotalTiles, TotalBytes: cp.CompletedBytes})
	return nil
}

// fetchBatch pulls one checkpoint-sized batch, split across concurrent
// requests. Order within the batch does not matter; the checkpoint only
// advances once the whole batch is written.
func (e *Engine) fetchBatch(ctx context.Context, keys []models.TileKey) ([]models.Tile, error) {
	concurrency := e.cfg.FetchConcurrency
	if concurrency <= 1 || len(keys) <= 1 {
		return e.api.FetchTileBatch(ctx, keys)
	}

	chunkSize := (len(keys) + concurrency - 1) / concurrency
	var chunks [][]models.TileKey
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}

	results := make([][]models.Tile, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for ci, chunk := range chunks {
		g.Go(func() error {
			tiles, err := e.api.FetchTileBatch(gctx, chunk)
			if err != nil {
				return err
			}
			results[ci] = tiles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []models.Tile
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// stopOnError converts a batch failure into a pause. Tiles already written
// stay valid, so nothing short of a metadata failure is terminal.
func (e *Engine) stopOnError(ctx context.Context, tripID string, cp *models.Checkpoint, err error) error {
	reason := models.PauseNetworkLost
	if common.Classify(err) == common.FailureResource {
		reason = models.PauseStorageLow
	}
	e.log.Warn(ctx, "download interrupted", "trip", tripID, "reason", reason, "error", err)
	return e.stop(ctx, tripID, cp, reason, false)
}

// stop settles a checkpoint in a non-complete state: a cleanup-cancel wipes
// the trip's tiles and checkpoint, a keep-data cancel parks a non-resumable
// checkpoint, everything else is a resumable pause.
func (e *Engine) stop(ctx context.Context, tripID string, cp *models.Checkpoint, reason models.PauseReason, cleanup bool) error {
	// the caller's context being canceled can be the very thing that stopped
	// the transfer; the settling writes must still land
	ctx = context.WithoutCancel(ctx)

	if reason == models.PauseUserCancel && cleanup {
		deleted, err := e.discardTiles(ctx, tripID)
		if err != nil {
			return err
		}
		e.emit(models.Cancelled{TripID: tripID, TilesDeleted: deleted})
		return nil
	}

	cp.Reason = reason
	cp.Resumable = reason != models.PauseUserCancel
	cp.UpdatedAt = time.Now().UTC()
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		return err
	}
	e.emit(models.Paused{
		TripID:         tripID,
		Reason:         reason,
		TilesCompleted: cp.CompletedTiles,
		TotalTiles:     cp.TotalTiles,
		CanResume:      cp.Resumable,
	})
	return nil
}

// discardTiles removes a trip's stored tiles and checkpoint, crediting the
// ledger per tile, and settles the trip in the metadata-only state.
func (e *Engine) discardTiles(ctx context.Context, tripID string) (int, error) {
	refs, err := e.tiles.DeleteByTrip(ctx, tripID)
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		e.ledger.RecordDelete(ref.Key, ref.SizeBytes)
	}
	if err := e.checkpoints.Delete(ctx, tripID); err != nil {
		return 0, err
	}
	if err := e.trips.SetLocalState(ctx, tripID, models.StateMetadataOnly); err != nil {
		return 0, err
	}
	return len(refs), nil
}

// Pause asks the active transfer for tripID to stop at the next batch
// boundary. It reports whether such a transfer existed; the Paused event
// fires once the checkpoint is persisted.
func (e *Engine) Pause(tripID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.tripID != tripID {
		return false
	}
	e.active.request(models.PauseUserRequest, false)
	return true
}

// Cancel stops a trip's download. With cleanup, every tile written so far and
// the checkpoint are deleted; without, a non-resumable checkpoint is kept so
// the partial data survives but Resume refuses it. Works on the active
// transfer or directly on a paused one.
func (e *Engine) Cancel(ctx context.Context, tripID string, cleanup bool) error {
	e.mu.Lock()
	if e.active != nil && e.active.tripID == tripID {
		e.active.request(models.PauseUserCancel, cleanup)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	cp, err := e.checkpoints.Load(ctx, tripID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: trip %s", common.ErrNoActiveTransfer, tripID)
		}
		return err
	}
	return e.stop(ctx, tripID, cp, models.PauseUserCancel, cleanup)
}

// RestorePaused returns the checkpoints of downloads that were interrupted
// or paused before the process last exited.
func (e *Engine) RestorePaused(ctx context.Context) ([]models.Checkpoint, error) {
	return e.checkpoints.LoadAllPaused(ctx)
}

// DeleteTrip removes a trip's offline data: entities, tiles, and any
// checkpoint. The trip row returns to the server-only state. Destructive:
// callers confirm with the user before invoking.
func (e *Engine) DeleteTrip(ctx context.Context, tripID string) error {
	e.mu.Lock()
	if e.active != nil && e.active.tripID == tripID {
		e.mu.Unlock()
		return fmt.Errorf("%w: cancel the download first", common.ErrTransferActive)
	}
	e.mu.Unlock()

	refs, err := e.tiles.DeleteByTrip(ctx, tripID)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		e.ledger.RecordDelete(ref.Key, ref.SizeBytes)
	}
	if err := e.entities.DeleteByTrip(ctx, tripID); err != nil {
		return err
	}
	if err := e.checkpoints.Delete(ctx, tripID); err != nil {
		return err
	}
	return e.trips.SetLocalState(ctx, tripID, models.StateServerOnly)
}

// Close stops any active transfer and releases the network client. It
// returns immediately; the actual teardown happens on a detached goroutine
// because closing long-lived connections can block for seconds.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.active != nil {
		e.active.request(models.PauseUserRequest, false)
	}
	e.mu.Unlock()

	go func() {
		if err := e.api.Close(); err != nil {
			e.log.Warn(context.Background(), "closing network client", "error", err)
		}
	}()
}
