// Package tiles is the blob store for map tiles, keyed by
// (source_id, z, x, y). Writes are idempotent by key so a re-fetched batch
// after a crash never double-counts.
package tiles

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

type Repository interface {
	// WriteBatch durably stores a batch of tiles for a trip and returns the
	// bytes written. Re-writing an existing key replaces it.
	WriteBatch(ctx context.Context, tripID string, batch []models.Tile) (int64, error)

	// Get returns one tile's bytes or common.ErrNotFound.
	Get(ctx context.Context, key models.TileKey) ([]byte, error)

	// ListRefs returns the key and size of every stored tile across all
	// trips, used to seed the quota ledger at startup.
	ListRefs(ctx context.Context) ([]models.TileRef, error)

	// DeleteByTrip removes a trip's tiles and returns their refs so the
	// ledger can be credited per key.
	DeleteByTrip(ctx context.Context, tripID string) ([]models.TileRef, error)

	// CountByTrip returns how many tiles a trip has stored.
	CountByTrip(ctx context.Context, tripID string) (int, error)
}
