// Package checkpoints is the persisted transfer state store: durable progress
// records that let a paused or interrupted download resume after a restart.
package checkpoints

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

type Repository interface {
	// Save inserts or replaces the trip's checkpoint. A trip never has more
	// than one (the trip id is the primary key).
	Save(ctx context.Context, cp *models.Checkpoint) error
	// Load returns the trip's checkpoint or common.ErrNotFound.
	Load(ctx context.Context, tripID string) (*models.Checkpoint, error)
	// LoadAllPaused returns every stored checkpoint, used to restore pause
	// state after a process restart.
	LoadAllPaused(ctx context.Context) ([]models.Checkpoint, error)
	// Delete removes the trip's checkpoint.
	Delete(ctx context.Context, tripID string) error
}
