// Package trips stores trip rows and their local-state transitions.
package trips

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

type Repository interface {
	// Upsert inserts or replaces the trip row by id.
	Upsert(ctx context.Context, t *models.Trip) error
	// GetByID returns the trip or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Trip, error)
	// List returns all locally known trips ordered by name.
	List(ctx context.Context) ([]models.Trip, error)
	// SetLocalState moves the trip to the given state.
	SetLocalState(ctx context.Context, id string, state models.LocalState) error
	// DeleteByID removes the trip row.
	DeleteByID(ctx context.Context, id string) error
}
