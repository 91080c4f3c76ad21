// Package entities stores the durable offline copies of places, regions,
// segments, and areas, and applies field-level edits to them.
package entities

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

type Repository interface {
	// SaveBundle upserts every entity of a fetched trip bundle.
	SaveBundle(ctx context.Context, b *models.TripBundle) error

	// Get loads the durable offline copy of one entity. The returned value is
	// *models.Place, *models.Region, *models.Segment, *models.Area, or
	// *models.Trip depending on kind; common.ErrNotFound when missing.
	Get(ctx context.Context, kind models.EntityKind, id string) (any, error)

	// Apply writes the given field values to the entity's row and returns the
	// values they replaced. Field names must be in models.MutableFields(kind).
	Apply(ctx context.Context, kind models.EntityKind, id string, fields map[string]any) (prior map[string]any, err error)

	// Revert writes back previously captured field values.
	Revert(ctx context.Context, kind models.EntityKind, id string, prior map[string]any) error

	// DeleteByTrip removes all child entities of a trip.
	DeleteByTrip(ctx context.Context, tripID string) error

	// GetPlacesByTrip lists a trip's places ordered by sort order.
	GetPlacesByTrip(ctx context.Context, tripID string) ([]models.Place, error)
}
