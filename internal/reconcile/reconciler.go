// Package reconcile restores durable entity copies after the server rejects
// a queued edit. The sync queue calls Revert with the prior values captured
// at enqueue time; the UI learns the restored state through the emitted
// EntityReverted event.
package reconcile

import (
	"context"
	"fmt"

	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
	"github.com/avolkovs/tripatlas/internal/storage/entities"
)

type Reconciler struct {
	entities entities.Repository
	log      logging.Logger
	notify   func(models.Event)
}

func NewReconciler(repo entities.Repository, log logging.Logger) *Reconciler {
	return &Reconciler{entities: repo, log: log, notify: func(models.Event) {}}
}

// SetNotifyFunc registers the event sink. Must be called before Revert runs.
func (r *Reconciler) SetNotifyFunc(fn func(models.Event)) {
	if fn != nil {
		r.notify = fn
	}
}

// Revert writes a mutation's prior values back onto the entity's durable row,
// reloads the row, and announces the restored state. The mutation record
// itself stays in its store; the caller decides whether to keep or drop it.
func (r *Reconciler) Revert(ctx context.Context, m *models.Mutation) error {
	if len(m.Prior) == 0 {
		return nil
	}

	if err := r.entities.Revert(ctx, m.EntityKind, m.EntityID, m.Prior); err != nil {
		return fmt.Errorf("reverting %s %s: %w", m.EntityKind, m.EntityID, err)
	}

	entity, err := r.entities.Get(ctx, m.EntityKind, m.EntityID)
	if err != nil {
		return fmt.Errorf("reloading %s %s: %w", m.EntityKind, m.EntityID, err)
	}

	r.log.Info(ctx, "entity reverted", "kind", m.EntityKind, "id", m.EntityID)
	r.notify(models.EntityReverted{
		EntityKind: m.EntityKind,
		EntityID:   m.EntityID,
		TripID:     m.TripID,
		Entity:     entity,
	})
	return nil
}
