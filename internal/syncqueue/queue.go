// Package syncqueue is the durable, ordered log of local edits awaiting
// server sync. Enqueue applies an edit to the durable offline copy right
// away, so the device keeps a consistent local truth even offline, then
// tries to push it. Records leave the log only by successful sync or
// explicit discard; server rejections flag the record and roll the durable
// copy back through the reconciler.
package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/avolkovs/tripatlas/internal/api"
	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
	"github.com/avolkovs/tripatlas/internal/reconcile"
	"github.com/avolkovs/tripatlas/internal/storage/entities"
	"github.com/avolkovs/tripatlas/internal/storage/mutations"
)

const (
	sendMaxRetries   = 3
	sendInitialDelay = 500 * time.Millisecond
	flushConcurrency = 4
)

type Queue struct {
	api        api.Client
	entities   entities.Repository
	store      mutations.Repository
	reconciler *reconcile.Reconciler
	log        logging.Logger
	notify     func(models.Event)
	newBackoff func() retry.Backoff

	// per-entity locks keep same-entity sends in strict creation order even
	// when Enqueue and Flush overlap
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewQueue(client api.Client, ents entities.Repository, store mutations.Repository, rec *reconcile.Reconciler, log logging.Logger) *Queue {
	return &Queue{
		api:        client,
		entities:   ents,
		store:      store,
		reconciler: rec,
		log:        log,
		notify:     func(models.Event) {},
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(sendMaxRetries, retry.NewExponential(sendInitialDelay))
		},
		locks: make(map[string]*sync.Mutex),
	}
}

// SetNotifyFunc registers the event sink for SyncRejected notifications. The
// reconciler shares the sink, so the same observer also sees EntityReverted.
func (q *Queue) SetNotifyFunc(fn func(models.Event)) {
	if fn != nil {
		q.notify = fn
		q.reconciler.SetNotifyFunc(fn)
	}
}

func (q *Queue) entityLock(entityID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[entityID]
	if !ok {
		l = &sync.Mutex{}
		q.locks[entityID] = l
	}
	return l
}

// Enqueue applies fields to the entity's durable offline copy, records the
// edit, and attempts an immediate sync. A sync failure is not an error for
// the caller: the record simply stays pending (or is flagged rejected) and
// the applied local change remains visible.
func (q *Queue) Enqueue(ctx context.Context, kind models.EntityKind, entityID, tripID string, fields map[string]any) (*models.Mutation, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to change")
	}

	prior, err := q.entities.Apply(ctx, kind, entityID, fields)
	if err != nil {
		return nil, fmt.Errorf("applying edit to %s %s: %w", kind, entityID, err)
	}

	m := &models.Mutation{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   entityID,
		TripID:     tripID,
		Fields:     fields,
		Prior:      prior,
		Status:     models.MutationPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.store.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("recording edit: %w", err)
	}

	if err := q.syncEntity(ctx, entityID); err != nil {
		q.log.Warn(ctx, "immediate sync failed, edit left pending", "entity", entityID, "error", err)
	}
	return m, nil
}

// Flush sends every pending record. Same-entity records go out sequentially
// in creation order; distinct entities sync concurrently.
func (q *Queue) Flush(ctx context.Context) error {
	pending, err := q.store.ListByStatus(ctx, models.MutationPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(flushConcurrency)
	for _, m := range pending {
		if _, ok := seen[m.EntityID]; ok {
			continue
		}
		seen[m.EntityID] = struct{}{}
		entityID := m.EntityID
		g.Go(func() error {
			return q.syncEntity(gctx, entityID)
		})
	}
	return g.Wait()
}

// syncOutcome is how one send attempt left the record.
type syncOutcome int

const (
	outcomeSynced syncOutcome = iota
	outcomeRejected
	outcomeDeferred
)

// syncEntity pushes the entity's pending records oldest-first, stopping at
// the first transient failure so a later edit never overtakes an earlier one.
func (q *Queue) syncEntity(ctx context.Context, entityID string) error {
	lock := q.entityLock(entityID)
	lock.Lock()
	defer lock.Unlock()

	pending, err := q.store.ListByStatus(ctx, models.MutationPending)
	if err != nil {
		return err
	}
	var records []*models.Mutation
	for i := range pending {
		if pending[i].EntityID == entityID {
			records = append(records, &pending[i])
		}
	}

	for i, m := range records {
		out, err := q.syncOne(ctx, m)
		if err != nil {
			return err
		}
		switch out {
		case outcomeDeferred:
			return nil
		case outcomeRejected:
			// the rollback restored pre-edit values, erasing any later
			// queued edits to this entity from the durable copy; put their
			// values back so they stay the visible local truth
			for _, later := range records[i+1:] {
				if err := q.entities.Revert(ctx, later.EntityKind, later.EntityID, later.Fields); err != nil {
					return fmt.Errorf("re-applying edit %s after rollback: %w", later.ID, err)
				}
			}
		}
	}
	return nil
}

// syncOne sends a single record. A synced record is removed; a rejected one
// is flagged and its prior values are rolled back onto the durable copy; a
// transient failure leaves it pending.
func (q *Queue) syncOne(ctx context.Context, m *models.Mutation) (syncOutcome, error) {
	sendErr := retry.Do(ctx, q.newBackoff(), func(ctx context.Context) error {
		if err := q.api.SendMutation(ctx, m); err != nil {
			if common.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	switch {
	case sendErr == nil:
		if err := q.store.Delete(ctx, m.ID); err != nil {
			return outcomeDeferred, fmt.Errorf("removing synced record %s: %w", m.ID, err)
		}
		q.log.Debug(ctx, "mutation synced", "id", m.ID, "entity", m.EntityID)
		return outcomeSynced, nil

	case common.Classify(sendErr) == common.FailureRejected:
		if err := q.store.MarkRejected(ctx, m.ID, sendErr.Error()); err != nil {
			return outcomeDeferred, fmt.Errorf("flagging rejected record %s: %w", m.ID, err)
		}
		q.log.Warn(ctx, "mutation rejected by server", "id", m.ID, "entity", m.EntityID, "error", sendErr)
		q.notify(models.SyncRejected{
			EntityKind: m.EntityKind,
			EntityID:   m.EntityID,
			TripID:     m.TripID,
			Message:    sendErr.Error(),
		})
		if err := q.reconciler.Revert(ctx, m); err != nil {
			return outcomeDeferred, err
		}
		return outcomeRejected, nil

	default:
		// connectivity or server trouble; the record stays pending for a
		// later flush
		q.log.Debug(ctx, "mutation sync deferred", "id", m.ID, "error", sendErr)
		return outcomeDeferred, nil
	}
}

// PendingCount reports how many records await sync.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.store.CountByStatus(ctx, models.MutationPending)
}

// FailedCount reports how many records the server has rejected.
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	return q.store.CountByStatus(ctx, models.MutationRejected)
}

// RetryFailed re-attempts every rejected record in original creation order
// per entity. The rejected edit is first re-applied to the durable copy
// (reconciliation rolled it back when the rejection arrived), then the
// record goes back to pending and through the normal sync path.
func (q *Queue) RetryFailed(ctx context.Context) error {
	rejected, err := q.store.ListByStatus(ctx, models.MutationRejected)
	if err != nil {
		return err
	}
	entityOrder := make([]string, 0, len(rejected))
	seen := make(map[string]struct{}, len(rejected))
	for _, m := range rejected {
		if err := q.entities.Revert(ctx, m.EntityKind, m.EntityID, m.Fields); err != nil {
			return fmt.Errorf("re-applying edit %s: %w", m.ID, err)
		}
		if err := q.store.MarkPending(ctx, m.ID); err != nil {
			return err
		}
		if _, ok := seen[m.EntityID]; !ok {
			seen[m.EntityID] = struct{}{}
			entityOrder = append(entityOrder, m.EntityID)
		}
	}
	for _, entityID := range entityOrder {
		if err := q.syncEntity(ctx, entityID); err != nil {
			return err
		}
	}
	return nil
}

// DiscardAll drops every unsent record and rolls each affected entity back
// to its last durable offline copy, newest edit first so stacked edits
// unwind cleanly. Destructive: callers confirm with the user before invoking.
func (q *Queue) DiscardAll(ctx context.Context) (int, error) {
	all, err := q.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		m := &all[i]
		if m.Status != models.MutationRejected {
			// rejected records were already rolled back on rejection
			if err := q.reconciler.Revert(ctx, m); err != nil {
				return 0, err
			}
		}
		if err := q.store.Delete(ctx, m.ID); err != nil {
			return 0, err
		}
	}
	return len(all), nil
}
