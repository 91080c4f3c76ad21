// Package mutations is the durable, ordered log of pending local edits.
// A record leaves the table only by successful sync or explicit discard;
// rejection flags it and keeps it.
package mutations

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

type Repository interface {
	// Insert appends a new record.
	Insert(ctx context.Context, m *models.Mutation) error
	// Delete removes a record (after successful sync or discard).
	Delete(ctx context.Context, id string) error
	// MarkRejected flags a record rejected with the server's message.
	MarkRejected(ctx context.Context, id, errMsg string) error
	// MarkPending returns a rejected record to the pending state for retry.
	MarkPending(ctx context.Context, id string) error
	// ListByStatus returns records in creation order.
	ListByStatus(ctx context.Context, status models.MutationStatus) ([]models.Mutation, error)
	// ListAll returns every record in creation order.
	ListAll(ctx context.Context) ([]models.Mutation, error)
	// CountByStatus returns the number of records in the given status.
	CountByStatus(ctx context.Context, status models.MutationStatus) (int, error)
}
