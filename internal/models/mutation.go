package models

import "time"

// MutationStatus tracks a pending edit through its sync lifecycle.
type MutationStatus string

const (
	// MutationPending means the edit is applied locally and awaits sync.
	MutationPending MutationStatus = "pending"
	// MutationRejected means the server refused the edit; it stays recorded
	// until retried or discarded.
	MutationRejected MutationStatus = "rejected"
)

// Mutation is one field-level edit to a trip entity. Fields holds the new
// values, Prior the values they replaced at enqueue time; Prior is what a
// revert restores when the server rejects the edit or the user discards it.
// CreatedAt establishes FIFO order per entity.
type Mutation struct {
	ID         string         `json:"id"`
	EntityKind EntityKind     `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	TripID     string         `json:"trip_id"`
	Fields     map[string]any `json:"fields"`
	Prior      map[string]any `json:"prior"`
	Status     MutationStatus `json:"status"`
	Error      string         `json:"error"`
	CreatedAt  time.Time      `json:"created_at"`
}
