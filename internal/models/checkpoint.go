package models

import "time"

// PauseReason explains why a transfer is not running.
type PauseReason string

const (
	PauseNone        PauseReason = "none"
	PauseUserRequest PauseReason = "user_request"
	PauseNetworkLost PauseReason = "network_lost"
	PauseStorageLow  PauseReason = "storage_low"
	PauseCacheLimit  PauseReason = "cache_limit"
	PauseUserCancel  PauseReason = "user_cancel"
)

// Checkpoint is the durable progress record of a trip download. It is created
// when tile fetching starts, advanced only after each batch is durably
// written, and deleted on completion or cleanup-cancel. A paused checkpoint
// survives process exit; resuming is a pure function of the checkpoint plus
// the trip's bounding box.
type Checkpoint struct {
	TripID         string      `json:"trip_id"`
	TotalTiles     int         `json:"total_tiles"`
	CompletedTiles int         `json:"completed_tiles"`
	CompletedBytes int64       `json:"completed_bytes"`
	Reason         PauseReason `json:"reason"`
	Resumable      bool        `json:"resumable"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Remaining returns how many tiles are still to fetch.
func (c *Checkpoint) Remaining() int {
	if c.TotalTiles < c.CompletedTiles {
		return 0
	}
	return c.TotalTiles - c.CompletedTiles
}
