package models

// Event is implemented by every notification the engine, ledger, and sync
// queue publish to observers. Observers type-switch on the concrete payloads.
type Event interface {
	event()
}

// Progress reports per-batch advancement of an active transfer.
// Fraction is in [0.0, 1.0]; Message is a human-readable phase description.
type Progress struct {
	TripID    string
	Completed int
	Total     int
	Fraction  float64
	Message   string
}

// Completed fires exactly once when a transfer finishes all its work.
type Completed struct {
	TripID          string
	TilesDownloaded int
	TotalBytes      int64
}

// Failed fires exactly once when a transfer dies with nothing resumable.
type Failed struct {
	TripID string
	Reason string
}

// Paused fires exactly once when a transfer stops with a checkpoint left
// behind. CanResume is false only for a keep-data user cancel.
type Paused struct {
	TripID         string
	Reason         PauseReason
	TilesCompleted int
	TotalTiles     int
	CanResume      bool
}

// Cancelled fires exactly once when a transfer is cancelled with cleanup;
// tiles and checkpoint are gone.
type Cancelled struct {
	TripID       string
	TilesDeleted int
}

// QuotaLevel is one of the three cache-usage alarm levels.
type QuotaLevel int

const (
	QuotaWarning      QuotaLevel = iota // usage >= 80% of max
	QuotaCritical                       // usage >= 90% of max
	QuotaLimitReached                   // usage >= 100% of max
)

func (l QuotaLevel) String() string {
	switch l {
	case QuotaWarning:
		return "warning"
	case QuotaCritical:
		return "critical"
	default:
		return "limit_reached"
	}
}

// ThresholdCrossed fires once per upward crossing of a quota level; the level
// re-arms when usage drops back below it.
type ThresholdCrossed struct {
	Level     QuotaLevel
	UsedBytes int64
	MaxBytes  int64
}

// SyncRejected fires when the server refuses a mutation with a non-retryable
// error.
type SyncRejected struct {
	EntityKind EntityKind
	EntityID   string
	TripID     string
	Message    string
}

// EntityReverted fires after reconciliation restored the durable offline copy
// of an entity; Entity carries the reloaded value (Place, Region, Segment,
// Area, or Trip).
type EntityReverted struct {
	EntityKind EntityKind
	EntityID   string
	TripID     string
	Entity     any
}

func (Progress) event()         {}
func (Completed) event()        {}
func (Failed) event()           {}
func (Paused) event()           {}
func (Cancelled) event()        {}
func (ThresholdCrossed) event() {}
func (SyncRejected) event()     {}
func (EntityReverted) event()   {}
