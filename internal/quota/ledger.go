// Package quota tracks tile-cache usage against a configured maximum and
// estimates how many tiles a trip's bounding box needs.
package quota

import (
	"sync"

	"github.com/avolkovs/tripatlas/internal/models"
)

var levelFractions = []struct {
	level models.QuotaLevel
	frac  float64
}{
	{models.QuotaWarning, 0.80},
	{models.QuotaCritical, 0.90},
	{models.QuotaLimitReached, 1.00},
}

// Usage is a read-only snapshot of the ledger.
type Usage struct {
	UsedBytes int64
	TileCount int64
	MaxBytes  int64
}

// FitReport answers "can this download fit".
type FitReport struct {
	HasSufficientQuota bool
	AvailableBytes     int64
	CurrentUsageBytes  int64
	MaxBytes           int64
	WouldExceedByBytes int64
}

// Ledger is the single owner of cache-usage counters. Only the download
// engine mutates it (RecordWrite/RecordDelete); everyone else reads.
// Threshold events fire once per upward crossing and re-arm when usage drops
// back below the level.
type Ledger struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	tileCount int64
	seen      map[models.TileKey]int64
	armed     map[models.QuotaLevel]bool
	notify    func(models.Event)
}

// NewLedger creates a ledger with the given maximum. Seed it from the tile
// store before first use so usage matches stored bytes.
func NewLedger(maxBytes int64) *Ledger {
	armed := make(map[models.QuotaLevel]bool, len(levelFractions))
	for _, lf := range levelFractions {
		armed[lf.level] = true
	}
	return &Ledger{
		maxBytes: maxBytes,
		seen:     make(map[models.TileKey]int64),
		armed:    armed,
	}
}

// Seed resets the counters to the tile store's actual contents and registers
// every stored key, so re-writing a tile that survived a previous session is
// a no-op instead of a second charge. Levels already exceeded by the seeded
// usage stay armed so the first in-session crossing still fires.
func (l *Ledger) Seed(refs []models.TileRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usedBytes = 0
	l.tileCount = 0
	l.seen = make(map[models.TileKey]int64, len(refs))
	for _, ref := range refs {
		l.seen[ref.Key] = ref.SizeBytes
		l.usedBytes += ref.SizeBytes
		l.tileCount++
	}
}

// SetNotifyFunc registers the threshold-event sink. Must be called before
// the first RecordWrite.
func (l *Ledger) SetNotifyFunc(fn func(models.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = fn
}

// Usage returns a snapshot of current counters.
func (l *Ledger) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Usage{UsedBytes: l.usedBytes, TileCount: l.tileCount, MaxBytes: l.maxBytes}
}

// CheckFit reports whether estimatedBytes more would stay inside the maximum.
// The answer is advisory: callers may proceed anyway, but an active transfer
// is force-paused as soon as LimitReached fires.
func (l *Ledger) CheckFit(estimatedBytes int64) FitReport {
	l.mu.Lock()
	defer l.mu.Unlock()

	available := l.maxBytes - l.usedBytes
	if available < 0 {
		available = 0
	}
	report := FitReport{
		AvailableBytes:    available,
		CurrentUsageBytes: l.usedBytes,
		MaxBytes:          l.maxBytes,
	}
	if estimatedBytes <= available {
		report.HasSufficientQuota = true
	} else {
		report.WouldExceedByBytes = estimatedBytes - available
	}
	return report
}

// RecordWrite adds a stored tile to the counters. Re-reporting a key already
// counted is a no-op, so at-least-once batch re-fetches never double-charge.
func (l *Ledger) RecordWrite(key models.TileKey, bytes int64) {
	l.mu.Lock()
	if _, ok := l.seen[key]; ok {
		l.mu.Unlock()
		return
	}
	l.seen[key] = bytes
	l.usedBytes += bytes
	l.tileCount++
	events := l.crossedLevelsLocked()
	notify := l.notify
	l.mu.Unlock()

	for _, ev := range events {
		if notify != nil {
			notify(ev)
		}
	}
}

// RecordDelete returns a tile's bytes to the budget and re-arms any level
// usage has dropped below.
func (l *Ledger) RecordDelete(key models.TileKey, bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sz, ok := l.seen[key]; ok {
		bytes = sz
		delete(l.seen, key)
	}
	l.usedBytes -= bytes
	if l.usedBytes < 0 {
		l.usedBytes = 0
	}
	if l.tileCount > 0 {
		l.tileCount--
	}

	ratio := l.ratioLocked()
	for _, lf := range levelFractions {
		if ratio < lf.frac {
			l.armed[lf.level] = true
		}
	}
}

// LimitReached reports whether usage is at or past the maximum.
func (l *Ledger) LimitReached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxBytes > 0 && l.usedBytes >= l.maxBytes
}

func (l *Ledger) ratioLocked() float64 {
	if l.maxBytes <= 0 {
		return 0
	}
	return float64(l.usedBytes) / float64(l.maxBytes)
}

func (l *Ledger) crossedLevelsLocked() []models.Event {
	ratio := l.ratioLocked()
	var events []models.Event
	for _, lf := range levelFractions {
		if ratio >= lf.frac && l.armed[lf.level] {
			l.armed[lf.level] = false
			events = append(events, models.ThresholdCrossed{
				Level:     lf.level,
				UsedBytes: l.usedBytes,
				MaxBytes:  l.maxBytes,
			})
		}
	}
	return events
}
