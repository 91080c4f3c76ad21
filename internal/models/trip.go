// Package models defines the trip entities, transfer records, and event
// payloads shared by storage, the download engine, and the sync queue.
package models

import (
	"time"

	"github.com/golang/geo/s2"
)

// LocalState describes how much of a trip is present in local storage.
// Exactly one state holds at a time; transitions are driven only by the
// download engine and trip deletion.
type LocalState string

const (
	// StateServerOnly means the trip is known by id/summary only.
	StateServerOnly LocalState = "server_only"
	// StateMetadataOnly means entities are stored but no tiles.
	StateMetadataOnly LocalState = "metadata_only"
	// StateComplete means entities and the covering tiles are stored.
	StateComplete LocalState = "complete"
)

// BoundingBox is a geographic rectangle in degrees.
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Rect converts the box to an s2.Rect for spatial math.
func (b BoundingBox) Rect() s2.Rect {
	r := s2.RectFromLatLng(s2.LatLngFromDegrees(b.South, b.West))
	return r.AddPoint(s2.LatLngFromDegrees(b.North, b.East))
}

// IsValid reports whether the box describes a non-empty area.
func (b BoundingBox) IsValid() bool {
	return b.North > b.South && b.East != b.West &&
		b.South >= -90 && b.North <= 90 &&
		b.West >= -180 && b.East <= 180
}

// Trip is the top-level downloadable unit.
type Trip struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Notes      string      `json:"notes"`
	Bounds     BoundingBox `json:"bounds"`
	LocalState LocalState  `json:"local_state"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TripSummary is what a caller knows about a trip before downloading it.
type TripSummary struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Bounds BoundingBox `json:"bounds"`
}

// TripBundle is the full metadata payload fetched from the server.
type TripBundle struct {
	Trip     Trip      `json:"trip"`
	Places   []Place   `json:"places"`
	Regions  []Region  `json:"regions"`
	Segments []Segment `json:"segments"`
	Areas    []Area    `json:"areas"`
}
