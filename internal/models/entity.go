package models

// EntityKind names one of the four downloadable entity types.
type EntityKind string

const (
	KindPlace   EntityKind = "place"
	KindRegion  EntityKind = "region"
	KindSegment EntityKind = "segment"
	KindArea    EntityKind = "area"
	// KindTrip lets trip-level fields (name, notes) ride the same
	// mutation path as the child entities.
	KindTrip EntityKind = "trip"
)

// Place is a single point of interest inside a trip.
type Place struct {
	ID          string  `json:"id"`
	TripID      string  `json:"trip_id"`
	Name        string  `json:"name"`
	Notes       string  `json:"notes"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Icon        string  `json:"icon"`
	MarkerColor string  `json:"marker_color"`
	SortOrder   int     `json:"sort_order"`
}

// Region is a named rectangular area of interest.
type Region struct {
	ID        string      `json:"id"`
	TripID    string      `json:"trip_id"`
	Name      string      `json:"name"`
	Notes     string      `json:"notes"`
	Bounds    BoundingBox `json:"bounds"`
	SortOrder int         `json:"sort_order"`
}

// Segment is a named route leg; geometry is carried as an encoded polyline
// owned by the routing collaborator (read-only here).
type Segment struct {
	ID        string `json:"id"`
	TripID    string `json:"trip_id"`
	Name      string `json:"name"`
	Notes     string `json:"notes"`
	Polyline  string `json:"polyline"`
	SortOrder int    `json:"sort_order"`
}

// Area is a user-drawn area; same shape as Region but edited independently.
type Area struct {
	ID        string      `json:"id"`
	TripID    string      `json:"trip_id"`
	Name      string      `json:"name"`
	Notes     string      `json:"notes"`
	Bounds    BoundingBox `json:"bounds"`
	SortOrder int         `json:"sort_order"`
}

// MutableFields lists the columns the sync queue may change per entity kind.
// Anything outside the list is refused at enqueue time.
func MutableFields(kind EntityKind) []string {
	switch kind {
	case KindPlace:
		return []string{"name", "notes", "lat", "lon", "icon", "marker_color"}
	case KindRegion, KindArea, KindSegment:
		return []string{"name", "notes"}
	case KindTrip:
		return []string{"name", "notes"}
	default:
		return nil
	}
}
