// Package api defines the network contract toward the trip server and its
// HTTP implementation. The engine and the sync queue depend only on the
// Client interface; tests substitute fakes.
package api

import (
	"context"

	"github.com/avolkovs/tripatlas/internal/models"
)

// Client is the transport toward the trip server.
//
// Error contract: implementations return errors that classify correctly under
// common.Classify — connectivity problems and 5xx map to transient
// (common.ErrServerUnavailable), 4xx refusals map to common.ErrRejected with
// the server's message attached.
type Client interface {
	// Ping probes server reachability.
	Ping(ctx context.Context) error

	// ListTrips returns the summaries of the trips available on the server.
	ListTrips(ctx context.Context) ([]models.TripSummary, error)

	// FetchTripMetadata downloads a trip's entities.
	FetchTripMetadata(ctx context.Context, tripID string) (*models.TripBundle, error)

	// FetchTileBatch downloads the tiles for the given keys, in order.
	FetchTileBatch(ctx context.Context, keys []models.TileKey) ([]models.Tile, error)

	// SendMutation pushes one field-level edit to the server.
	SendMutation(ctx context.Context, m *models.Mutation) error

	// Close releases the transport. Safe to call on a detached goroutine.
	Close() error
}
