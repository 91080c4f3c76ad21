package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, "test-token", logging.NewNopLogger())
}

func TestHTTPClient_Ping(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))

	err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestHTTPClient_ListTrips(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trips", r.URL.Path)
		_ = json.NewEncoder(w).Encode(tripListResponse{
			Trips: []models.TripSummary{
				{ID: "trip1", Name: "Alps"},
				{ID: "trip2", Name: "Coast"},
			},
		})
	}))

	got, err := c.ListTrips(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alps", got[0].Name)
}

func TestHTTPClient_FetchTripMetadata(t *testing.T) {
	bundle := models.TripBundle{
		Trip: models.Trip{ID: "trip1", Name: "Alps"},
		Places: []models.Place{
			{ID: "p1", TripID: "trip1", Name: "Hut", Lat: 46.5, Lon: 8.0},
		},
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trips/trip1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(bundle)
	}))

	got, err := c.FetchTripMetadata(context.Background(), "trip1")
	require.NoError(t, err)
	assert.Equal(t, "Alps", got.Trip.Name)
	require.Len(t, got.Places, 1)
	assert.Equal(t, "Hut", got.Places[0].Name)
}

func TestHTTPClient_FetchTileBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tileBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := tileBatchResponse{}
		for _, k := range req.Keys {
			resp.Tiles = append(resp.Tiles, models.Tile{Key: k, Data: []byte("img")})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))

	keys := []models.TileKey{
		{SourceID: "osm", Z: 12, X: 2170, Y: 1450},
		{SourceID: "osm", Z: 12, X: 2171, Y: 1450},
	}
	tiles, err := c.FetchTileBatch(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, tiles, 2)
	assert.Equal(t, keys[0], tiles[0].Key)
	assert.Equal(t, []byte("img"), tiles[0].Data)
}

func TestHTTPClient_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrServerUnavailable)
	assert.Equal(t, common.FailureTransient, common.Classify(err))
}

func TestHTTPClient_ClientErrorIsRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "stale entity version"})
	}))

	m := &models.Mutation{
		ID:         "m1",
		EntityKind: models.KindPlace,
		EntityID:   "p1",
		TripID:     "trip1",
		Fields:     map[string]any{"name": "New name"},
		CreatedAt:  time.Now(),
	}
	err := c.SendMutation(context.Background(), m)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRejected)
	assert.Contains(t, err.Error(), "stale entity version")
}

func TestHTTPClient_UnreachableServer(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", logging.NewNopLogger())
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrServerUnavailable))
}
