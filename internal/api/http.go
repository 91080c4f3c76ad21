package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avolkovs/tripatlas/internal/common"
	"github.com/avolkovs/tripatlas/internal/logging"
	"github.com/avolkovs/tripatlas/internal/models"
)

// httpClient is the JSON-over-HTTP implementation of Client.
type httpClient struct {
	client    *http.Client
	log       logging.Logger
	baseURL   string
	token     string
	userAgent string
}

// NewHTTPClient creates a Client speaking JSON to the server at baseURL.
// Token is sent as a bearer credential when non-empty.
func NewHTTPClient(baseURL, token string, log logging.Logger) Client {
	return &httpClient{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		log:       log,
		baseURL:   baseURL,
		token:     token,
		userAgent: "tripatlas-client/1.0",
	}
}

func (c *httpClient) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

type tripListResponse struct {
	Trips []models.TripSummary `json:"trips"`
}

func (c *httpClient) ListTrips(ctx context.Context) ([]models.TripSummary, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/trips", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var body tripListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding trip list: %w", err)
	}
	return body.Trips, nil
}

func (c *httpClient) FetchTripMetadata(ctx context.Context, tripID string) (*models.TripBundle, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/trips/"+tripID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var bundle models.TripBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decoding trip bundle: %w", err)
	}
	return &bundle, nil
}

// tileBatchRequest is the body of POST /api/tiles/batch.
type tileBatchRequest struct {
	Keys []models.TileKey `json:"keys"`
}

type tileBatchResponse struct {
	Tiles []models.Tile `json:"tiles"`
}

func (c *httpClient) FetchTileBatch(ctx context.Context, keys []models.TileKey) ([]models.Tile, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/tiles/batch", tileBatchRequest{Keys: keys})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	var body tileBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding tile batch: %w", err)
	}
	return body.Tiles, nil
}

// mutationRequest carries one edit to the server. Prior values stay local.
type mutationRequest struct {
	ID         string            `json:"id"`
	EntityKind models.EntityKind `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	TripID     string            `json:"trip_id"`
	Fields     map[string]any    `json:"fields"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (c *httpClient) SendMutation(ctx context.Context, m *models.Mutation) error {
	req := mutationRequest{
		ID:         m.ID,
		EntityKind: m.EntityKind,
		EntityID:   m.EntityID,
		TripID:     m.TripID,
		Fields:     m.Fields,
		CreatedAt:  m.CreatedAt,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/mutations", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

func (c *httpClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// doRequest builds and sends one request. Transport-level failures wrap
// common.ErrServerUnavailable so callers treat them as transient.
func (c *httpClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug(ctx, "request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrServerUnavailable, err)
	}
	return resp, nil
}

// errorResponse is the server's JSON error envelope.
type errorResponse struct {
	Message string `json:"message"`
}

// checkStatus maps HTTP status codes onto the client error contract:
// 2xx is success, 5xx is transient, everything else is a rejection.
func (c *httpClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: server returned %d", common.ErrServerUnavailable, resp.StatusCode)
	}
	msg := http.StatusText(resp.StatusCode)
	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Message != "" {
		msg = body.Message
	}
	return fmt.Errorf("%w: %s", common.ErrRejected, msg)
}
