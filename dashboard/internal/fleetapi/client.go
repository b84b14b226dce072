// Package fleetapi provides the HTTP client for the fleet API.
//
// # Operations
//
// - FetchSnapshot: periodic system-record snapshot, optionally filtered
// - SendTileIncrement: deliver one tile usage delta for aggregation
// - FetchTileStatus: fleet-wide tile quota status
// - Heartbeat: periodic session health reporting
//
// All operations are idempotent or duplicate-tolerant on the server side;
// the client is free to retry on the caller's cadence.
package fleetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/gridpoint-energy/fleetview/pkg/types"
)

// Client communicates with the fleet API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authToken   string
	sessionID   string
	rateLimiter *rate.Limiter
}

// Config for the client.
type Config struct {
	BaseURL    string
	AuthToken  string
	SessionID  string
	HTTPClient *http.Client
	// RateLimit is requests per minute across all operations (default: 120).
	RateLimit int
}

// NewClient creates a fleet API client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = 120
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
		authToken:   cfg.AuthToken,
		sessionID:   cfg.SessionID,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 1),
	}
}

// SnapshotFilter narrows the snapshot to a deployment and/or event.
type SnapshotFilter struct {
	DeploymentID string
	EventID      string
}

// Query encodes the filter as URL parameters.
func (f SnapshotFilter) Query() url.Values {
	q := url.Values{}
	if f.DeploymentID != "" {
		q.Set("deployment_id", f.DeploymentID)
	}
	if f.EventID != "" {
		q.Set("event_id", f.EventID)
	}
	return q
}

// FetchSnapshot retrieves the current system records, optionally filtered.
// Safe to call repeatedly; the endpoint has no side effects.
func (c *Client) FetchSnapshot(ctx context.Context, filter SnapshotFilter) ([]*types.SystemRecord, error) {
	path := "/api/v1/systems"
	if q := filter.Query().Encode(); q != "" {
		path += "?" + q
	}

	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var result struct {
		Systems []*types.SystemRecord `json:"systems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return result.Systems, nil
}

// SendTileIncrement delivers one provider's usage delta. The server
// aggregates by summation and tolerates duplicates.
func (c *Client) SendTileIncrement(ctx context.Context, inc types.TileIncrement) error {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/tiles/usage", inc)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.readError(resp)
	}
	return nil
}

// FetchTileStatus retrieves fleet-wide tile quota status.
func (c *Client) FetchTileStatus(ctx context.Context) (*types.TileFleetStatus, error) {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/tiles/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var result types.TileFleetStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding tile status: %w", err)
	}
	return &result, nil
}

// Heartbeat reports session health.
func (c *Client) Heartbeat(ctx context.Context, hb types.Heartbeat) error {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/sessions/heartbeat", hb)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.readError(resp)
	}
	return nil
}

// doRequest performs an HTTP request with standard headers, pacing through
// the client-side rate limiter.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fleetview/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if c.sessionID != "" {
		req.Header.Set("X-Session-ID", c.sessionID)
	}

	return c.httpClient.Do(req)
}

// readError extracts an error message from a failed response.
func (c *Client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}
