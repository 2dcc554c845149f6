package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

// Client talks to the settlement server. One call per logical action; no
// retries, the synchronisation loop is the recovery mechanism.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for the API rooted at baseURL
// (e.g. http://localhost:8000/api).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 8 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchSettlement returns the settlement aggregate.
func (c *Client) FetchSettlement(ctx context.Context, id int) (Settlement, error) {
	var s Settlement
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/settlements/%d/", id), nil, &s)
	return s, err
}

// FetchMapTiles returns every tile of the settlement map.
func (c *Client) FetchMapTiles(ctx context.Context, id int) ([]Tile, error) {
	var tiles []Tile
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/settlement/%d/map/", id), nil, &tiles)
	return tiles, err
}

// FetchGameClock returns the global game clock.
func (c *Client) FetchGameClock(ctx context.Context) (GameClock, error) {
	var gc GameClock
	err := c.do(ctx, http.MethodGet, "/game-state/", nil, &gc)
	return gc, err
}

// FetchEvents returns the most recent settlement events, newest first.
func (c *Client) FetchEvents(ctx context.Context, id int) ([]SettlementEvent, error) {
	var evs []SettlementEvent
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/settlement/%d/events/", id), nil, &evs)
	return evs, err
}

// PlaceBuilding asks the server to build at a tile.
func (c *Client) PlaceBuilding(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	var res PlaceResult
	err := c.do(ctx, http.MethodPost, "/building/place/", req, &res)
	return res, err
}

// ToggleAssignment assigns an idle villager to the object, or clears the
// current assignment.
func (c *Client) ToggleAssignment(ctx context.Context, req ToggleRequest) (ActionResult, error) {
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/toggle_assignment/", req, &res)
	return res, err
}

// AssignVillager puts a villager to work in a building.
func (c *Client) AssignVillager(ctx context.Context, req AssignRequest) (ActionResult, error) {
	var res ActionResult
	err := c.do(ctx, http.MethodPost, "/villager/assign/", req, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("api request failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response, path string) error {
	apiErr := &Error{Status: resp.StatusCode, Path: path}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apiErr
	}
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Message = body.Error
		if apiErr.Message == "" {
			apiErr.Message = body.Detail
		}
	}
	return apiErr
}
