package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/coordcluster/internal/config"
	"github.com/banshee-data/coordcluster/internal/db"
	"github.com/banshee-data/coordcluster/internal/httputil"
)

// Client calls a remote coordcluster server.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a Client for baseURL using http.DefaultClient.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: http.DefaultClient}
}

// Error is a non-2xx response from the server.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Cluster submits points for clustering.
func (c *Client) Cluster(ctx context.Context, req ClusterRequest) (*ClusterResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var resp ClusterResponse
	if err := c.do(ctx, http.MethodPost, "/api/cluster", "application/json", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClusterCSV submits a CSV document with longitude and latitude columns.
// cfg may be nil to use the server defaults.
func (c *Client) ClusterCSV(ctx context.Context, csv io.Reader, source string, cfg *config.ClusterConfig) (*ClusterResponse, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if cfg != nil {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encoding config: %w", err)
		}
		q.Set("config", string(raw))
	}
	path := "/api/cluster"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp ClusterResponse
	if err := c.do(ctx, http.MethodPost, path, "text/csv", csv, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun fetches a recorded run.
func (c *Client) GetRun(ctx context.Context, id string) (*db.ClusterRun, error) {
	var run db.ClusterRun
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), "", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb httputil.ErrorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return &Error{StatusCode: resp.StatusCode, Kind: eb.Kind, Message: eb.Error}
		}
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
