package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/odvcencio/periscope/pkg/errors"
)

// Fetcher is the request/response side of the backend.
type Fetcher interface {
	// List fetches the full process list with system info.
	List(ctx context.Context) (*ListResponse, error)
	// Detail fetches the extended view of one process.
	Detail(ctx context.Context, pid int) (*EntityDetail, error)
}

// Client fetches inventory over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an inventory client. A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// List implements Fetcher.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var out ListResponse
	if err := c.get(ctx, "/api/processes", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Detail implements Fetcher.
func (c *Client) Detail(ctx context.Context, pid int) (*EntityDetail, error) {
	var out EntityDetail
	if err := c.get(ctx, fmt.Sprintf("/api/processes/%d", pid), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeRequest, "build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeRequest, "GET "+path).
			WithRetryable(true).
			WithUserMessage("Failed to reach the backend")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrCodeRequest, fmt.Sprintf("GET %s: %s", path, resp.Status)).
			WithRetryable(resp.StatusCode >= 500).
			WithUserMessage("Backend request failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeRequest, "decode "+path)
	}
	return nil
}
