// Package api is the client of the host REST API that serves the current
// layout of a space.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/iliyamo/floor-sync/internal/model"
)

const DefaultLayoutPath = "/api/Host/space-layout-current"

// FetchError reports a failed layout load.  Status is the HTTP status, or 0
// when no response was received.
type FetchError struct {
	SpaceID int64
	Status  int
	Err     error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch layout of space %d: status %d: %v", e.SpaceID, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch layout of space %d: %v", e.SpaceID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type layoutResponse struct {
	Data []model.SeatingUnit `json:"data"`
}

type Client struct {
	baseURL    string
	layoutPath string
	client     *http.Client
	// AccessToken, when set, is sent as a bearer token with every request.
	AccessToken func() string
}

// NewClient creates a client for the API at baseURL.  An empty layoutPath
// selects DefaultLayoutPath; a nil client gets a 30s timeout.
func NewClient(baseURL string, layoutPath string, client *http.Client) *Client {
	if layoutPath == "" {
		layoutPath = DefaultLayoutPath
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		layoutPath: "/" + strings.TrimLeft(layoutPath, "/"),
		client:     client,
	}
}

// FetchLayout loads the full current layout of a space.
func (c *Client) FetchLayout(ctx context.Context, spaceID int64) ([]model.SeatingUnit, error) {
	u, err := url.Parse(c.baseURL + c.layoutPath)
	if err != nil {
		return nil, &FetchError{SpaceID: spaceID, Err: err}
	}
	q := u.Query()
	q.Set("spaceId", strconv.FormatInt(spaceID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{SpaceID: spaceID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.AccessToken != nil {
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{SpaceID: spaceID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			SpaceID: spaceID,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("unexpected response %q", strings.TrimSpace(string(body))),
		}
	}

	var out layoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &FetchError{SpaceID: spaceID, Status: resp.StatusCode, Err: fmt.Errorf("decode layout: %w", err)}
	}
	glog.V(1).Infof("[api]fetched %d units for space %d\n", len(out.Data), spaceID)
	return out.Data, nil
}
