package livestatus

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
)

// RoomID wraps the upstream room identifier, which is returned either as
// a string or as a number depending on the scraper version.
type RoomID string

// UnmarshalJSON handles string, number and null room ids.
func (r *RoomID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RoomID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("room_id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*r = RoomID(strconv.FormatInt(i, 10))
		return nil
	}
	*r = RoomID(n.String())
	return nil
}

// StatusInfo contains the live status of one account.
type StatusInfo struct {
	Alive  bool   `json:"alive"`
	RoomID RoomID `json:"room_id,omitempty"`
}

type statusResponse struct {
	Data *StatusInfo `json:"data"`
}

// Client queries the scraping service for account live status.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new live status client. Each request is bounded by
// timeout in addition to the caller's context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetStatus retrieves the live status of username.
func (c *Client) GetStatus(ctx context.Context, username string) (*StatusInfo, error) {
	endpoint := fmt.Sprintf("%s/live/user/status?%s", c.baseURL, url.Values{"username": {username}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("status endpoint returned status %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parse status response: %w", err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("status response missing data")
	}

	return body.Data, nil
}

// IsStreamLive checks if the account is currently live.
func (c *Client) IsStreamLive(ctx context.Context, username string) (bool, *StatusInfo, error) {
	info, err := c.GetStatus(ctx, username)
	if err != nil {
		return false, nil, err
	}
	return info.Alive, info, nil
}
