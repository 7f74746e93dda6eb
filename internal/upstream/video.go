package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// VideoSource starts and stops live-video capture at the scraping service.
type VideoSource struct {
	baseURL       string
	ownerUserID   string
	saveInterval  int
	streamClient  *http.Client
	controlClient *http.Client
}

// NewVideoSource creates a new live-video source client.
func NewVideoSource(baseURL, ownerUserID string, saveInterval int) *VideoSource {
	return &VideoSource{
		baseURL:       baseURL,
		ownerUserID:   ownerUserID,
		saveInterval:  saveInterval,
		streamClient:  &http.Client{},
		controlClient: &http.Client{Timeout: controlTimeout},
	}
}

// StartRecording opens the live byte stream for username. The caller owns
// the returned body; cancelling ctx aborts the read.
func (v *VideoSource) StartRecording(ctx context.Context, username string) (io.ReadCloser, error) {
	endpoint := buildURL(v.baseURL, "/live/video/start-recording", url.Values{
		"username":      {username},
		"user_id":       {v.ownerUserID},
		"save_interval": {strconv.Itoa(v.saveInterval)},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := v.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("video source returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// StopRecording asks the scraping service to stop capturing username.
func (v *VideoSource) StopRecording(ctx context.Context, username string) error {
	endpoint := buildURL(v.baseURL, "/live/video/stop-recording", url.Values{
		"username": {username},
		"user_id":  {v.ownerUserID},
	})
	return post(ctx, v.controlClient, endpoint)
}
