package upstream

import (
	"context"
	"net/http"
	"net/url"
)

// CommentRecorder controls the side-channel comment recorder.
type CommentRecorder struct {
	baseURL     string
	ownerUserID string
	httpClient  *http.Client
}

// NewCommentRecorder creates a new comment recorder client.
func NewCommentRecorder(baseURL, ownerUserID string) *CommentRecorder {
	return &CommentRecorder{
		baseURL:     baseURL,
		ownerUserID: ownerUserID,
		httpClient:  &http.Client{Timeout: controlTimeout},
	}
}

// StartRecording starts recording comments of streamID.
func (c *CommentRecorder) StartRecording(ctx context.Context, username, streamID string) error {
	endpoint := buildURL(c.baseURL, "/live/comments/start-recording", url.Values{
		"username":  {username},
		"stream_id": {streamID},
		"user_id":   {c.ownerUserID},
	})
	return post(ctx, c.httpClient, endpoint)
}

// StopRecording stops recording comments of username.
func (c *CommentRecorder) StopRecording(ctx context.Context, username string) error {
	endpoint := buildURL(c.baseURL, "/live/comments/stop-recording", url.Values{
		"username": {username},
		"user_id":  {c.ownerUserID},
	})
	return post(ctx, c.httpClient, endpoint)
}
