package db

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a stream session.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// IsActive returns true if the session is still being recorded.
func (s SessionStatus) IsActive() bool {
	return s == StatusActive
}

// NotificationStatusEnded is the status stored for end-of-stream notifications.
const NotificationStatusEnded = "ended"

// WatchlistEntry represents one tracked account.
type WatchlistEntry struct {
	ID              int64  `json:"id"`
	UserHandle      string `json:"user_handle"`
	IsLive          bool   `json:"is_live"`
	DisplayImageURL string `json:"display_image_url"`
}

// StreamSession represents one broadcast attempt.
type StreamSession struct {
	StreamID         string        `json:"stream_id"`
	Username         string        `json:"username"`
	Status           SessionStatus `json:"status"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	LastChunkNumber  int           `json:"last_chunk_number"`
	NotificationSent bool          `json:"notification_sent"`
	FullVideoURL     string        `json:"full_video_url,omitempty"`
}

// NextChunkNumber returns the chunk number a capture task resumes at.
// Chunk numbering starts at 1; LastChunkNumber 0 means nothing was captured.
func (s *StreamSession) NextChunkNumber() int {
	return s.LastChunkNumber + 1
}

// Notification is an immutable record of an observed end transition.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	AccountID   int64     `json:"account_id"`
	AccountName string    `json:"account_name"`
	Status      string    `json:"status"`
	Link        string    `json:"link"`
	StreamID    string    `json:"stream_id"`
	CreatedAt   time.Time `json:"created_at"`
}
