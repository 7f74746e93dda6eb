package notify

import (
	"time"

	"github.com/xpadev-net/watchlist-supervisor/internal/webhook"
)

// EventData is the body of a stream notification.
type EventData struct {
	Username     string    `json:"username"`
	IsLive       bool      `json:"is_live"`
	StreamID     string    `json:"stream_id"`
	Datetime     time.Time `json:"datetime"`
	ImageURL     string    `json:"image_url"`
	FullVideoURL string    `json:"full_video_url,omitempty"`
}

// Event is the wire format delivered to every subscriber.
type Event struct {
	Type webhook.EventType `json:"type"`
	Data EventData         `json:"data"`
}

// StreamStarted builds a stream.started event.
func StreamStarted(username, streamID, imageURL string, at time.Time) Event {
	return Event{
		Type: webhook.EventStreamStarted,
		Data: EventData{
			Username: username,
			IsLive:   true,
			StreamID: streamID,
			Datetime: at.UTC(),
			ImageURL: imageURL,
		},
	}
}

// StreamEnded builds a stream.ended event.
func StreamEnded(username, streamID, imageURL, fullVideoURL string, at time.Time) Event {
	return Event{
		Type: webhook.EventStreamEnded,
		Data: EventData{
			Username:     username,
			IsLive:       false,
			StreamID:     streamID,
			Datetime:     at.UTC(),
			ImageURL:     imageURL,
			FullVideoURL: fullVideoURL,
		},
	}
}
