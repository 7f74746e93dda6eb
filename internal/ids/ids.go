package ids

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AutoStreamPrefix prefixes stream ids synthesized when the status
	// endpoint does not report a room id.
	AutoStreamPrefix = "auto_"
	// TaskPrefix prefixes the registry name of a capture task.
	TaskPrefix = "recording_"
)

// StreamID returns roomID when present, otherwise a synthesized id of the
// form auto_<owner>_<unix-time>.
func StreamID(roomID, ownerID string, now time.Time) string {
	if roomID = strings.TrimSpace(roomID); roomID != "" {
		return roomID
	}
	return SynthesizeStreamID(ownerID, now)
}

// SynthesizeStreamID builds an auto_<owner>_<unix-time> stream id.
func SynthesizeStreamID(ownerID string, now time.Time) string {
	return fmt.Sprintf("%s%s_%d", AutoStreamPrefix, ownerID, now.Unix())
}

// IsSynthesized reports whether the stream id was generated locally.
func IsSynthesized(streamID string) bool {
	return strings.HasPrefix(streamID, AutoStreamPrefix)
}

// TaskName returns the registry name of the capture task for a stream.
func TaskName(streamID string) string {
	return TaskPrefix + streamID
}

// StreamIDFromTaskName reverses TaskName.
func StreamIDFromTaskName(name string) (string, bool) {
	if !strings.HasPrefix(name, TaskPrefix) || len(name) == len(TaskPrefix) {
		return "", false
	}
	return name[len(TaskPrefix):], true
}

// NewNotificationID generates a time-ordered notification id (UUIDv7).
func NewNotificationID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
