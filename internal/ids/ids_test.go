package ids

import (
	"strings"
	"testing"
	"time"
)

func TestStreamID(t *testing.T) {
	now := time.Unix(1705315000, 0)

	tests := []struct {
		name   string
		roomID string
		want   string
	}{
		{"room id wins", "r1", "r1"},
		{"room id trimmed", "  r2 ", "r2"},
		{"missing room id is synthesized", "", "auto_owner-9_1705315000"},
		{"blank room id is synthesized", "   ", "auto_owner-9_1705315000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StreamID(tt.roomID, "owner-9", now); got != tt.want {
				t.Errorf("StreamID(%q) = %v, want %v", tt.roomID, got, tt.want)
			}
		})
	}
}

func TestIsSynthesized(t *testing.T) {
	if !IsSynthesized(SynthesizeStreamID("o", time.Now())) {
		t.Error("synthesized id should be recognised")
	}
	if IsSynthesized("r1") {
		t.Error("room id should not be recognised as synthesized")
	}
}

func TestTaskNameRoundTrip(t *testing.T) {
	name := TaskName("r1")
	if name != "recording_r1" {
		t.Fatalf("TaskName(r1) = %v, want recording_r1", name)
	}

	streamID, ok := StreamIDFromTaskName(name)
	if !ok || streamID != "r1" {
		t.Errorf("StreamIDFromTaskName(%v) = %v, %v", name, streamID, ok)
	}

	for _, bad := range []string{"", "recording_", "r1", "task_r1"} {
		if _, ok := StreamIDFromTaskName(bad); ok {
			t.Errorf("StreamIDFromTaskName(%q) should fail", bad)
		}
	}
}

func TestNewNotificationID_Unique(t *testing.T) {
	id1 := NewNotificationID()
	id2 := NewNotificationID()

	if id1 == id2 {
		t.Errorf("NewNotificationID() generated duplicate IDs: %v", id1)
	}
	if got := id1.Version(); got != 7 {
		t.Errorf("NewNotificationID() version = %v, want 7", got)
	}
	if strings.Count(id1.String(), "-") != 4 {
		t.Errorf("NewNotificationID() = %v, want canonical form", id1)
	}
}
