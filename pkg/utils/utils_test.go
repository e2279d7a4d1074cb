package utils

import (
	"strings"
	"testing"
)

func TestNewCorrelationID(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()

	if id1 == "" {
		t.Fatal("expected non-empty correlation id")
	}
	if id1 == id2 {
		t.Error("expected different correlation ids")
	}
}

func TestGenerateSessionID(t *testing.T) {
	id := GenerateSessionID()

	if !strings.HasPrefix(id, "session-") {
		t.Errorf("expected prefix 'session-', got %s", id)
	}
	if id == GenerateSessionID() {
		t.Error("expected different session ids")
	}
}

func TestGenerateTrackID(t *testing.T) {
	id := GenerateTrackID("audio")

	if !strings.HasPrefix(id, "audio-") {
		t.Errorf("expected prefix 'audio-', got %s", id)
	}
	if len(id) != len("audio-")+12 {
		t.Errorf("unexpected id length: %s", id)
	}
	if id == GenerateTrackID("audio") {
		t.Error("expected different track ids")
	}
}
