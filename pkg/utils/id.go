package utils

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewCorrelationID returns the id used to match a signaling request with its
// acknowledgement.
func NewCorrelationID() string {
	return uuid.NewString()
}

// GenerateSessionID returns a unique id for a media session instance.
func GenerateSessionID() string {
	return "session-" + uuid.NewString()
}

// GenerateTrackID returns a unique id for a locally created track handle.
func GenerateTrackID(kind string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return kind + "-" + hex.EncodeToString(b)
}
