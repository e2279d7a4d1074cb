package domain

import "time"

type ProducerID string
type TransportID string

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type TransportState string

const (
	TransportCreated   TransportState = "created"
	TransportConnected TransportState = "connected"
	TransportClosed    TransportState = "closed"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// RemoteTrackInfo describes one consumed track in the composite remote stream.
type RemoteTrackInfo struct {
	Producer ProducerID
	Kind     TrackKind
	TrackID  string
}

// MediaStats aggregates inbound quality metrics extracted from RTCP receiver
// reports for the current media session.
type MediaStats struct {
	PacketLoss   float64
	Jitter       time.Duration
	ReportsSeen  int
	LastReportAt time.Time
}
