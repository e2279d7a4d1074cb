package ports

import (
	"context"
	"time"

	"embercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// CallBackend is the REST collaborator that persists call intent server-side.
// Failures are best-effort: they are reported but never roll back a local
// transition already underway.
type CallBackend interface {
	InitiateCall(ctx context.Context, to domain.UserID, callType domain.CallType) (domain.CallID, error)
	AcceptCall(ctx context.Context, id domain.CallID) error
	RejectCall(ctx context.Context, id domain.CallID) error
	EndCall(ctx context.Context, id domain.CallID) error
}

// MediaSession is one per-call media negotiation: local capture, one send and
// one recv transport, produce/consume against the SFU room.
type MediaSession interface {
	// Initialize runs the join/capture/produce/consume sequence. Terminal
	// errors are domain.ErrMediaAccessDenied and domain.ErrNegotiationFailed.
	Initialize(ctx context.Context) error

	// LocalTracks returns the locally captured track handles, available after
	// Initialize succeeds.
	LocalTracks() []webrtc.TrackLocal

	// RemoteTracks is a snapshot of the composite remote stream: at most one
	// audio and one video track.
	RemoteTracks() []domain.RemoteTrackInfo

	// OnRemoteUpdate registers the callback run whenever the composite remote
	// stream changes. Must be set before Initialize.
	OnRemoteUpdate(fn func())

	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)

	Stats() domain.MediaStats

	// Close stops local tracks, closes both transports and removes all event
	// registrations. Idempotent.
	Close() error
}

// MediaSessionFactory builds a session bound to one room. The room id equals
// the call id.
type MediaSessionFactory interface {
	NewSession(roomID domain.RoomID, localUser domain.UserID, audioOnly bool) MediaSession
}

// IdentityProvider supplies the opaque credential bound at signaling connect
// time. Refreshing an expired credential is the auth subsystem's concern.
type IdentityProvider interface {
	Identity(ctx context.Context) (token string, userID domain.UserID, err error)
}

// CallMetrics is the slice of the metrics collector the orchestrator needs.
type CallMetrics interface {
	CallInitiated()
	CallIncoming()
	CallConnected()
	CallFinished(outcome string)
	ObserveCallDuration(d time.Duration)
	ObserveRingToConnect(d time.Duration)
}
