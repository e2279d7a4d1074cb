package domain

import "time"

type CallID string
type UserID string
type RoomID string

type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

type CallStatus string

const (
	CallIdle       CallStatus = "idle"
	CallRinging    CallStatus = "ringing"
	CallConnecting CallStatus = "connecting"
	CallConnected  CallStatus = "connected"
	CallRejected   CallStatus = "rejected"
	CallNoAnswer   CallStatus = "no_answer"
	CallEnded      CallStatus = "ended"
)

// Terminal reports whether no further transitions are possible from the status.
// Rejected and NoAnswer linger briefly before auto-advancing to Ended, so only
// Ended is fully terminal; IsSettled covers all three for disposal checks.
func (s CallStatus) Terminal() bool {
	return s == CallEnded
}

func (s CallStatus) IsSettled() bool {
	return s == CallEnded || s == CallRejected || s == CallNoAnswer
}

// CallSession represents one call attempt. Exactly one session may be current
// per client process; the orchestrator enforces this.
type CallSession struct {
	ID          CallID
	Role        CallRole
	Type        CallType
	PeerUserID  UserID
	PeerName    string
	Status      CallStatus
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// RoomID is the SFU room scope for the session's media; it equals the call id.
func (s *CallSession) RoomID() RoomID {
	return RoomID(s.ID)
}

// Duration returns elapsed connected time, zero if the call never connected.
func (s *CallSession) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.ConnectedAt)
}

// PendingIncomingCall is the transient record of an unanswered incoming call
// notification. It exists only between notification arrival and
// accept/reject/timeout.
type PendingIncomingCall struct {
	CallID       CallID
	FromUserID   UserID
	FromUserName string
	Type         CallType
	ReceivedAt   time.Time
}

// CallRecord is a terminal snapshot of a finished call, persisted to the call
// log repository.
type CallRecord struct {
	CallID      CallID     `json:"call_id"`
	Role        CallRole   `json:"role"`
	Type        CallType   `json:"type"`
	PeerUserID  UserID     `json:"peer_user_id"`
	PeerName    string     `json:"peer_name"`
	Outcome     CallStatus `json:"outcome"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt time.Time  `json:"connected_at,omitempty"`
	EndedAt     time.Time  `json:"ended_at"`
}
