package domain

import "errors"

var (
	ErrCallAlreadyActive = errors.New("call already active")
	ErrNoPendingCall     = errors.New("no pending incoming call")
	ErrCallNotActive     = errors.New("no active call")
	ErrMediaAccessDenied = errors.New("media access denied")
	ErrNegotiationFailed = errors.New("media negotiation failed")
	ErrSignalingDown     = errors.New("signaling channel disconnected")
	ErrStaleResult       = errors.New("stale negotiation result")
	ErrTransportNotReady = errors.New("transport not created")
	ErrSessionClosed     = errors.New("media session closed")
	ErrInvalidTransition = errors.New("invalid call state transition")
)
