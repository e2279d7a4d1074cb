package ports

import (
	"context"
	"encoding/json"
)

// EventHandler receives the raw payload of one inbound signaling event.
type EventHandler func(payload json.RawMessage)

// Unsubscribe removes a previously registered event handler. Calling it more
// than once is a no-op.
type Unsubscribe func()

// SignalingChannel is the persistent bidirectional message channel carrying
// call-control events and SFU negotiation messages. One channel is shared by
// all call sessions sequentially; it is injected explicitly rather than held
// as ambient global state.
type SignalingChannel interface {
	// Connect establishes the connection, authenticating with the identity
	// supplied by the channel's identity provider. Idempotent: a live
	// connection is reused.
	Connect(ctx context.Context) error

	// On registers a handler for a named inbound event. Multiple independent
	// handlers per event are allowed. The returned Unsubscribe must be called
	// on teardown; sessions keep a registration list drained on close.
	On(event string, h EventHandler) Unsubscribe

	// Emit sends a named message without waiting for a reply.
	Emit(event string, payload interface{}) error

	// Request sends a named message and waits for the server's
	// acknowledgement. The context bounds the round-trip; a dropped
	// connection or expired context fails the request.
	Request(ctx context.Context, event string, payload interface{}) (json.RawMessage, error)

	// Disconnect releases the connection. Queued acknowledgements are
	// abandoned.
	Disconnect() error

	Connected() bool
}
