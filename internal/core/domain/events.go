package domain

import (
	"github.com/pion/webrtc/v3"
)

// Signaling event names. Inbound events are pushed by the server; outbound
// events are emitted by the client, some with acknowledgements.
const (
	EventIncomingCall = "incoming-call"
	EventCallAccepted = "call-accepted"
	EventCallRejected = "call-rejected"
	EventCallEnded    = "call-ended"
	EventNewProducer  = "new-producer"

	EventJoinRoom         = "join-room"
	EventCreateTransport  = "create-transport"
	EventConnectTransport = "connect-transport"
	EventProduce          = "produce"
	EventConsume          = "consume"
)

type IncomingCallPayload struct {
	CallID       CallID   `json:"callId"`
	FromUserID   UserID   `json:"fromUserId"`
	FromUserName string   `json:"fromUserName"`
	CallType     CallType `json:"callType"`
}

type CallAcceptedPayload struct {
	CallID     CallID `json:"callId"`
	AcceptedBy UserID `json:"acceptedBy"`
}

type CallRejectedPayload struct {
	CallID     CallID `json:"callId"`
	RejectedBy UserID `json:"rejectedBy"`
}

type CallEndedPayload struct {
	CallID CallID `json:"callId"`
}

type NewProducerPayload struct {
	ProducerID ProducerID `json:"producerId"`
}

type JoinRoomRequest struct {
	RoomID RoomID `json:"roomId"`
	UserID UserID `json:"userId"`
}

type JoinRoomResponse struct {
	RouterCapabilities  webrtc.RTPCapabilities `json:"routerRtpCapabilities"`
	ExistingProducerIDs []ProducerID           `json:"existingProducerIds"`
	Error               string                 `json:"error,omitempty"`
}

type CreateTransportRequest struct {
	RoomID RoomID `json:"roomId"`
}

// TransportOptions are the server-side connection parameters for one
// transport, returned from create-transport.
type TransportOptions struct {
	ID             TransportID           `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
	Error          string                `json:"error,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    TransportID           `json:"transportId"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

type ProduceRequest struct {
	RoomID        RoomID                   `json:"roomId"`
	TransportID   TransportID              `json:"transportId"`
	Kind          TrackKind                `json:"kind"`
	RTPParameters webrtc.RTPSendParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	ID    ProducerID `json:"id"`
	Error string     `json:"error,omitempty"`
}

type ConsumeRequest struct {
	RoomID          RoomID                 `json:"roomId"`
	ProducerID      ProducerID             `json:"producerId"`
	TransportID     TransportID            `json:"transportId"`
	RTPCapabilities webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type ConsumeResponse struct {
	ID         string                    `json:"id"`
	ProducerID ProducerID                `json:"producerId"`
	Kind       TrackKind                 `json:"kind"`
	Codec      webrtc.RTPCodecCapability `json:"codec"`
	SSRC       webrtc.SSRC               `json:"ssrc"`
	Error      string                    `json:"error,omitempty"`
}
