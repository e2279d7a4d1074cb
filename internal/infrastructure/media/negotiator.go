package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"embercall/internal/core/domain"
	"embercall/internal/core/ports"
	"embercall/internal/infrastructure/monitoring"
	"embercall/pkg/tracing"

	"github.com/pion/webrtc/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Factory builds one media Session per call, all sharing the process-wide
// signaling channel.
type Factory struct {
	channel    ports.SignalingChannel
	transports TransportFactory
	capture    Capture
	metrics    *monitoring.CallMetrics
	ackTimeout time.Duration
	logger     *zap.SugaredLogger
}

func NewFactory(
	channel ports.SignalingChannel,
	transports TransportFactory,
	capture Capture,
	metrics *monitoring.CallMetrics,
	ackTimeout time.Duration,
	logger *zap.SugaredLogger,
) *Factory {
	return &Factory{
		channel:    channel,
		transports: transports,
		capture:    capture,
		metrics:    metrics,
		ackTimeout: ackTimeout,
		logger:     logger,
	}
}

func (f *Factory) NewSession(roomID domain.RoomID, localUser domain.UserID, audioOnly bool) ports.MediaSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		roomID:     roomID,
		localUser:  localUser,
		audioOnly:  audioOnly,
		channel:    f.channel,
		transports: f.transports,
		capture:    f.capture,
		metrics:    f.metrics,
		ackTimeout: f.ackTimeout,
		ctx:        ctx,
		cancel:     cancel,
		remote:     NewRemoteStream(f.logger),
		stats:      newStatsCollector(f.metrics, f.logger),
		consumed:   make(map[domain.ProducerID]domain.TrackKind),
		logger:     f.logger.With("room_id", roomID),
	}
}

// Session owns the media state of one call: local tracks, one send and one
// recv transport, and the composite remote stream. It is exclusively owned by
// one call session and torn down before the client may start another call.
type Session struct {
	roomID    domain.RoomID
	localUser domain.UserID
	audioOnly bool

	channel    ports.SignalingChannel
	transports TransportFactory
	capture    Capture
	metrics    *monitoring.CallMetrics
	ackTimeout time.Duration

	// ctx spans the session's lifetime; Close cancels it, so negotiation
	// round-trips resolving after teardown are dropped by construction.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	closed      bool
	sendT       Transport
	recvT       Transport
	local       []*LocalTrack
	regs        []ports.Unsubscribe

	remote   *RemoteStream
	stats    *statsCollector
	consumed map[domain.ProducerID]domain.TrackKind

	logger *zap.SugaredLogger
}

// clientCapabilities is what this endpoint can consume and produce.
func clientCapabilities() webrtc.RTPCapabilities {
	return webrtc.RTPCapabilities{
		Codecs: []webrtc.RTPCodecCapability{
			{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
}

// OnRemoteUpdate registers the composite-stream callback. Must be called
// before Initialize.
func (s *Session) OnRemoteUpdate(fn func()) {
	s.remote.SetOnUpdate(fn)
}

// Initialize joins the room, opens both transports, publishes local media and
// consumes every already-present producer. Late producers are consumed for
// the rest of the session through the same merge path. Permission and
// negotiation errors are terminal for the session.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized: %w", domain.ErrNegotiationFailed)
	}
	s.initialized = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "media.initialize")
	defer span.End()
	tracing.AddSpanAttributes(ctx, attribute.String("room_id", string(s.roomID)))

	// 1. Join the room: the server answers with its RTP capabilities and the
	// producers already active in the room.
	join, err := s.joinRoom(ctx)
	if err != nil {
		return err
	}

	// 2. Device load: a capability mismatch with the server is fatal.
	if err := s.checkCapabilities(join.RouterCapabilities); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	// 3. Send transport first, then capture and publish local media.
	sendT, err := s.createTransport(ctx, domain.DirectionSend)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sendT = sendT
	s.mu.Unlock()

	if err := s.publishLocalMedia(ctx); err != nil {
		return err
	}

	// 4. Recv transport must exist before any consume is issued.
	recvT, err := s.createTransport(ctx, domain.DirectionRecv)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recvT = recvT
	s.mu.Unlock()

	// 5. Listen for producers published after us. The handler funnels into
	// the same merge path as the enumeration below, so arrival order and
	// redundant announcements do not matter.
	unsub := s.channel.On(domain.EventNewProducer, func(raw json.RawMessage) {
		var payload domain.NewProducerPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			s.logger.Warnw("malformed new-producer payload", "error", err)
			return
		}
		go func() {
			if err := s.consume(payload.ProducerID); err != nil && !errors.Is(err, domain.ErrStaleResult) {
				s.logger.Warnw("consume failed", "producer_id", payload.ProducerID, "error", err)
			}
		}()
	})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return domain.ErrSessionClosed
	}
	s.regs = append(s.regs, unsub)
	s.mu.Unlock()

	// 6. Consume existing participants.
	for _, producerID := range join.ExistingProducerIDs {
		if err := s.consume(producerID); err != nil {
			if errors.Is(err, domain.ErrStaleResult) {
				return domain.ErrSessionClosed
			}
			return err
		}
	}

	s.logger.Infow("media session initialized",
		"audio_only", s.audioOnly,
		"existing_producers", len(join.ExistingProducerIDs),
	)
	return nil
}

func (s *Session) joinRoom(ctx context.Context) (*domain.JoinRoomResponse, error) {
	raw, err := s.request(ctx, domain.EventJoinRoom, domain.JoinRoomRequest{
		RoomID: s.roomID,
		UserID: s.localUser,
	})
	if err != nil {
		return nil, fmt.Errorf("join room: %v: %w", err, domain.ErrNegotiationFailed)
	}

	var join domain.JoinRoomResponse
	if err := json.Unmarshal(raw, &join); err != nil {
		return nil, fmt.Errorf("join room response: %v: %w", err, domain.ErrNegotiationFailed)
	}
	if join.Error != "" {
		return nil, fmt.Errorf("join room rejected: %s: %w", join.Error, domain.ErrNegotiationFailed)
	}
	return &join, nil
}

// checkCapabilities is the device-load step: the session is only viable when
// the server offers at least one audio codec this endpoint supports.
func (s *Session) checkCapabilities(router webrtc.RTPCapabilities) error {
	supported := make(map[string]bool)
	for _, c := range clientCapabilities().Codecs {
		supported[strings.ToLower(c.MimeType)] = true
	}

	audioOK := false
	for _, c := range router.Codecs {
		if supported[strings.ToLower(c.MimeType)] && strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
			audioOK = true
		}
	}
	if !audioOK {
		return fmt.Errorf("no shared audio codec with server: %w", domain.ErrNegotiationFailed)
	}
	return nil
}

func (s *Session) createTransport(ctx context.Context, dir domain.TransportDirection) (Transport, error) {
	raw, err := s.request(ctx, domain.EventCreateTransport, domain.CreateTransportRequest{RoomID: s.roomID})
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %v: %w", dir, err, domain.ErrNegotiationFailed)
	}

	var opts domain.TransportOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("transport options: %v: %w", err, domain.ErrNegotiationFailed)
	}
	if opts.Error != "" {
		return nil, fmt.Errorf("create %s transport rejected: %s: %w", dir, opts.Error, domain.ErrNegotiationFailed)
	}

	transport, err := s.transports.NewTransport(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("build %s transport: %v: %w", dir, err, domain.ErrNegotiationFailed)
	}

	dtlsParams, err := transport.LocalDTLSParameters()
	if err != nil {
		transport.Close()
		return nil, fmt.Errorf("local DTLS parameters: %v: %w", err, domain.ErrNegotiationFailed)
	}

	// connect-transport is fire-and-forget; the server is ready once it saw
	// our DTLS parameters.
	if err := s.channel.Emit(domain.EventConnectTransport, domain.ConnectTransportRequest{
		TransportID:    transport.ID(),
		DTLSParameters: dtlsParams,
	}); err != nil {
		transport.Close()
		return nil, fmt.Errorf("connect %s transport: %v: %w", dir, err, domain.ErrNegotiationFailed)
	}

	if err := transport.Connect(); err != nil {
		transport.Close()
		return nil, fmt.Errorf("connect %s transport: %v: %w", dir, err, domain.ErrNegotiationFailed)
	}
	return transport, nil
}

// publishLocalMedia captures local tracks and produces each over the send
// transport.
func (s *Session) publishLocalMedia(ctx context.Context) error {
	tracks, err := s.capture.Acquire(ctx, s.audioOnly)
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			return err
		}
		return fmt.Errorf("capture: %v: %w", err, domain.ErrMediaAccessDenied)
	}

	s.mu.Lock()
	s.local = tracks
	sendT := s.sendT
	s.mu.Unlock()

	for _, lt := range tracks {
		params, err := sendT.SendTrack(lt.Track())
		if err != nil {
			return fmt.Errorf("attach %s track: %v: %w", lt.Kind(), err, domain.ErrNegotiationFailed)
		}

		raw, err := s.request(ctx, domain.EventProduce, domain.ProduceRequest{
			RoomID:        s.roomID,
			TransportID:   sendT.ID(),
			Kind:          lt.Kind(),
			RTPParameters: params,
		})
		if err != nil {
			return fmt.Errorf("produce %s: %v: %w", lt.Kind(), err, domain.ErrNegotiationFailed)
		}

		var resp domain.ProduceResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("produce response: %v: %w", err, domain.ErrNegotiationFailed)
		}
		if resp.Error != "" {
			return fmt.Errorf("produce %s rejected: %s: %w", lt.Kind(), resp.Error, domain.ErrNegotiationFailed)
		}
		s.logger.Debugw("producing track", "kind", lt.Kind(), "producer_id", resp.ID)
	}
	return nil
}

// consume subscribes to one remote producer and merges its track into the
// composite stream. Safe to call for a producer that is already consumed;
// results arriving after Close are discarded.
func (s *Session) consume(producerID domain.ProducerID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStaleResult
	}
	recvT := s.recvT
	if recvT == nil {
		s.mu.Unlock()
		return fmt.Errorf("consume before recv transport exists: %w", domain.ErrTransportNotReady)
	}
	if _, dup := s.consumed[producerID]; dup {
		s.mu.Unlock()
		s.logger.Debugw("producer already consumed", "producer_id", producerID)
		return nil
	}
	s.mu.Unlock()

	raw, err := s.request(s.ctx, domain.EventConsume, domain.ConsumeRequest{
		RoomID:          s.roomID,
		ProducerID:      producerID,
		TransportID:     recvT.ID(),
		RTPCapabilities: clientCapabilities(),
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return domain.ErrStaleResult
		}
		return fmt.Errorf("consume %s: %v: %w", producerID, err, domain.ErrNegotiationFailed)
	}

	var resp domain.ConsumeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("consume response: %v: %w", err, domain.ErrNegotiationFailed)
	}
	if resp.Error != "" {
		return fmt.Errorf("consume %s rejected: %s: %w", producerID, resp.Error, domain.ErrNegotiationFailed)
	}

	// The acknowledgement may have raced Close; a torn-down session must not
	// be mutated by late results.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStaleResult
	}
	s.mu.Unlock()

	remoteTrack, receiver, err := recvT.ReceiveTrack(resp.Kind, resp.SSRC)
	if err != nil {
		return fmt.Errorf("receive %s: %v: %w", producerID, err, domain.ErrNegotiationFailed)
	}

	playback, err := webrtc.NewTrackLocalStaticRTP(resp.Codec, resp.ID, "embercall-remote")
	if err != nil {
		receiver.Stop()
		return fmt.Errorf("playback track: %v: %w", err, domain.ErrNegotiationFailed)
	}

	trackCtx, trackCancel := context.WithCancel(s.ctx)
	ct := &consumedTrack{
		producer: producerID,
		kind:     resp.Kind,
		remote:   remoteTrack,
		receiver: receiver,
		playback: playback,
		cancel:   trackCancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ct.stop()
		return domain.ErrStaleResult
	}
	if replaced, had := s.remoteUpsertLocked(ct); had {
		delete(s.consumed, replaced)
	}
	s.consumed[producerID] = resp.Kind
	s.mu.Unlock()

	go s.remote.pump(trackCtx, ct)
	go s.stats.run(trackCtx, receiver)

	if s.metrics != nil {
		s.metrics.SetRemoteTracks(s.remote.Len())
	}
	s.logger.Infow("consumed remote track", "producer_id", producerID, "kind", resp.Kind)
	return nil
}

// remoteUpsertLocked merges under s.mu so the consumed map and stream stay
// consistent.
func (s *Session) remoteUpsertLocked(ct *consumedTrack) (domain.ProducerID, bool) {
	return s.remote.Upsert(ct)
}

// request is one negotiation round-trip: bounded by the ack timeout and by
// the session's lifetime, so teardown cancels anything in flight.
func (s *Session) request(ctx context.Context, event string, payload interface{}) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.channel.Request(reqCtx, event, payload)
	if s.metrics != nil {
		s.metrics.ObserveNegotiation(event, time.Since(start), err)
	}
	return raw, err
}

func (s *Session) LocalTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]webrtc.TrackLocal, 0, len(s.local))
	for _, lt := range s.local {
		out = append(out, lt.Track())
	}
	return out
}

func (s *Session) RemoteTracks() []domain.RemoteTrackInfo {
	return s.remote.Infos()
}

// RemotePlaybacks exposes the playable track handles of the composite stream.
func (s *Session) RemotePlaybacks() []*webrtc.TrackLocalStaticRTP {
	return s.remote.Playbacks()
}

func (s *Session) SetAudioEnabled(enabled bool) { s.setKindEnabled(domain.TrackKindAudio, enabled) }
func (s *Session) SetVideoEnabled(enabled bool) { s.setKindEnabled(domain.TrackKindVideo, enabled) }

func (s *Session) setKindEnabled(kind domain.TrackKind, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lt := range s.local {
		if lt.Kind() == kind {
			lt.SetEnabled(enabled)
		}
	}
}

func (s *Session) Stats() domain.MediaStats {
	return s.stats.snapshot()
}

// Close tears the session down: cancels in-flight negotiation, removes event
// registrations, stops local tracks and closes both transports. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	regs := s.regs
	s.regs = nil
	local := s.local
	sendT, recvT := s.sendT, s.recvT
	s.mu.Unlock()

	s.cancel()

	for _, unsub := range regs {
		unsub()
	}
	for _, lt := range local {
		lt.Stop()
	}

	s.remote.Close()

	if sendT != nil {
		if err := sendT.Close(); err != nil {
			s.logger.Warnw("close send transport", "error", err)
		}
	}
	if recvT != nil {
		if err := recvT.Close(); err != nil {
			s.logger.Warnw("close recv transport", "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.SetRemoteTracks(0)
	}
	s.logger.Infow("media session closed")
	return nil
}
