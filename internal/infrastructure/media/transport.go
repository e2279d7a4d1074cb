package media

import (
	"fmt"
	"sync"

	"embercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// Transport is one negotiated one-directional media path with the SFU. The
// client holds exactly one send and one recv transport per session.
type Transport interface {
	ID() domain.TransportID
	Direction() domain.TransportDirection
	State() domain.TransportState

	// LocalDTLSParameters are sent to the server in connect-transport.
	LocalDTLSParameters() (webrtc.DTLSParameters, error)

	// Connect starts ICE and DTLS against the server-side parameters the
	// transport was created with.
	Connect() error

	// SendTrack attaches a local track and starts sending. Returns the RTP
	// parameters announced to the server in produce. Send transports only.
	SendTrack(track webrtc.TrackLocal) (webrtc.RTPSendParameters, error)

	// ReceiveTrack opens an inbound track for one consumed producer. Recv
	// transports only.
	ReceiveTrack(kind domain.TrackKind, ssrc webrtc.SSRC) (*webrtc.TrackRemote, *webrtc.RTPReceiver, error)

	Close() error
}

// TransportFactory builds transports from server-issued connection
// parameters. Tests substitute a fake.
type TransportFactory interface {
	NewTransport(dir domain.TransportDirection, opts domain.TransportOptions) (Transport, error)
}

// ORTCConfig carries the local ICE configuration.
type ORTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// ORTCFactory builds transports on the pion ORTC stack: one ICE gatherer, ICE
// transport and DTLS transport per media path, mirroring the SFU's
// transport-per-direction model.
type ORTCFactory struct {
	cfg ORTCConfig
}

func NewORTCFactory(cfg ORTCConfig) *ORTCFactory {
	return &ORTCFactory{cfg: cfg}
}

func (f *ORTCFactory) NewTransport(dir domain.TransportDirection, opts domain.TransportOptions) (Transport, error) {
	settingEngine := webrtc.SettingEngine{}
	if f.cfg.PortRange.Min > 0 && f.cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.cfg.PortRange.Min, f.cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: f.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create ICE gatherer: %w", err)
	}

	ice := api.NewICETransport(gatherer)

	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, fmt.Errorf("create DTLS transport: %w", err)
	}

	// Gather candidates before the transport is used; LocalDTLSParameters and
	// Connect both require gathering to have finished.
	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather ICE candidates: %w", err)
	}
	<-gatherDone

	return &ortcTransport{
		id:       opts.ID,
		dir:      dir,
		remote:   opts,
		api:      api,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		state:    domain.TransportCreated,
	}, nil
}

type ortcTransport struct {
	id     domain.TransportID
	dir    domain.TransportDirection
	remote domain.TransportOptions

	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	mu        sync.Mutex
	state     domain.TransportState
	senders   []*webrtc.RTPSender
	receivers []*webrtc.RTPReceiver
}

func (t *ortcTransport) ID() domain.TransportID               { return t.id }
func (t *ortcTransport) Direction() domain.TransportDirection { return t.dir }

func (t *ortcTransport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *ortcTransport) LocalDTLSParameters() (webrtc.DTLSParameters, error) {
	return t.dtls.GetLocalParameters()
}

func (t *ortcTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != domain.TransportCreated {
		return fmt.Errorf("transport %s in state %s: %w", t.id, t.state, domain.ErrNegotiationFailed)
	}

	if err := t.ice.SetRemoteCandidates(t.remote.ICECandidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}

	// The client side is always the controlling ICE agent.
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(t.gatherer, t.remote.ICEParameters, &role); err != nil {
		return fmt.Errorf("start ICE: %w", err)
	}
	if err := t.dtls.Start(t.remote.DTLSParameters); err != nil {
		return fmt.Errorf("start DTLS: %w", err)
	}

	t.state = domain.TransportConnected
	return nil
}

func (t *ortcTransport) SendTrack(track webrtc.TrackLocal) (webrtc.RTPSendParameters, error) {
	if t.dir != domain.DirectionSend {
		return webrtc.RTPSendParameters{}, fmt.Errorf("transport %s is %s-only", t.id, t.dir)
	}

	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return webrtc.RTPSendParameters{}, fmt.Errorf("create RTP sender: %w", err)
	}

	params := sender.GetParameters()
	if err := sender.Send(params); err != nil {
		return webrtc.RTPSendParameters{}, fmt.Errorf("start sending: %w", err)
	}

	t.mu.Lock()
	t.senders = append(t.senders, sender)
	t.mu.Unlock()
	return params, nil
}

func (t *ortcTransport) ReceiveTrack(kind domain.TrackKind, ssrc webrtc.SSRC) (*webrtc.TrackRemote, *webrtc.RTPReceiver, error) {
	if t.dir != domain.DirectionRecv {
		return nil, nil, fmt.Errorf("transport %s is %s-only", t.id, t.dir)
	}

	codecType := webrtc.RTPCodecTypeAudio
	if kind == domain.TrackKindVideo {
		codecType = webrtc.RTPCodecTypeVideo
	}

	receiver, err := t.api.NewRTPReceiver(codecType, t.dtls)
	if err != nil {
		return nil, nil, fmt.Errorf("create RTP receiver: %w", err)
	}

	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{
			{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: ssrc}},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start receiving: %w", err)
	}

	t.mu.Lock()
	t.receivers = append(t.receivers, receiver)
	t.mu.Unlock()
	return receiver.Track(), receiver, nil
}

func (t *ortcTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == domain.TransportClosed {
		return nil
	}
	t.state = domain.TransportClosed

	for _, s := range t.senders {
		s.Stop()
	}
	for _, r := range t.receivers {
		r.Stop()
	}
	if err := t.dtls.Stop(); err != nil {
		return err
	}
	return t.ice.Stop()
}
