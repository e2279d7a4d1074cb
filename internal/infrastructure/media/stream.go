package media

import (
	"context"
	"sync"

	"embercall/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// consumedTrack is one remote producer's track: the inbound pion track, its
// receiver and the playback handle exposed to the UI layer. cancel stops its
// pump and stats goroutines.
type consumedTrack struct {
	producer domain.ProducerID
	kind     domain.TrackKind
	remote   *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
	playback *webrtc.TrackLocalStaticRTP
	cancel   context.CancelFunc
}

func (ct *consumedTrack) stop() {
	if ct.cancel != nil {
		ct.cancel()
	}
	if ct.receiver != nil {
		ct.receiver.Stop()
	}
}

// RemoteStream is the composite remote stream: all consumed tracks merged
// into at most one audio and one video track. A newly consumed track of a
// given kind replaces any earlier track of that kind, which keeps redundant
// producer announcements and re-publishes from duplicating audio or ghosting
// video.
type RemoteStream struct {
	mu       sync.Mutex
	tracks   map[domain.TrackKind]*consumedTrack
	onUpdate func()
	logger   *zap.SugaredLogger
}

func NewRemoteStream(logger *zap.SugaredLogger) *RemoteStream {
	return &RemoteStream{
		tracks: make(map[domain.TrackKind]*consumedTrack),
		logger: logger,
	}
}

// SetOnUpdate registers the callback run after every merge.
func (s *RemoteStream) SetOnUpdate(fn func()) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// Upsert merges one consumed track, replacing any existing track of the same
// kind. Returns the producer id of the replaced track, if any.
func (s *RemoteStream) Upsert(ct *consumedTrack) (replaced domain.ProducerID, had bool) {
	s.mu.Lock()
	old := s.tracks[ct.kind]
	s.tracks[ct.kind] = ct
	fn := s.onUpdate
	s.mu.Unlock()

	if old != nil {
		old.stop()
		replaced, had = old.producer, true
		s.logger.Debugw("replaced remote track", "kind", ct.kind, "old_producer", old.producer, "new_producer", ct.producer)
	}
	if fn != nil {
		fn()
	}
	return replaced, had
}

// Infos returns a snapshot of the merged stream.
func (s *RemoteStream) Infos() []domain.RemoteTrackInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]domain.RemoteTrackInfo, 0, len(s.tracks))
	for _, ct := range s.tracks {
		infos = append(infos, domain.RemoteTrackInfo{
			Producer: ct.producer,
			Kind:     ct.kind,
			TrackID:  ct.playback.ID(),
		})
	}
	return infos
}

// Len returns the number of merged tracks.
func (s *RemoteStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracks)
}

// Playbacks returns the playback track handles for the UI layer.
func (s *RemoteStream) Playbacks() []*webrtc.TrackLocalStaticRTP {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*webrtc.TrackLocalStaticRTP, 0, len(s.tracks))
	for _, ct := range s.tracks {
		out = append(out, ct.playback)
	}
	return out
}

// Close stops every consumed track.
func (s *RemoteStream) Close() {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = make(map[domain.TrackKind]*consumedTrack)
	s.mu.Unlock()

	for _, ct := range tracks {
		ct.stop()
	}
}

// pump copies RTP packets from the inbound track to the playback handle until
// the track ends or the context is cancelled.
func (s *RemoteStream) pump(ctx context.Context, ct *consumedTrack) {
	if ct.remote == nil {
		return
	}
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}

	for ctx.Err() == nil {
		n, _, err := ct.remote.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debugw("remote track ended", "producer", ct.producer, "kind", ct.kind, "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Warnw("malformed RTP packet", "producer", ct.producer, "error", err)
			continue
		}
		if err := ct.playback.WriteRTP(pkt); err != nil {
			s.logger.Debugw("playback write failed", "producer", ct.producer, "error", err)
		}
	}
}
