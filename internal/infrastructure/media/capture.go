package media

import (
	"context"
	"sync/atomic"

	"embercall/internal/core/domain"
	"embercall/pkg/utils"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
)

// LocalTrack is one locally captured track handle. Samples written while the
// track is disabled are dropped, which is how mute and camera-off work
// without renegotiation.
type LocalTrack struct {
	kind    domain.TrackKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool
}

func newLocalTrack(kind domain.TrackKind, codec webrtc.RTPCodecCapability, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, utils.GenerateTrackID(string(kind)), streamID)
	if err != nil {
		return nil, err
	}
	lt := &LocalTrack{kind: kind, track: track}
	lt.enabled.Store(true)
	return lt, nil
}

func (t *LocalTrack) Kind() domain.TrackKind   { return t.kind }
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }
func (t *LocalTrack) Enabled() bool            { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(enabled bool) {
	if !t.stopped.Load() {
		t.enabled.Store(enabled)
	}
}

// WriteSample feeds one encoded media sample into the track.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// Stop releases the capture source. The track handle stays valid but writes
// become no-ops.
func (t *LocalTrack) Stop() {
	t.stopped.Store(true)
	t.enabled.Store(false)
}

// Capture acquires local media. audioOnly suppresses the video track. A
// refused device yields domain.ErrMediaAccessDenied.
type Capture interface {
	Acquire(ctx context.Context, audioOnly bool) ([]*LocalTrack, error)
}

// SampleCapture is the default capture: it creates Opus and VP8 sample track
// handles that the embedding application feeds via WriteSample. Device-level
// permission enforcement lives in the embedding layer.
type SampleCapture struct {
	streamID string
}

func NewSampleCapture() *SampleCapture {
	return &SampleCapture{streamID: utils.GenerateSessionID()}
}

func (c *SampleCapture) Acquire(_ context.Context, audioOnly bool) ([]*LocalTrack, error) {
	audio, err := newLocalTrack(domain.TrackKindAudio, webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, c.streamID)
	if err != nil {
		return nil, err
	}

	tracks := []*LocalTrack{audio}
	if !audioOnly {
		video, err := newLocalTrack(domain.TrackKindVideo, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, c.streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, video)
	}
	return tracks, nil
}
