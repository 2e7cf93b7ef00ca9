package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/hiredesk/interview/internal/core"
)

// LocalTrack is a sample-fed outbound track. Disabling it drops
// writes, which mutes the track without renegotiation; stopping it is
// final.
type LocalTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *LocalTrack) Kind() core.TrackKind { return t.kind }

func (t *LocalTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *LocalTrack) SetEnabled(on bool) {
	t.mu.Lock()
	if !t.stopped {
		t.enabled = on
	}
	t.mu.Unlock()
}

func (t *LocalTrack) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

// WriteSample feeds one media sample to the track. Samples written
// while the track is disabled or stopped are silently dropped.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	t.mu.Lock()
	ok := t.enabled && !t.stopped
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.track.WriteSample(s)
}

// LocalStream is the locally captured audio/video pair.
type LocalStream struct {
	audio *LocalTrack
	video *LocalTrack
}

func (s *LocalStream) AudioTrack() core.MediaTrack { return s.audio }
func (s *LocalStream) VideoTrack() core.MediaTrack { return s.video }

func (s *LocalStream) Close() {
	s.audio.Stop()
	s.video.Stop()
}

// Audio returns the writable audio track for the media pipeline.
func (s *LocalStream) Audio() *LocalTrack { return s.audio }

// Video returns the writable video track for the media pipeline.
func (s *LocalStream) Video() *LocalTrack { return s.video }

func (s *LocalStream) rtpTracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio.track, s.video.track}
}

// NewCapture returns a CaptureFunc producing Opus/VP8 sample tracks.
// The caller owns feeding them from its device pipeline.
func NewCapture() core.CaptureFunc {
	return func(ctx context.Context, cons core.CaptureConstraints) (core.MediaStream, error) {
		if err := ctx.Err(); err != nil {
			return nil, &core.MediaError{Kind: core.MediaDeviceNotFound, Err: err}
		}
		sampleRate := uint32(cons.SampleRate)
		if sampleRate == 0 {
			sampleRate = 48000
		}
		streamID := "interview-" + uuid.NewString()[:8]

		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, &core.MediaError{Kind: core.MediaDeviceNotFound, Err: err}
		}
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, &core.MediaError{Kind: core.MediaDeviceNotFound, Err: err}
		}

		return &LocalStream{
			audio: &LocalTrack{track: audio, kind: core.TrackAudio, enabled: true},
			video: &LocalTrack{track: video, kind: core.TrackVideo, enabled: true},
		}, nil
	}
}

// RemoteTrack wraps an inbound pion track. Enabled is a local render
// flag; the sender controls the actual media flow.
type RemoteTrack struct {
	remote *webrtc.TrackRemote
	kind   core.TrackKind

	mu      sync.Mutex
	enabled bool
}

func (t *RemoteTrack) Kind() core.TrackKind { return t.kind }

func (t *RemoteTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *RemoteTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *RemoteTrack) Stop() {}

// RTP exposes the underlying pion track for the media pipeline.
func (t *RemoteTrack) RTP() *webrtc.TrackRemote { return t.remote }

// RemoteStream collects the counterpart's tracks as they arrive.
type RemoteStream struct {
	mu    sync.Mutex
	audio *RemoteTrack
	video *RemoteTrack
}

func newRemoteStream() *RemoteStream {
	return &RemoteStream{}
}

// add registers an arrived track and reports whether it was the
// stream's first.
func (s *RemoteStream) add(track *webrtc.TrackRemote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.audio == nil && s.video == nil
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		s.audio = &RemoteTrack{remote: track, kind: core.TrackAudio, enabled: true}
	} else {
		s.video = &RemoteTrack{remote: track, kind: core.TrackVideo, enabled: true}
	}
	return first
}

func (s *RemoteStream) AudioTrack() core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *RemoteStream) VideoTrack() core.MediaTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return nil
	}
	return s.video
}

func (s *RemoteStream) Close() {}
