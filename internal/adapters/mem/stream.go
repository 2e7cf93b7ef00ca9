package mem

import (
	"context"
	"sync"

	"github.com/hiredesk/interview/internal/core"
)

// Track is an in-process media track: state only, no frames.
type Track struct {
	kind core.TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *Track) Kind() core.TrackKind { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

func (t *Track) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.enabled = false
	t.mu.Unlock()
}

// Stopped reports whether the track's device was released.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream pairs one audio and one video track.
type Stream struct {
	audio *Track
	video *Track
}

func NewStream() *Stream {
	return &Stream{
		audio: &Track{kind: core.TrackAudio, enabled: true},
		video: &Track{kind: core.TrackVideo, enabled: true},
	}
}

func (s *Stream) AudioTrack() core.MediaTrack { return s.audio }
func (s *Stream) VideoTrack() core.MediaTrack { return s.video }

func (s *Stream) Close() {
	s.audio.Stop()
	s.video.Stop()
}

// Capture returns a CaptureFunc that hands out fresh streams, or the
// given error to exercise the fatal-at-start paths.
func Capture(fail error) core.CaptureFunc {
	return func(ctx context.Context, _ core.CaptureConstraints) (core.MediaStream, error) {
		if fail != nil {
			return nil, fail
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewStream(), nil
	}
}
