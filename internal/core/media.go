package core

import (
	"context"
	"fmt"
)

// TrackKind distinguishes the two capture tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is one capture track. Enable/disable is the only allowed
// mutation outside the owner; a disabled track keeps its device so
// re-enabling is instantaneous.
type MediaTrack interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(on bool)
	Stop()
}

// MediaStream is the local capture stream or a remote peer's stream.
// The session's media manager exclusively owns the local one; every
// other component gets a read-only reference.
type MediaStream interface {
	AudioTrack() MediaTrack
	VideoTrack() MediaTrack
	Close()
}

// MediaErrorKind is the fatal-at-start taxonomy for capture failures.
// Each kind maps to distinct remediation guidance in the caller.
type MediaErrorKind string

const (
	MediaPermissionDenied MediaErrorKind = "permission_denied"
	MediaDeviceNotFound   MediaErrorKind = "device_not_found"
	MediaDeviceBusy       MediaErrorKind = "device_busy"
	MediaInsecureContext  MediaErrorKind = "insecure_context"
)

// MediaError wraps a capture failure with its kind.
type MediaError struct {
	Kind MediaErrorKind
	Err  error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media: %s", e.Kind)
	}
	return fmt.Sprintf("media: %s: %v", e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// CaptureConstraints mirrors the platform capture request.
type CaptureConstraints struct {
	VideoWidth  int
	VideoHeight int
	SampleRate  int
}

// CaptureFunc acquires the local stream. Implementations must check
// for a secure context before touching any device and fail with
// MediaInsecureContext if the check fails.
type CaptureFunc func(ctx context.Context, c CaptureConstraints) (MediaStream, error)
