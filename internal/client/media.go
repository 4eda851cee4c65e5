package client

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrMediaUnavailable means local capture cannot work here (no drivers on
// this platform, or no devices). Fatal to the call attempt.
var ErrMediaUnavailable = errors.New("media capture unavailable")

// Stream is a set of live local tracks plus their release hook.
type Stream struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
	stop  func()
}

func (s *Stream) Close() {
	if s == nil {
		return
	}
	if s.stop != nil {
		s.stop()
	}
}

// Tracks returns the non-nil tracks for peer attachment.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// MediaProvider owns local capture and the WebRTC API configured for the
// codecs the capture pipeline produces. The device-backed implementation is
// platform specific; tests inject fakes.
type MediaProvider interface {
	// NewAPI builds the webrtc.API all of a call's peers must share.
	NewAPI() (*webrtc.API, error)
	// GetUserMedia captures microphone and, when video is set, camera.
	GetUserMedia(video bool) (*Stream, error)
	// GetCamera captures a fresh camera-only stream, for enabling video
	// mid-call.
	GetCamera() (*Stream, error)
	// GetDisplayMedia captures the screen.
	GetDisplayMedia() (*Stream, error)
}
