//go:build linux && cgo

package client

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// deviceMedia captures through pion/mediadevices (V4L2 camera, malgo
// microphone, X11 screen) with VP8+Opus encoders.
type deviceMedia struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceMedia() (MediaProvider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &deviceMedia{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (m *deviceMedia) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	m.selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts: a brief NAT hiccup should not end the call.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func (m *deviceMedia) GetUserMedia(video bool) (*Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{
		Codec: m.selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if video {
		constraints.Video = cameraConstraints
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMediaUnavailable, err)
	}
	return wrapStream(stream), nil
}

func (m *deviceMedia) GetCamera() (*Stream, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: m.selector,
		Video: cameraConstraints,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMediaUnavailable, err)
	}
	return wrapStream(stream), nil
}

func (m *deviceMedia) GetDisplayMedia() (*Stream, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: m.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMediaUnavailable, err)
	}
	return wrapStream(stream), nil
}

// cameraConstraints excludes MJPEG nodes (malformed JPEG frames poison the
// VP8 encoder) and caps resolution to keep encode latency sane.
func cameraConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 1280}
	c.Height = prop.IntRanged{Max: 720}
}

func wrapStream(stream mediadevices.MediaStream) *Stream {
	tracks := stream.GetTracks()
	out := &Stream{
		stop: func() {
			for _, t := range tracks {
				if err := t.Close(); err != nil {
					log.Debug().Err(err).Str("module", "client.media").Msg("track close")
				}
			}
		},
	}
	for _, t := range tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "client.media").Msg("local track ended")
			}
		})
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			out.Audio = t
		case webrtc.RTPCodecTypeVideo:
			out.Video = t
		}
	}
	return out
}
