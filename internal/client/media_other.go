//go:build !linux || !cgo

package client

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// deviceMedia on non-Linux platforms supports receive-only calls. Capture via
// pion/mediadevices needs platform drivers (V4L2/malgo/X11 on Linux).
type deviceMedia struct{}

func NewDeviceMedia() (MediaProvider, error) {
	return &deviceMedia{}, nil
}

func (m *deviceMedia) NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

func (m *deviceMedia) GetUserMedia(bool) (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrMediaUnavailable)
}

func (m *deviceMedia) GetCamera() (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrMediaUnavailable)
}

func (m *deviceMedia) GetDisplayMedia() (*Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", ErrMediaUnavailable)
}
