package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

type fakeSignaler struct {
	sent []any
}

func (s *fakeSignaler) Send(v any) error {
	s.sent = append(s.sent, v)
	return nil
}

func (s *fakeSignaler) last(t *testing.T) any {
	t.Helper()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

type fakeMedia struct {
	captureErr error
	stopped    bool
}

func (m *fakeMedia) NewAPI() (*webrtc.API, error) { return webrtc.NewAPI(), nil }

func (m *fakeMedia) stream() *Stream {
	return &Stream{stop: func() { m.stopped = true }}
}

func (m *fakeMedia) GetUserMedia(bool) (*Stream, error) {
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	return m.stream(), nil
}

func (m *fakeMedia) GetCamera() (*Stream, error)       { return m.stream(), nil }
func (m *fakeMedia) GetDisplayMedia() (*Stream, error) { return m.stream(), nil }

// blockingMedia stalls capture until release is closed, standing in for a
// device that is slow to open.
type blockingMedia struct {
	fakeMedia
	release chan struct{}
}

func (m *blockingMedia) GetUserMedia(bool) (*Stream, error) {
	<-m.release
	return m.stream(), nil
}

type fakeVideoTrack struct{}

func (fakeVideoTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (fakeVideoTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (fakeVideoTrack) ID() string                            { return "video" }
func (fakeVideoTrack) RID() string                           { return "" }
func (fakeVideoTrack) StreamID() string                      { return "screen" }
func (fakeVideoTrack) Kind() webrtc.RTPCodecType             { return webrtc.RTPCodecTypeVideo }

func newTestManager(media MediaProvider) (*Manager, *fakeSignaler) {
	sig := &fakeSignaler{}
	self := domain.User{ID: "alice", Name: "Alice"}
	return NewManager(self, sig, media, nil), sig
}

// liveCall installs an in-progress call without a signaling round trip.
func liveCall(m *Manager, media *fakeMedia, remotes ...domain.UserID) *activeCall {
	call := m.newCall(context.Background(), "call-1", len(remotes) > 1, "", domain.MediaAudio)
	call.stream = media.stream()
	call.signaled = true
	for _, r := range remotes {
		call.participants[r] = &domain.ParticipantState{UserID: r, Join: domain.JoinJoined}
	}
	m.call = call
	return call
}

func incomingPayload(t *testing.T, inv core.IncomingCall) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(inv)
	require.NoError(t, err)
	return raw
}

func TestStartCallValidation(t *testing.T) {
	media := &fakeMedia{}
	m, _ := newTestManager(media)

	assert.ErrorIs(t, m.StartCall(context.Background(), nil, false, "", false), ErrInvalidTargets)

	liveCall(m, media, "bob")
	err := m.StartCall(context.Background(), []domain.UserID{"carol"}, false, "", false)
	assert.ErrorIs(t, err, ErrCallInProgress)
}

func TestStartCallCaptureFailureLeavesNoState(t *testing.T) {
	media := &fakeMedia{captureErr: ErrMediaUnavailable}
	m, sig := newTestManager(media)

	err := m.StartCall(context.Background(), []domain.UserID{"bob"}, true, "", false)

	assert.ErrorIs(t, err, ErrMediaUnavailable)
	assert.Nil(t, m.call)
	assert.Empty(t, sig.sent, "no invite goes out when capture fails")
}

func TestIncomingCallPendingThenReject(t *testing.T) {
	media := &fakeMedia{}
	m, sig := newTestManager(media)
	var got core.IncomingCall
	m.OnIncoming = func(inv core.IncomingCall) { got = inv }

	inv := core.IncomingCall{Type: core.EvIncomingCall, CallID: "call-9", From: "bob", Media: domain.MediaAudio}
	m.HandleEvent(core.EvIncomingCall, incomingPayload(t, inv))

	assert.Equal(t, domain.CallID("call-9"), got.CallID)
	require.NotNil(t, m.pending)

	require.NoError(t, m.RejectCall("busy"))
	rej := sig.last(t).(core.CallReject)
	assert.Equal(t, domain.CallID("call-9"), rej.CallID)
	assert.Equal(t, "busy", rej.Reason)

	assert.ErrorIs(t, m.RejectCall(""), ErrNoPendingCall)
}

func TestIncomingCallWhileBusyAutoRejects(t *testing.T) {
	media := &fakeMedia{}
	m, sig := newTestManager(media)
	liveCall(m, media, "bob")
	fired := false
	m.OnIncoming = func(core.IncomingCall) { fired = true }

	inv := core.IncomingCall{Type: core.EvIncomingCall, CallID: "call-2", From: "carol", Media: domain.MediaAudio}
	m.HandleEvent(core.EvIncomingCall, incomingPayload(t, inv))

	assert.False(t, fired)
	rej := sig.last(t).(core.CallReject)
	assert.Equal(t, domain.CallID("call-2"), rej.CallID)
	assert.Equal(t, "busy", rej.Reason)
	assert.Nil(t, m.pending)
}

func TestEndCallUnconditionalTeardown(t *testing.T) {
	media := &fakeMedia{}
	m, sig := newTestManager(media)
	liveCall(m, media, "bob")

	require.NoError(t, m.EndCall())

	end := sig.last(t).(core.CallEnd)
	assert.Equal(t, domain.CallID("call-1"), end.CallID)
	assert.Equal(t, []domain.UserID{"bob"}, end.Participants)
	assert.True(t, media.stopped, "local capture released")
	assert.Nil(t, m.call)

	assert.ErrorIs(t, m.EndCall(), ErrNoCall)
}

func TestEndCallCancelsStalledSetup(t *testing.T) {
	media := &blockingMedia{release: make(chan struct{})}
	m, sig := newTestManager(media)

	startErr := make(chan error, 1)
	go func() {
		startErr <- m.StartCall(context.Background(), []domain.UserID{"bob"}, false, "", false)
	}()

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.call != nil
	}, time.Second, 5*time.Millisecond, "setup reserves the call slot before capture")

	endErr := make(chan error, 1)
	go func() { endErr <- m.EndCall() }()
	select {
	case err := <-endErr:
		require.NoError(t, err)
	case <-time.After(750 * time.Millisecond):
		t.Fatal("hangup blocked behind a stalled media capture")
	}

	close(media.release)
	assert.ErrorIs(t, <-startErr, ErrCallAborted)

	assert.Empty(t, sig.sent, "no invite rings targets for an abandoned setup")
	assert.True(t, media.stopped, "late capture released")
	assert.Nil(t, m.call)
}

func TestScreenShareAfterHangupReleasesCapture(t *testing.T) {
	media := &fakeMedia{}
	m, _ := newTestManager(media)
	call := liveCall(m, media, "bob")
	require.NoError(t, m.EndCall())

	released := false
	err := m.swapVideo(call, func() (*Stream, error) {
		return &Stream{Video: fakeVideoTrack{}, stop: func() { released = true }}, nil
	}, true)

	assert.ErrorIs(t, err, ErrNoCall)
	assert.True(t, released, "capture that lost the race to a hangup is closed")
	assert.Nil(t, call.screen)
}

func TestToggleMuteFlipsAndReports(t *testing.T) {
	media := &fakeMedia{}
	m, sig := newTestManager(media)
	liveCall(m, media, "bob")

	require.NoError(t, m.ToggleMute())
	toggle := sig.last(t).(core.MediaToggle)
	assert.Equal(t, core.EvToggleAudio, toggle.Type)
	assert.True(t, toggle.Flag)
	assert.Equal(t, []domain.UserID{"bob"}, toggle.Participants)

	require.NoError(t, m.ToggleMute())
	toggle = sig.last(t).(core.MediaToggle)
	assert.False(t, toggle.Flag)

	m.call = nil
	assert.ErrorIs(t, m.ToggleMute(), ErrNoCall)
}

func TestRemoteEndedTearsDown(t *testing.T) {
	media := &fakeMedia{}
	m, _ := newTestManager(media)
	liveCall(m, media, "bob")
	var endedBy domain.UserID
	m.OnEnded = func(_ domain.CallID, by domain.UserID, _ string) { endedBy = by }

	raw, err := json.Marshal(core.CallEnded{Type: core.EvCallEnded, CallID: "call-1", EndedBy: "bob"})
	require.NoError(t, err)
	m.HandleEvent(core.EvCallEnded, raw)

	assert.Nil(t, m.call)
	assert.True(t, media.stopped)
	assert.Equal(t, domain.UserID("bob"), endedBy)
}

func TestRemoteMediaToggleUpdatesParticipant(t *testing.T) {
	media := &fakeMedia{}
	m, _ := newTestManager(media)
	call := liveCall(m, media, "bob")
	var event string
	m.OnMediaChange = func(_ domain.UserID, ev string, _ bool) { event = ev }

	raw, err := json.Marshal(core.UserMediaToggle{Type: core.EvUserVideoToggle, CallID: "call-1", UserID: "bob", Flag: true})
	require.NoError(t, err)
	m.HandleEvent(core.EvUserVideoToggle, raw)

	assert.True(t, call.participants["bob"].VideoOff)
	assert.Equal(t, core.EvUserVideoToggle, event)
}

func TestParticipantLeftDropsPeerState(t *testing.T) {
	media := &fakeMedia{}
	m, _ := newTestManager(media)
	call := liveCall(m, media, "bob", "carol")
	var left domain.UserID
	m.OnLeft = func(_ domain.CallID, uid domain.UserID) { left = uid }

	raw, err := json.Marshal(core.ParticipantLeft{Type: core.EvParticipantLeft, CallID: "call-1", UserID: "carol"})
	require.NoError(t, err)
	m.HandleEvent(core.EvParticipantLeft, raw)

	assert.NotContains(t, call.participants, domain.UserID("carol"))
	assert.Contains(t, call.participants, domain.UserID("bob"))
	assert.Equal(t, domain.UserID("carol"), left)
}
