package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

var (
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoCall         = errors.New("no call in progress")
	ErrNoPendingCall  = errors.New("no pending incoming call")
	ErrInvalidTargets = errors.New("call needs at least one target")
	ErrCallAborted    = errors.New("call setup aborted")
)

// Signaler delivers events to the relay. *Conn satisfies it; tests inject
// a recorder.
type Signaler interface {
	Send(v any) error
}

// activeCall is the mutable state of the one call this client can be in.
type activeCall struct {
	id     domain.CallID
	group  bool
	chatID domain.ChatID
	media  domain.MediaKind

	ctx    context.Context
	cancel context.CancelFunc

	peers        map[domain.UserID]*Peer
	stream       *Stream
	screen       *Stream
	participants map[domain.UserID]*domain.ParticipantState

	// signaled flips once the invite or answer actually went out; an
	// abandoned setup must not emit call-end for a call nobody heard of.
	signaled bool

	muted    bool
	videoOff bool
	sharing  bool

	closeOnce sync.Once
}

// Manager runs the client side of a call: local capture, one peer
// connection per remote participant, and the signaling exchange that glues
// them together. One call at a time.
//
// Capture and ICE gathering are the slow parts of setup; they run outside
// the manager lock so EndCall can cancel a stalled establishment at any
// point.
type Manager struct {
	Self domain.User

	signaler Signaler
	media    MediaProvider
	iceCfg   webrtc.Configuration

	mu      sync.Mutex
	call    *activeCall
	pending *core.IncomingCall

	// Callbacks fire outside the manager lock, from the signaling
	// goroutine. Nil callbacks are skipped.
	OnIncoming    func(inv core.IncomingCall)
	OnAccepted    func(callID domain.CallID, user domain.UserID)
	OnRejected    func(callID domain.CallID, user domain.UserID, reason string)
	OnEnded       func(callID domain.CallID, endedBy domain.UserID, reason string)
	OnLeft        func(callID domain.CallID, user domain.UserID)
	OnMediaChange func(user domain.UserID, event string, flag bool)
}

func NewManager(self domain.User, signaler Signaler, media MediaProvider, stunServers []string) *Manager {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &Manager{
		Self:     self,
		signaler: signaler,
		media:    media,
		iceCfg:   cfg,
	}
}

// StartCall reserves the call slot, then captures local media and opens one
// peer per target before sending the invite. Any failure or a concurrent
// EndCall rolls everything back; no call state survives an error.
func (m *Manager) StartCall(ctx context.Context, targets []domain.UserID, wantsVideo bool, chatID domain.ChatID, group bool) error {
	if len(targets) == 0 {
		return ErrInvalidTargets
	}
	media := domain.MediaAudio
	if wantsVideo {
		media = domain.MediaVideo
	}

	m.mu.Lock()
	if m.call != nil {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	call := m.newCall(ctx, "", group, chatID, media)
	m.call = call
	m.mu.Unlock()

	inv, err := m.buildInvite(call, targets, wantsVideo)
	if err != nil {
		m.abort(call)
		return err
	}

	m.mu.Lock()
	if m.call != call {
		m.mu.Unlock()
		return ErrCallAborted
	}
	call.signaled = true
	m.mu.Unlock()

	if err := m.signaler.Send(inv); err != nil {
		m.abort(call)
		return err
	}
	log.Info().Str("module", "client.call").Int("targets", len(targets)).
		Bool("group", group).Str("media", string(media)).Msg("call started")
	return nil
}

// buildInvite does the blocking half of StartCall: capture, one peer and
// offer per target. Runs without the manager lock; each intermediate result
// is committed through adopt so a concurrent hangup wins.
func (m *Manager) buildInvite(call *activeCall, targets []domain.UserID, wantsVideo bool) (core.CallInvite, error) {
	inv := core.CallInvite{
		Type:         core.EvCallInvite,
		Targets:      targets,
		From:         m.Self.ID,
		CallerName:   m.Self.Name,
		CallerAvatar: m.Self.Avatar,
		Media:        call.media,
		Group:        call.group,
		ChatID:       call.chatID,
	}
	if call.group {
		inv.Signals = make(map[domain.UserID]core.SignalEnvelope, len(targets))
	}

	stream, err := m.media.GetUserMedia(wantsVideo)
	if err != nil {
		return core.CallInvite{}, err
	}
	if err := m.adopt(call, func(c *activeCall) { c.stream = stream }); err != nil {
		stream.Close()
		return core.CallInvite{}, err
	}

	api, err := m.media.NewAPI()
	if err != nil {
		return core.CallInvite{}, err
	}
	for _, target := range targets {
		offer, err := m.openPeer(call, api, target, func(p *Peer) (*webrtc.SessionDescription, error) {
			return p.CreateOfferAndGather(call.ctx)
		})
		if err != nil {
			return core.CallInvite{}, err
		}
		raw, err := json.Marshal(offer)
		if err != nil {
			return core.CallInvite{}, err
		}
		if call.group {
			inv.Signals[target] = raw
		} else {
			inv.Signal = raw
		}
		err = m.adopt(call, func(c *activeCall) {
			c.participants[target] = &domain.ParticipantState{UserID: target, Join: domain.JoinInvited}
		})
		if err != nil {
			return core.CallInvite{}, err
		}
	}
	return inv, nil
}

// AnswerCall accepts the pending incoming call: capture, one peer back to
// the caller, answer in the CallAnswer signal. Like StartCall, the blocking
// work runs outside the lock and a concurrent EndCall aborts it.
func (m *Manager) AnswerCall(ctx context.Context) error {
	m.mu.Lock()
	if m.call != nil {
		m.mu.Unlock()
		return ErrCallInProgress
	}
	inv := m.pending
	if inv == nil {
		m.mu.Unlock()
		return ErrNoPendingCall
	}
	m.pending = nil
	call := m.newCall(ctx, inv.CallID, inv.Group, inv.ChatID, inv.Media)
	m.call = call
	m.mu.Unlock()

	ans, err := m.buildAnswer(call, inv)
	if err != nil {
		m.abort(call)
		// Local setup failure keeps the invite pending so the user can
		// retry; an abort means the user already hung up on it.
		if !errors.Is(err, ErrCallAborted) {
			m.mu.Lock()
			if m.call == nil && m.pending == nil {
				m.pending = inv
			}
			m.mu.Unlock()
		}
		return err
	}

	m.mu.Lock()
	if m.call != call {
		m.mu.Unlock()
		return ErrCallAborted
	}
	call.signaled = true
	m.mu.Unlock()

	if err := m.signaler.Send(ans); err != nil {
		m.abort(call)
		return err
	}
	log.Info().Str("module", "client.call").Str("call", string(inv.CallID)).Msg("call answered")
	return nil
}

func (m *Manager) buildAnswer(call *activeCall, inv *core.IncomingCall) (core.CallAnswer, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(inv.Signal, &offer); err != nil {
		return core.CallAnswer{}, err
	}

	stream, err := m.media.GetUserMedia(inv.Media == domain.MediaVideo)
	if err != nil {
		return core.CallAnswer{}, err
	}
	if err := m.adopt(call, func(c *activeCall) { c.stream = stream }); err != nil {
		stream.Close()
		return core.CallAnswer{}, err
	}

	api, err := m.media.NewAPI()
	if err != nil {
		return core.CallAnswer{}, err
	}
	answer, err := m.openPeer(call, api, inv.From, func(p *Peer) (*webrtc.SessionDescription, error) {
		return p.ApplyOfferAndCreateAnswer(call.ctx, offer)
	})
	if err != nil {
		return core.CallAnswer{}, err
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return core.CallAnswer{}, err
	}
	err = m.adopt(call, func(c *activeCall) {
		c.participants[inv.From] = &domain.ParticipantState{
			UserID: inv.From,
			Name:   inv.CallerName,
			Avatar: inv.CallerAvatar,
			Join:   domain.JoinJoined,
		}
	})
	if err != nil {
		return core.CallAnswer{}, err
	}

	return core.CallAnswer{
		Type:       core.EvCallAnswer,
		CallID:     inv.CallID,
		Signal:     raw,
		UserID:     m.Self.ID,
		UserName:   m.Self.Name,
		UserAvatar: m.Self.Avatar,
	}, nil
}

// RejectCall declines the pending incoming call.
func (m *Manager) RejectCall(reason string) error {
	m.mu.Lock()
	inv := m.pending
	m.pending = nil
	m.mu.Unlock()
	if inv == nil {
		return ErrNoPendingCall
	}
	return m.signaler.Send(core.CallReject{
		Type:   core.EvCallReject,
		CallID: inv.CallID,
		UserID: m.Self.ID,
		Reason: reason,
	})
}

// EndCall hangs up. Teardown is unconditional and immediate: it cancels a
// setup still stalled in capture or ICE gathering, and it runs even when
// the end signal cannot be delivered.
func (m *Manager) EndCall() error {
	m.mu.Lock()
	call := m.call
	m.call = nil
	var end core.CallEnd
	signaled := false
	if call != nil {
		signaled = call.signaled
		end = core.CallEnd{
			Type:         core.EvCallEnd,
			CallID:       call.id,
			UserID:       m.Self.ID,
			Participants: call.participantIDs(m.Self.ID),
		}
	}
	m.mu.Unlock()
	if call == nil {
		return ErrNoCall
	}

	call.teardown()
	if !signaled {
		log.Info().Str("module", "client.call").Msg("call setup canceled")
		return nil
	}
	if err := m.signaler.Send(end); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Msg("end signal not delivered")
		return err
	}
	log.Info().Str("module", "client.call").Str("call", string(call.id)).Msg("call ended")
	return nil
}

// ToggleMute flips the local mute flag and reports it. The audio track keeps
// flowing; remotes render the flag.
func (m *Manager) ToggleMute() error {
	m.mu.Lock()
	call := m.call
	if call == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	call.muted = !call.muted
	t := m.toggleEvent(call, core.EvToggleAudio, call.muted)
	m.mu.Unlock()
	return m.signaler.Send(t)
}

// ToggleVideo flips the camera flag. Turning video on with no live video
// track acquires a fresh camera and swaps it onto every peer.
func (m *Manager) ToggleVideo() error {
	m.mu.Lock()
	call := m.call
	if call == nil {
		m.mu.Unlock()
		return ErrNoCall
	}
	call.videoOff = !call.videoOff
	needsCamera := !call.videoOff && call.stream.Video == nil && !call.sharing
	t := m.toggleEvent(call, core.EvToggleVideo, call.videoOff)
	m.mu.Unlock()

	if needsCamera {
		if err := m.swapVideo(call, func() (*Stream, error) { return m.media.GetCamera() }, false); err != nil {
			return err
		}
	}
	return m.signaler.Send(t)
}

// StartScreenShare captures the display and replaces the outgoing video
// track on every peer.
func (m *Manager) StartScreenShare() error {
	m.mu.Lock()
	call := m.call
	if call == nil || call.sharing {
		m.mu.Unlock()
		if call == nil {
			return ErrNoCall
		}
		return nil
	}
	call.sharing = true
	t := m.toggleEvent(call, core.EvScreenShareStart, true)
	m.mu.Unlock()

	if err := m.swapVideo(call, func() (*Stream, error) { return m.media.GetDisplayMedia() }, true); err != nil {
		m.mu.Lock()
		call.sharing = false
		m.mu.Unlock()
		return err
	}
	return m.signaler.Send(t)
}

// StopScreenShare releases the display capture and restores the camera when
// video was on before sharing.
func (m *Manager) StopScreenShare() error {
	m.mu.Lock()
	call := m.call
	if call == nil || !call.sharing {
		m.mu.Unlock()
		if call == nil {
			return ErrNoCall
		}
		return nil
	}
	call.sharing = false
	restoreCamera := !call.videoOff
	screen := call.screen
	call.screen = nil
	t := m.toggleEvent(call, core.EvScreenShareStop, false)
	m.mu.Unlock()

	screen.Close()
	if restoreCamera {
		if err := m.swapVideo(call, func() (*Stream, error) { return m.media.GetCamera() }, false); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Msg("camera restore failed")
		}
	}
	return m.signaler.Send(t)
}

// HandleEvent is the Conn handler for call-related relay events. Unknown
// events are ignored so the embedder can layer its own handler on top.
func (m *Manager) HandleEvent(event string, data json.RawMessage) {
	switch event {
	case core.EvIncomingCall:
		var inv core.IncomingCall
		if json.Unmarshal(data, &inv) != nil {
			return
		}
		m.mu.Lock()
		busy := m.call != nil || m.pending != nil
		if !busy {
			m.pending = &inv
		}
		m.mu.Unlock()
		if busy {
			m.signaler.Send(core.CallReject{
				Type:   core.EvCallReject,
				CallID: inv.CallID,
				UserID: m.Self.ID,
				Reason: "busy",
			})
			return
		}
		if m.OnIncoming != nil {
			m.OnIncoming(inv)
		}

	case core.EvCallAccepted:
		var acc core.CallAccepted
		if json.Unmarshal(data, &acc) != nil {
			return
		}
		m.handleAccepted(acc)

	case core.EvCallRejected:
		var rej core.CallRejected
		if json.Unmarshal(data, &rej) != nil {
			return
		}
		m.handleRejected(rej)

	case core.EvCallEnded:
		var end core.CallEnded
		if json.Unmarshal(data, &end) != nil {
			return
		}
		m.handleEnded(end)

	case core.EvParticipantLeft:
		var left core.ParticipantLeft
		if json.Unmarshal(data, &left) != nil {
			return
		}
		m.handleParticipantLeft(left)

	case core.EvICECandidate:
		var ice core.ICECandidate
		if json.Unmarshal(data, &ice) != nil {
			return
		}
		m.handleRemoteCandidate(ice)

	case core.EvUserAudioToggle, core.EvUserVideoToggle, core.EvUserScreenShare:
		var t core.UserMediaToggle
		if json.Unmarshal(data, &t) != nil {
			return
		}
		m.handleMediaToggle(event, t)
	}
}

func (m *Manager) handleAccepted(acc core.CallAccepted) {
	m.mu.Lock()
	call := m.call
	if call == nil {
		m.mu.Unlock()
		return
	}
	if call.id == "" {
		// The relay assigns the id; the first accept carries it back.
		call.id = acc.CallID
	}
	peer := call.peers[acc.UserID]
	if p := call.participants[acc.UserID]; p != nil {
		p.Join = domain.JoinJoined
		p.Name = acc.UserName
		p.Avatar = acc.UserAvatar
	}
	m.mu.Unlock()
	if peer == nil {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(acc.Signal, &answer); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Msg("bad answer signal")
		return
	}
	if err := peer.ApplyAnswer(answer); err != nil {
		log.Warn().Err(err).Str("module", "client.call").
			Str("user", string(acc.UserID)).Msg("apply answer failed")
		return
	}
	if m.OnAccepted != nil {
		m.OnAccepted(acc.CallID, acc.UserID)
	}
}

func (m *Manager) handleRejected(rej core.CallRejected) {
	m.mu.Lock()
	call := m.call
	var endCall bool
	if call != nil {
		if call.id == "" {
			call.id = rej.CallID
		}
		if !call.group {
			endCall = true
			m.call = nil
		} else if peer := call.peers[rej.UserID]; peer != nil {
			delete(call.peers, rej.UserID)
			delete(call.participants, rej.UserID)
			defer peer.Close()
		}
	}
	m.mu.Unlock()
	if endCall {
		call.teardown()
	}
	if m.OnRejected != nil {
		m.OnRejected(rej.CallID, rej.UserID, rej.Reason)
	}
}

func (m *Manager) handleEnded(end core.CallEnded) {
	m.mu.Lock()
	call := m.call
	m.call = nil
	if m.pending != nil && m.pending.CallID == end.CallID {
		m.pending = nil
	}
	m.mu.Unlock()
	if call != nil {
		call.teardown()
	}
	if m.OnEnded != nil {
		m.OnEnded(end.CallID, end.EndedBy, end.Reason)
	}
}

func (m *Manager) handleParticipantLeft(left core.ParticipantLeft) {
	m.mu.Lock()
	call := m.call
	var peer *Peer
	if call != nil {
		peer = call.peers[left.UserID]
		delete(call.peers, left.UserID)
		delete(call.participants, left.UserID)
	}
	m.mu.Unlock()
	if peer != nil {
		peer.Close()
	}
	if m.OnLeft != nil {
		m.OnLeft(left.CallID, left.UserID)
	}
}

func (m *Manager) handleRemoteCandidate(ice core.ICECandidate) {
	m.mu.Lock()
	var peer *Peer
	if m.call != nil {
		peer = m.call.peers[ice.From]
	}
	m.mu.Unlock()
	if peer == nil {
		return
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(ice.Candidate, &ci); err != nil {
		return
	}
	if err := peer.AddICECandidate(ci); err != nil {
		log.Debug().Err(err).Str("module", "client.call").
			Str("from", string(ice.From)).Msg("candidate rejected")
	}
}

func (m *Manager) handleMediaToggle(event string, t core.UserMediaToggle) {
	m.mu.Lock()
	if m.call != nil {
		if p := m.call.participants[t.UserID]; p != nil {
			switch event {
			case core.EvUserAudioToggle:
				p.AudioMuted = t.Flag
			case core.EvUserVideoToggle:
				p.VideoOff = t.Flag
			case core.EvUserScreenShare:
				p.ScreenSharing = t.Flag
			}
		}
	}
	m.mu.Unlock()
	if m.OnMediaChange != nil {
		m.OnMediaChange(t.UserID, event, t.Flag)
	}
}

func (m *Manager) newCall(parent context.Context, id domain.CallID, group bool, chatID domain.ChatID, media domain.MediaKind) *activeCall {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &activeCall{
		id:           id,
		group:        group,
		chatID:       chatID,
		media:        media,
		ctx:          ctx,
		cancel:       cancel,
		peers:        make(map[domain.UserID]*Peer),
		participants: make(map[domain.UserID]*domain.ParticipantState),
	}
}

// adopt applies a setup mutation only while the call is still the active
// one. A concurrent hangup wins; the setup path then unwinds its own
// uncommitted resources.
func (m *Manager) adopt(call *activeCall, apply func(*activeCall)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call != call {
		return ErrCallAborted
	}
	apply(call)
	return nil
}

// abort clears the slot if this call still owns it and tears it down.
func (m *Manager) abort(call *activeCall) {
	m.mu.Lock()
	if m.call == call {
		m.call = nil
	}
	m.mu.Unlock()
	call.teardown()
}

// openPeer builds one peer, wires ICE trickle out through the signaler,
// attaches local tracks and runs the supplied negotiate step. The peer is
// only committed to the call once negotiation succeeds.
func (m *Manager) openPeer(call *activeCall, api *webrtc.API, remote domain.UserID,
	negotiate func(*Peer) (*webrtc.SessionDescription, error)) (*webrtc.SessionDescription, error) {

	peer, err := newPeer(api, m.iceCfg, remote)
	if err != nil {
		return nil, err
	}
	peer.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		raw, err := json.Marshal(ci)
		if err != nil {
			return
		}
		m.signaler.Send(core.ICECandidate{
			Type:      core.EvICECandidate,
			To:        remote,
			Candidate: raw,
		})
	})
	if err := peer.Start(call.ctx); err != nil {
		peer.Close()
		return nil, err
	}
	for _, track := range call.stream.Tracks() {
		if err := peer.AddTrack(track); err != nil {
			peer.Close()
			return nil, err
		}
	}
	desc, err := negotiate(peer)
	if err != nil {
		peer.Close()
		return nil, err
	}
	if err := m.adopt(call, func(c *activeCall) { c.peers[remote] = peer }); err != nil {
		peer.Close()
		return nil, err
	}
	return desc, nil
}

// swapVideo captures a new video source and replaces the outgoing track on
// every peer. The capture runs without the lock, so the call is re-checked
// before committing: a hangup that won the race gets the stream released,
// not leaked.
func (m *Manager) swapVideo(call *activeCall, capture func() (*Stream, error), asScreen bool) error {
	stream, err := capture()
	if err != nil {
		return err
	}
	if stream.Video == nil {
		stream.Close()
		return ErrMediaUnavailable
	}

	m.mu.Lock()
	if m.call != call {
		m.mu.Unlock()
		stream.Close()
		return ErrNoCall
	}
	peers := make([]*Peer, 0, len(call.peers))
	for _, p := range call.peers {
		peers = append(peers, p)
	}
	if asScreen {
		call.screen = stream
	} else {
		call.stream.Video = stream.Video
	}
	m.mu.Unlock()

	for _, p := range peers {
		if err := p.ReplaceVideoTrack(stream.Video); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Msg("video swap failed on peer")
		}
	}
	return nil
}

func (m *Manager) toggleEvent(call *activeCall, event string, flag bool) core.MediaToggle {
	return core.MediaToggle{
		Type:         event,
		CallID:       call.id,
		UserID:       m.Self.ID,
		Flag:         flag,
		Participants: call.participantIDs(m.Self.ID),
	}
}

func (c *activeCall) participantIDs(exclude domain.UserID) []domain.UserID {
	out := make([]domain.UserID, 0, len(c.participants))
	for id := range c.participants {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// teardown releases everything the call holds. Idempotent and safe to call
// with peers in any negotiation state; canceling the call context unblocks
// a setup still waiting on ICE gathering.
func (c *activeCall) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, p := range c.peers {
			p.Close()
		}
		c.stream.Close()
		c.screen.Close()
	})
}
