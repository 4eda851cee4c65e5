package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

var ErrInvalidInvite = errors.New("invalid call invite")

// UserPusher is the only delivery surface the coordinator needs.
type UserPusher interface {
	PushUser(uid domain.UserID, v any) int
}

// CallSession is one live call. The coordinator owns it exclusively; the
// participant list is ordered and unique by user id.
type CallSession struct {
	ID           domain.CallID
	Kind         domain.CallKind
	Media        domain.MediaKind
	ChatID       domain.ChatID
	Initiator    domain.UserID
	State        domain.CallState
	Participants []domain.ParticipantState
}

func (s *CallSession) participant(uid domain.UserID) *domain.ParticipantState {
	for i := range s.Participants {
		if s.Participants[i].UserID == uid {
			return &s.Participants[i]
		}
	}
	return nil
}

func (s *CallSession) removeParticipant(uid domain.UserID) {
	for i := range s.Participants {
		if s.Participants[i].UserID == uid {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return
		}
	}
}

// Coordinator mediates call establishment and teardown. It routes opaque
// signal envelopes and tracks membership for fan-out and cleanup; it never
// inspects media payloads and trusts client-reported media state.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[domain.CallID]*CallSession

	Users UserPusher
}

func NewCoordinator(users UserPusher) *Coordinator {
	return &Coordinator{
		sessions: make(map[domain.CallID]*CallSession),
		Users:    users,
	}
}

// Invite creates a Ringing session and forwards the incoming-call event to
// every connection of each target. Malformed invites are rejected here and
// dropped silently by the adapter.
func (c *Coordinator) Invite(inv core.CallInvite) (domain.CallID, error) {
	if inv.From == "" || len(inv.Targets) == 0 || !inv.Media.Valid() {
		return "", ErrInvalidInvite
	}
	kind := domain.CallDirect
	if inv.Group {
		kind = domain.CallGroup
	}
	if kind == domain.CallDirect && len(inv.Targets) != 1 {
		return "", ErrInvalidInvite
	}
	if kind == domain.CallGroup && inv.ChatID == "" {
		return "", ErrInvalidInvite
	}

	sess := &CallSession{
		ID:        domain.NewCallID(),
		Kind:      kind,
		Media:     inv.Media,
		ChatID:    inv.ChatID,
		Initiator: inv.From,
		State:     domain.CallRinging,
		Participants: []domain.ParticipantState{{
			UserID: inv.From,
			Name:   inv.CallerName,
			Avatar: inv.CallerAvatar,
			Join:   domain.JoinJoined,
		}},
	}
	for _, target := range inv.Targets {
		if target == inv.From || sess.participant(target) != nil {
			continue
		}
		sess.Participants = append(sess.Participants, domain.ParticipantState{
			UserID: target,
			Join:   domain.JoinInvited,
		})
	}
	if len(sess.Participants) < 2 {
		return "", ErrInvalidInvite
	}

	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()

	for _, target := range inv.Targets {
		if target == inv.From {
			continue
		}
		ring := core.IncomingCall{
			Type:         core.EvIncomingCall,
			CallID:       sess.ID,
			Signal:       inv.Signal,
			From:         inv.From,
			CallerName:   inv.CallerName,
			CallerAvatar: inv.CallerAvatar,
			Media:        inv.Media,
			Group:        inv.Group,
			ChatID:       inv.ChatID,
		}
		if inv.Group {
			ring.Targets = inv.Targets
		}
		// Full-mesh group calls carry one offer per target.
		if sig, ok := inv.Signals[target]; ok {
			ring.Signal = sig
		}
		c.Users.PushUser(target, ring)
	}
	log.Info().Str("module", "app.calls").Str("call", string(sess.ID)).
		Str("kind", string(kind)).Str("from", string(inv.From)).
		Int("targets", len(inv.Targets)).Msg("call ringing")
	return sess.ID, nil
}

// Answer moves the responder to connecting and forwards the answer envelope
// to the initiator. First responder wins; later answers from the same user
// (another device, a second click) get ErrAlreadyAnswered.
func (c *Coordinator) Answer(ans core.CallAnswer) error {
	c.mu.Lock()
	sess, ok := c.sessions[ans.CallID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrCallNotFound
	}
	p := sess.participant(ans.UserID)
	if p == nil {
		c.mu.Unlock()
		return domain.ErrNotParticipant
	}
	if p.Join != domain.JoinInvited {
		c.mu.Unlock()
		return domain.ErrAlreadyAnswered
	}
	p.Join = domain.JoinConnecting
	p.Name = ans.UserName
	p.Avatar = ans.UserAvatar
	sess.State = domain.CallActive
	initiator := sess.Initiator
	c.mu.Unlock()

	c.Users.PushUser(initiator, core.CallAccepted{
		Type:       core.EvCallAccepted,
		CallID:     ans.CallID,
		Signal:     ans.Signal,
		UserID:     ans.UserID,
		UserName:   ans.UserName,
		UserAvatar: ans.UserAvatar,
	})
	log.Info().Str("module", "app.calls").Str("call", string(ans.CallID)).
		Str("user", string(ans.UserID)).Msg("call answered")
	return nil
}

// Reject declines an invite. A direct session dies with the rejection; a
// group session only loses that one invitee.
func (c *Coordinator) Reject(rej core.CallReject) error {
	c.mu.Lock()
	sess, ok := c.sessions[rej.CallID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrCallNotFound
	}
	initiator := sess.Initiator
	if sess.Kind == domain.CallDirect {
		sess.State = domain.CallEnded
		delete(c.sessions, rej.CallID)
	} else {
		sess.removeParticipant(rej.UserID)
	}
	c.mu.Unlock()

	c.Users.PushUser(initiator, core.CallRejected{
		Type:   core.EvCallRejected,
		CallID: rej.CallID,
		UserID: rej.UserID,
		Reason: rej.Reason,
	})
	log.Info().Str("module", "app.calls").Str("call", string(rej.CallID)).
		Str("user", string(rej.UserID)).Str("reason", rej.Reason).Msg("call rejected")
	return nil
}

// End removes the departing participant and notifies everyone else on the
// caller-supplied participant list. Direct sessions are deleted outright;
// group sessions live until the participant set drains.
func (c *Coordinator) End(end core.CallEnd) error {
	c.mu.Lock()
	sess, ok := c.sessions[end.CallID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrCallNotFound
	}
	direct := sess.Kind == domain.CallDirect
	sess.removeParticipant(end.UserID)
	if direct || len(sess.Participants) == 0 {
		sess.State = domain.CallEnded
		delete(c.sessions, end.CallID)
	}
	c.mu.Unlock()

	for _, pid := range end.Participants {
		if pid == end.UserID {
			continue
		}
		if direct {
			c.Users.PushUser(pid, core.CallEnded{
				Type:    core.EvCallEnded,
				CallID:  end.CallID,
				EndedBy: end.UserID,
			})
		} else {
			c.Users.PushUser(pid, core.ParticipantLeft{
				Type:   core.EvParticipantLeft,
				CallID: end.CallID,
				UserID: end.UserID,
			})
		}
	}
	log.Info().Str("module", "app.calls").Str("call", string(end.CallID)).
		Str("user", string(end.UserID)).Bool("direct", direct).Msg("participant ended call")
	return nil
}

// ToggleAudio fans the self-reported mute state out to the listed
// participants.
func (c *Coordinator) ToggleAudio(t core.MediaToggle) {
	c.updateAndFanOut(t, core.EvUserAudioToggle, func(p *domain.ParticipantState) {
		p.AudioMuted = t.Flag
	})
}

// ToggleVideo fans the self-reported camera state out to the listed
// participants.
func (c *Coordinator) ToggleVideo(t core.MediaToggle) {
	c.updateAndFanOut(t, core.EvUserVideoToggle, func(p *domain.ParticipantState) {
		p.VideoOff = t.Flag
	})
}

// ScreenShare fans the self-reported screen-share state out to the listed
// participants.
func (c *Coordinator) ScreenShare(t core.MediaToggle) {
	c.updateAndFanOut(t, core.EvUserScreenShare, func(p *domain.ParticipantState) {
		p.ScreenSharing = t.Flag
	})
}

func (c *Coordinator) updateAndFanOut(t core.MediaToggle, event string, apply func(*domain.ParticipantState)) {
	c.mu.Lock()
	if sess, ok := c.sessions[t.CallID]; ok {
		if p := sess.participant(t.UserID); p != nil {
			apply(p)
			// A toggle is the only liveness signal the server gets; treat
			// it as proof the media transport came up.
			if p.Join == domain.JoinConnecting {
				p.Join = domain.JoinJoined
			}
		}
	}
	c.mu.Unlock()

	out := core.UserMediaToggle{Type: event, CallID: t.CallID, UserID: t.UserID, Flag: t.Flag}
	for _, pid := range t.Participants {
		if pid == t.UserID {
			continue
		}
		c.Users.PushUser(pid, out)
	}
}

// OnDisconnect scans every live session for the departed user. Linear in
// the number of active calls; fine at this scale.
func (c *Coordinator) OnDisconnect(uid domain.UserID) {
	type notice struct {
		to domain.UserID
		v  any
	}
	var notices []notice

	c.mu.Lock()
	for id, sess := range c.sessions {
		if sess.participant(uid) == nil {
			continue
		}
		if sess.Kind == domain.CallDirect {
			for _, p := range sess.Participants {
				if p.UserID == uid {
					continue
				}
				notices = append(notices, notice{to: p.UserID, v: core.CallEnded{
					Type:    core.EvCallEnded,
					CallID:  id,
					EndedBy: uid,
					Reason:  "disconnected",
				}})
			}
			sess.State = domain.CallEnded
			delete(c.sessions, id)
			continue
		}
		sess.removeParticipant(uid)
		for _, p := range sess.Participants {
			notices = append(notices, notice{to: p.UserID, v: core.ParticipantLeft{
				Type:   core.EvParticipantLeft,
				CallID: id,
				UserID: uid,
			}})
		}
		if len(sess.Participants) == 0 {
			sess.State = domain.CallEnded
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()

	for _, n := range notices {
		c.Users.PushUser(n.to, n.v)
	}
	if len(notices) > 0 {
		log.Info().Str("module", "app.calls").Str("user", string(uid)).
			Int("notices", len(notices)).Msg("cleaned calls after disconnect")
	}
}

// Snapshot returns a copy of one session for inspection.
func (c *Coordinator) Snapshot(id domain.CallID) (CallSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return CallSession{}, false
	}
	out := *sess
	out.Participants = append([]domain.ParticipantState(nil), sess.Participants...)
	return out, true
}

// SessionCount reports how many calls are live.
func (c *Coordinator) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
