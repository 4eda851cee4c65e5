package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

// handleCallInvite creates the call session and rings the targets.
// Malformed invites are dropped with no broadcast; validation is the
// client's burden.
func (ctl *SignalWSController) handleCallInvite(
	cid core.ConnID,
	data []byte,
) {
	var p core.CallInvite
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call-invite payload")
		return
	}
	if _, err := ctl.Orch.Calls.Invite(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("from", string(p.From)).Msg("call invite dropped")
	}
}

// handleCallAnswer forwards the answer to the initiator. A late answer
// (after another device already took the call) gets an explicit notice.
func (ctl *SignalWSController) handleCallAnswer(
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p core.CallAnswer
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call-answer payload")
		return
	}
	if err := ctl.Orch.Calls.Answer(p); err != nil {
		if errors.Is(err, domain.ErrAlreadyAnswered) {
			ctl.sendJSON(conn, core.ErrorNotice{Type: core.EvError, Error: "already handled"})
		}
		log.Warn().Err(err).Str("module", "signal").Str("call", string(p.CallID)).Msg("call answer dropped")
	}
}

func (ctl *SignalWSController) handleCallReject(
	cid core.ConnID,
	data []byte,
) {
	var p core.CallReject
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call-reject payload")
		return
	}
	if err := ctl.Orch.Calls.Reject(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(p.CallID)).Msg("call reject dropped")
	}
}

func (ctl *SignalWSController) handleCallEnd(
	cid core.ConnID,
	data []byte,
) {
	var p core.CallEnd
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call-end payload")
		return
	}
	if err := ctl.Orch.Calls.End(p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("call", string(p.CallID)).Msg("call end dropped")
	}
}

// handleICECandidate is the generic relay-to-user path. The envelope is
// opaque; the relay only reads the recipient.
func (ctl *SignalWSController) handleICECandidate(
	cid core.ConnID,
	data []byte,
) {
	var p core.ICECandidate
	if err := json.Unmarshal(data, &p); err != nil || p.To == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad ice-candidate payload")
		return
	}
	from, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Registry.PushUser(p.To, core.ICECandidate{
		Type:      core.EvICECandidate,
		To:        p.To,
		From:      from,
		Candidate: p.Candidate,
	})
}

func (ctl *SignalWSController) handleToggleAudio(
	cid core.ConnID,
	data []byte,
) {
	var p core.MediaToggle
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle-audio payload")
		return
	}
	ctl.Orch.Calls.ToggleAudio(p)
}

func (ctl *SignalWSController) handleToggleVideo(
	cid core.ConnID,
	data []byte,
) {
	var p core.MediaToggle
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle-video payload")
		return
	}
	ctl.Orch.Calls.ToggleVideo(p)
}

func (ctl *SignalWSController) handleScreenShare(
	cid core.ConnID,
	data []byte,
	sharing bool,
) {
	var p core.MediaToggle
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad screen-share payload")
		return
	}
	p.Flag = sharing
	ctl.Orch.Calls.ScreenShare(p)
}
