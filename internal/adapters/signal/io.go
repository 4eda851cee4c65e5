package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	// Closing here unblocks the read pump, whose deferred cleanup runs the
	// disconnect cascade.
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cid core.ConnID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(cid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn", string(cid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, cid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cid core.ConnID, c *WsSignalConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	if ctl.Limiter != nil && env.Type != core.EvPing {
		if uid, ok := ctl.Orch.Registry.UserOf(cid); ok && !ctl.Limiter.Allow(uid) {
			log.Warn().Str("module", "signal").Str("user", string(uid)).Str("type", env.Type).Msg("rate limited")
			return
		}
	}

	switch env.Type {
	case core.EvSetup:
		ctl.handleSetup(cid, c, data)
	case core.EvJoinRoom:
		ctl.handleJoinRoom(cid, c, data)
	case core.EvLeaveRoom:
		ctl.handleLeaveRoom(cid, c, data)
	case core.EvNewMessage:
		ctl.handleNewMessage(ctx, cid, data)
	case core.EvTyping:
		ctl.handleTyping(cid, data)
	case core.EvStopTyping:
		ctl.handleStopTyping(cid, data)
	case core.EvMessageRead:
		ctl.handleMessageRead(cid, data)
	case core.EvReactionAdded:
		ctl.handleReactionAdded(cid, data)
	case core.EvMessageDeleted:
		ctl.handleMessageDeleted(cid, data)
	case core.EvMessageEdited:
		ctl.handleMessageEdited(cid, data)
	case core.EvGroupUserAdded:
		ctl.handleGroupUserAdded(cid, data)
	case core.EvGroupUserRemoved:
		ctl.handleGroupUserRemoved(cid, data)
	case core.EvGroupUpdated:
		ctl.handleGroupUpdated(cid, data)
	case core.EvCallInvite:
		ctl.handleCallInvite(cid, data)
	case core.EvCallAnswer:
		ctl.handleCallAnswer(cid, c, data)
	case core.EvCallReject:
		ctl.handleCallReject(cid, data)
	case core.EvCallEnd:
		ctl.handleCallEnd(cid, data)
	case core.EvICECandidate:
		ctl.handleICECandidate(cid, data)
	case core.EvToggleAudio:
		ctl.handleToggleAudio(cid, data)
	case core.EvToggleVideo:
		ctl.handleToggleVideo(cid, data)
	case core.EvScreenShareStart:
		ctl.handleScreenShare(cid, data, true)
	case core.EvScreenShareStop:
		ctl.handleScreenShare(cid, data, false)
	case core.EvPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
