package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

// handleSetup binds the connection to an authenticated user identity. The
// collaborator API already authenticated the user; the relay just trusts
// the id it minted.
func (ctl *SignalWSController) handleSetup(
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type setupPayload struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
	}
	var p setupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad setup payload")
		ctl.sendJSON(conn, core.ErrorNotice{Type: core.EvError, Error: "bad_payload"})
		return
	}
	if p.UserID == "" || len(p.UserID) > domain.MaxUserIDLen {
		ctl.sendJSON(conn, core.ErrorNotice{Type: core.EvError, Error: "invalid user id"})
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(cid)).Str("user", string(p.UserID)).Msg("setup")
	ctl.Orch.Setup(cid, p.UserID)
}
