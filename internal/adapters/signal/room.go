package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

func (ctl *SignalWSController) handleJoinRoom(
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type   string        `json:"type"`
		RoomID domain.ChatID `json:"roomId"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join-room payload")
		return
	}
	uid, ok := ctl.Orch.Registry.UserOf(cid)
	if !ok {
		log.Warn().Str("module", "signal").Str("conn", string(cid)).Msg("join-room before setup")
		return
	}
	ctl.Orch.Rooms.Join(p.RoomID, cid, conn, uid)
}

func (ctl *SignalWSController) handleLeaveRoom(
	cid core.ConnID,
	_ *WsSignalConn,
	data []byte,
) {
	type leavePayload struct {
		Type   string        `json:"type"`
		RoomID domain.ChatID `json:"roomId"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad leave-room payload")
		return
	}
	ctl.Orch.Rooms.Leave(p.RoomID, cid)
}

// handleNewMessage fans the already-persisted message out to the chat's
// members. The sender is excluded: the create request already returned them
// the authoritative copy.
func (ctl *SignalWSController) handleNewMessage(
	ctx context.Context,
	cid core.ConnID,
	data []byte,
) {
	type messagePayload struct {
		Type    string          `json:"type"`
		ChatID  domain.ChatID   `json:"chatId"`
		Sender  domain.UserID   `json:"senderId"`
		Message json.RawMessage `json:"message"`
	}
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.Sender == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad new-message payload")
		return
	}

	out := struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}{core.EvMessageReceived, p.Message}
	ctl.Orch.RelayMessage(ctx, p.ChatID, p.Sender, out)
}

func (ctl *SignalWSController) handleTyping(
	cid core.ConnID,
	data []byte,
) {
	type typingPayload struct {
		Type     string        `json:"type"`
		ChatID   domain.ChatID `json:"chatId"`
		UserID   domain.UserID `json:"userId"`
		UserName string        `json:"userName"`
	}
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.UserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad typing payload")
		return
	}
	ctl.Orch.StartTyping(p.ChatID, p.UserID, p.UserName)
}

func (ctl *SignalWSController) handleStopTyping(
	cid core.ConnID,
	data []byte,
) {
	type stopPayload struct {
		Type   string        `json:"type"`
		ChatID domain.ChatID `json:"chatId"`
		UserID domain.UserID `json:"userId"`
	}
	var p stopPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.UserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad stop-typing payload")
		return
	}
	ctl.Orch.StopTyping(p.ChatID, p.UserID)
}

func (ctl *SignalWSController) handleMessageRead(
	cid core.ConnID,
	data []byte,
) {
	type readPayload struct {
		Type       string        `json:"type"`
		ChatID     domain.ChatID `json:"chatId"`
		UserID     domain.UserID `json:"userId"`
		MessageIDs []string      `json:"messageIds"`
	}
	var p readPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad message-read payload")
		return
	}
	ctl.Orch.Relay(p.ChatID, struct {
		Type       string        `json:"type"`
		ChatID     domain.ChatID `json:"chatId"`
		UserID     domain.UserID `json:"userId"`
		MessageIDs []string      `json:"messageIds"`
	}{core.EvMessagesRead, p.ChatID, p.UserID, p.MessageIDs}, p.UserID)
}

func (ctl *SignalWSController) handleReactionAdded(
	cid core.ConnID,
	data []byte,
) {
	type reactionPayload struct {
		Type      string          `json:"type"`
		ChatID    domain.ChatID   `json:"chatId"`
		MessageID string          `json:"messageId"`
		Reaction  json.RawMessage `json:"reaction"`
	}
	var p reactionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad reaction payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Relay(p.ChatID, struct {
		Type      string          `json:"type"`
		MessageID string          `json:"messageId"`
		Reaction  json.RawMessage `json:"reaction"`
	}{core.EvReactionUpdate, p.MessageID, p.Reaction}, uid)
}

func (ctl *SignalWSController) handleMessageDeleted(
	cid core.ConnID,
	data []byte,
) {
	type deletePayload struct {
		Type      string        `json:"type"`
		ChatID    domain.ChatID `json:"chatId"`
		MessageID string        `json:"messageId"`
	}
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad message-deleted payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Relay(p.ChatID, struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}{core.EvMessageRemoved, p.MessageID}, uid)
}

func (ctl *SignalWSController) handleMessageEdited(
	cid core.ConnID,
	data []byte,
) {
	type editPayload struct {
		Type    string          `json:"type"`
		ChatID  domain.ChatID   `json:"chatId"`
		Message json.RawMessage `json:"message"`
	}
	var p editPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad message-edited payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Relay(p.ChatID, struct {
		Type    string          `json:"type"`
		Message json.RawMessage `json:"message"`
	}{core.EvMessageUpdated, p.Message}, uid)
}

func (ctl *SignalWSController) handleGroupUserAdded(
	cid core.ConnID,
	data []byte,
) {
	type addedPayload struct {
		Type      string          `json:"type"`
		ChatID    domain.ChatID   `json:"chatId"`
		AddedUser domain.User     `json:"addedUser"`
		AddedBy   json.RawMessage `json:"addedBy"`
	}
	var p addedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.AddedUser.ID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad group-user-added payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Registry.PushUser(p.AddedUser.ID, struct {
		Type   string        `json:"type"`
		ChatID domain.ChatID `json:"chatId"`
	}{core.EvAddedToGroup, p.ChatID})
	ctl.Orch.Relay(p.ChatID, struct {
		Type      string          `json:"type"`
		AddedUser domain.User     `json:"addedUser"`
		AddedBy   json.RawMessage `json:"addedBy"`
	}{core.EvGroupMemberAdded, p.AddedUser, p.AddedBy}, uid)
}

func (ctl *SignalWSController) handleGroupUserRemoved(
	cid core.ConnID,
	data []byte,
) {
	type removedPayload struct {
		Type          string          `json:"type"`
		ChatID        domain.ChatID   `json:"chatId"`
		RemovedUserID domain.UserID   `json:"removedUserId"`
		RemovedBy     json.RawMessage `json:"removedBy"`
	}
	var p removedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" || p.RemovedUserID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad group-user-removed payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Registry.PushUser(p.RemovedUserID, struct {
		Type   string        `json:"type"`
		ChatID domain.ChatID `json:"chatId"`
	}{core.EvRemovedFromGroup, p.ChatID})
	ctl.Orch.Relay(p.ChatID, struct {
		Type          string          `json:"type"`
		RemovedUserID domain.UserID   `json:"removedUserId"`
		RemovedBy     json.RawMessage `json:"removedBy"`
	}{core.EvGroupMemberRemoved, p.RemovedUserID, p.RemovedBy}, uid)
}

func (ctl *SignalWSController) handleGroupUpdated(
	cid core.ConnID,
	data []byte,
) {
	type updatedPayload struct {
		Type    string          `json:"type"`
		ChatID  domain.ChatID   `json:"chatId"`
		Updates json.RawMessage `json:"updates"`
	}
	var p updatedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ChatID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad group-updated payload")
		return
	}
	uid, _ := ctl.Orch.Registry.UserOf(cid)
	ctl.Orch.Relay(p.ChatID, struct {
		Type    string          `json:"type"`
		ChatID  domain.ChatID   `json:"chatId"`
		Updates json.RawMessage `json:"updates"`
	}{core.EvGroupInfoUpdated, p.ChatID, p.Updates}, uid)
}
