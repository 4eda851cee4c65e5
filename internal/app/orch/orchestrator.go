// Package orch wires the coordination state holders together and owns the
// event reactions that span more than one of them.
package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/app"
	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

// ChatDirectory is the slice of the collaborator API the relay needs:
// resolving a chat id to its member user ids before a message fan-out.
type ChatDirectory interface {
	MembersOfChat(ctx context.Context, chatID domain.ChatID) ([]domain.UserID, error)
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.Rooms
	Typing   *app.TypingTracker
	Calls    *app.Coordinator
	Policy   app.Policy
	Chats    ChatDirectory
}

// New wires the orchestrator and hooks the typing sweep so expired entries
// still produce a stop-typing broadcast.
func New(reg *app.Registry, rooms *app.Rooms, typing *app.TypingTracker, calls *app.Coordinator, policy app.Policy, chats ChatDirectory) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Typing:   typing,
		Calls:    calls,
		Policy:   policy,
		Chats:    chats,
	}
	typing.OnExpire = func(chat domain.ChatID, user domain.UserID) {
		o.relayStopTyping(chat, user)
	}
	return o
}

// Setup binds a connection to its user and announces the offline→online
// transition exactly once, no matter how many devices the user holds.
func (o *Orchestrator) Setup(cid core.ConnID, uid domain.UserID) {
	if o.Registry.Bind(cid, uid) {
		o.Registry.BroadcastExcept(cid, core.Presence{Type: core.EvUserOnline, UserID: uid})
	}
}

// OnDisconnect runs the full cleanup cascade for a dead transport: room
// membership, typing entries, live calls, presence. Best effort throughout;
// a failed broadcast is just a missed event.
func (o *Orchestrator) OnDisconnect(cid core.ConnID) {
	o.Rooms.LeaveAll(cid)
	uid, wentOffline := o.Registry.Unbind(cid)
	if uid == "" || !wentOffline {
		return
	}
	for _, chat := range o.Typing.StopAllForUser(uid) {
		o.relayStopTyping(chat, uid)
	}
	o.Calls.OnDisconnect(uid)
	o.Registry.BroadcastExcept(cid, core.Presence{Type: core.EvUserOffline, UserID: uid})
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Msg("disconnect cleanup done")
}

// Relay fans a payload out over one room and applies the backpressure
// policy to connections whose buffers were full.
func (o *Orchestrator) Relay(room domain.ChatID, v any, exclude domain.UserID) core.PublishResult {
	res := o.Rooms.Relay(room, v, exclude)
	if o.Policy == nil {
		return res
	}
	for _, slow := range res.Dropped {
		if o.Policy.OnBackpressure(slow) == app.KickConnection {
			o.Registry.Cancel(slow)
		}
	}
	return res
}

// RelayMessage resolves the chat's member list through the collaborator API
// and pushes the message to every member except the sender. The sender got
// the authoritative copy from the request that created the message; a
// disconnected member catches up via history fetch, not here.
func (o *Orchestrator) RelayMessage(ctx context.Context, chat domain.ChatID, sender domain.UserID, message any) {
	// Sending implies the sender stopped typing.
	if o.Typing.Stop(chat, sender) {
		o.relayStopTyping(chat, sender)
	}

	members, err := o.Chats.MembersOfChat(ctx, chat)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("chat", string(chat)).Msg("member lookup failed, message dropped")
		return
	}
	for _, uid := range members {
		if uid == sender {
			continue
		}
		o.Registry.PushUser(uid, message)
	}
}

// StartTyping records the entry and tells the rest of the room.
func (o *Orchestrator) StartTyping(chat domain.ChatID, uid domain.UserID, name string) {
	o.Typing.Start(chat, uid)
	o.Relay(chat, struct {
		Type     string        `json:"type"`
		ChatID   domain.ChatID `json:"chatId"`
		UserID   domain.UserID `json:"userId"`
		UserName string        `json:"userName,omitempty"`
	}{core.EvTyping, chat, uid, name}, uid)
}

// StopTyping clears the entry and tells the rest of the room.
func (o *Orchestrator) StopTyping(chat domain.ChatID, uid domain.UserID) {
	o.Typing.Stop(chat, uid)
	o.relayStopTyping(chat, uid)
}

func (o *Orchestrator) relayStopTyping(chat domain.ChatID, uid domain.UserID) {
	o.Relay(chat, struct {
		Type   string        `json:"type"`
		ChatID domain.ChatID `json:"chatId"`
		UserID domain.UserID `json:"userId"`
	}{core.EvStopTyping, chat, uid}, uid)
}
