package core

import (
	"encoding/json"

	"chatpulse/internal/domain"
)

// SignalEnvelope is an opaque offer/answer/candidate payload. The relay
// transports it verbatim between two endpoints and never looks inside.
type SignalEnvelope = json.RawMessage

// Event names, client to relay.
const (
	EvSetup            = "setup"
	EvJoinRoom         = "join-room"
	EvLeaveRoom        = "leave-room"
	EvNewMessage       = "new-message"
	EvTyping           = "typing"
	EvStopTyping       = "stop-typing"
	EvMessageRead      = "message-read"
	EvReactionAdded    = "reaction-added"
	EvMessageDeleted   = "message-deleted"
	EvMessageEdited    = "message-edited"
	EvCallInvite       = "call-invite"
	EvCallAnswer       = "call-answer"
	EvCallReject       = "call-reject"
	EvCallEnd          = "call-end"
	EvICECandidate     = "ice-candidate"
	EvToggleAudio      = "toggle-audio"
	EvToggleVideo      = "toggle-video"
	EvScreenShareStart = "screen-share-start"
	EvScreenShareStop  = "screen-share-stop"
	EvGroupUserAdded   = "group-user-added"
	EvGroupUserRemoved = "group-user-removed"
	EvGroupUpdated     = "group-updated"
	EvPing             = "ping"
)

// Event names, relay to client.
const (
	EvUserOnline         = "user-online"
	EvUserOffline        = "user-offline"
	EvMessageReceived    = "message-received"
	EvMessagesRead       = "messages-read"
	EvReactionUpdate     = "reaction-update"
	EvMessageRemoved     = "message-removed"
	EvMessageUpdated     = "message-updated"
	EvIncomingCall       = "incoming-call"
	EvCallAccepted       = "call-accepted"
	EvCallRejected       = "call-rejected"
	EvCallEnded          = "call-ended"
	EvParticipantLeft    = "participant-left"
	EvUserAudioToggle    = "user-audio-toggle"
	EvUserVideoToggle    = "user-video-toggle"
	EvUserScreenShare    = "user-screen-share"
	EvAddedToGroup       = "added-to-group"
	EvRemovedFromGroup   = "removed-from-group"
	EvGroupMemberAdded   = "group-member-added"
	EvGroupMemberRemoved = "group-member-removed"
	EvGroupInfoUpdated   = "group-info-updated"
	EvPong               = "pong"
	EvError              = "error"
)

// Call payloads are shared between the server adapter and the client
// orchestrator; transient chat payloads stay inline in their handlers.

type CallInvite struct {
	Type    string          `json:"type"`
	Targets []domain.UserID `json:"targets"`
	Signal  SignalEnvelope  `json:"signal"`
	// Signals carries a distinct offer per target for group calls, where
	// every remote gets its own peer connection. Direct calls use Signal.
	Signals      map[domain.UserID]SignalEnvelope `json:"signals,omitempty"`
	From         domain.UserID                    `json:"from"`
	CallerName   string                           `json:"callerName,omitempty"`
	CallerAvatar string                           `json:"callerAvatar,omitempty"`
	Media        domain.MediaKind                 `json:"media"`
	Group        bool                             `json:"group"`
	ChatID       domain.ChatID                    `json:"chatId,omitempty"`
}

type IncomingCall struct {
	Type         string           `json:"type"`
	CallID       domain.CallID    `json:"callId"`
	Signal       SignalEnvelope   `json:"signal"`
	From         domain.UserID    `json:"from"`
	CallerName   string           `json:"callerName,omitempty"`
	CallerAvatar string           `json:"callerAvatar,omitempty"`
	Media        domain.MediaKind `json:"media"`
	Group        bool             `json:"group"`
	ChatID       domain.ChatID    `json:"chatId,omitempty"`
	Targets      []domain.UserID  `json:"targets,omitempty"`
}

type CallAnswer struct {
	Type       string         `json:"type"`
	CallID     domain.CallID  `json:"callId"`
	Signal     SignalEnvelope `json:"signal"`
	UserID     domain.UserID  `json:"userId"`
	UserName   string         `json:"userName,omitempty"`
	UserAvatar string         `json:"userAvatar,omitempty"`
}

type CallAccepted struct {
	Type       string         `json:"type"`
	CallID     domain.CallID  `json:"callId"`
	Signal     SignalEnvelope `json:"signal"`
	UserID     domain.UserID  `json:"userId"`
	UserName   string         `json:"userName,omitempty"`
	UserAvatar string         `json:"userAvatar,omitempty"`
}

type CallReject struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId"`
	Reason string        `json:"reason,omitempty"`
}

type CallRejected struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId"`
	Reason string        `json:"reason,omitempty"`
}

type CallEnd struct {
	Type         string          `json:"type"`
	CallID       domain.CallID   `json:"callId"`
	UserID       domain.UserID   `json:"userId"`
	Participants []domain.UserID `json:"participants"`
}

type CallEnded struct {
	Type    string        `json:"type"`
	CallID  domain.CallID `json:"callId"`
	EndedBy domain.UserID `json:"endedBy"`
	Reason  string        `json:"reason,omitempty"`
}

type ParticipantLeft struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId"`
}

type MediaToggle struct {
	Type         string          `json:"type"`
	CallID       domain.CallID   `json:"callId"`
	UserID       domain.UserID   `json:"userId"`
	Flag         bool            `json:"flag"`
	Participants []domain.UserID `json:"participants"`
}

type UserMediaToggle struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId"`
	Flag   bool          `json:"flag"`
}

type ICECandidate struct {
	Type      string         `json:"type"`
	To        domain.UserID  `json:"to"`
	From      domain.UserID  `json:"from,omitempty"`
	Candidate SignalEnvelope `json:"candidate"`
}

type Presence struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type ErrorNotice struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
