package domain

import (
	"errors"

	"github.com/google/uuid"
)

type CallID string

// NewCallID mints a process-unique call identifier.
func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type CallKind string

const (
	CallDirect CallKind = "direct"
	CallGroup  CallKind = "group"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (m MediaKind) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

type CallState string

const (
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
	CallEnded   CallState = "ended"
)

type JoinState string

const (
	JoinInvited    JoinState = "invited"
	JoinConnecting JoinState = "connecting"
	JoinJoined     JoinState = "joined"
	JoinLeft       JoinState = "left"
)

var (
	ErrCallNotFound    = errors.New("call not found")
	ErrAlreadyAnswered = errors.New("call already answered")
	ErrNotParticipant  = errors.New("not a call participant")
)

// ParticipantState is the per-user mutable status inside one call session.
// Media flags are client-reported; the server never verifies them.
type ParticipantState struct {
	UserID        UserID    `json:"userId"`
	Name          string    `json:"name,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	Join          JoinState `json:"joinState"`
	AudioMuted    bool      `json:"audioMuted"`
	VideoOff      bool      `json:"videoOff"`
	ScreenSharing bool      `json:"screenSharing"`
}
