package domain

// ChatID is the stable identifier of a chat returned by the collaborator API.
// It doubles as the room key for realtime fan-out.
type ChatID string
