package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

type roomMember struct {
	conn core.SignalConnection
	user domain.UserID
}

// Rooms tracks which connections are subscribed to which chat's broadcast
// group. Membership is transport-scoped: it dies with the connection.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.ChatID]map[core.ConnID]roomMember
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.ChatID]map[core.ConnID]roomMember)}
}

// Join is idempotent: joining the same room twice is a no-op.
func (r *Rooms) Join(room domain.ChatID, cid core.ConnID, conn core.SignalConnection, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[core.ConnID]roomMember)
		r.rooms[room] = members
	}
	if _, ok := members[cid]; ok {
		return
	}
	members[cid] = roomMember{conn: conn, user: user}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(cid)).Msg("joined room")
}

// Leave is idempotent: leaving twice has no additional effect.
func (r *Rooms) Leave(room domain.ChatID, cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	if _, ok := members[cid]; !ok {
		return
	}
	delete(members, cid)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(cid)).Msg("left room")
}

// LeaveAll drops a dead connection from every room it had joined.
func (r *Rooms) LeaveAll(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room, members := range r.rooms {
		delete(members, cid)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Rooms) MemberCount(room domain.ChatID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Relay delivers a payload at most once to every connection joined to room,
// skipping connections owned by exclude (the sender already holds the
// authoritative copy). No retry, no persistence.
func (r *Rooms) Relay(room domain.ChatID, v any, exclude domain.UserID) core.PublishResult {
	frame, err := encode(v)
	if err != nil {
		return core.PublishResult{}
	}

	r.mu.RLock()
	targets := make(map[core.ConnID]roomMember, len(r.rooms[room]))
	for cid, m := range r.rooms[room] {
		if exclude != "" && m.user == exclude {
			continue
		}
		targets[cid] = m
	}
	r.mu.RUnlock()

	res := core.PublishResult{}
	for cid, m := range targets {
		if err := m.conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "app.rooms").Str("room", string(room)).
		Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("relay result")
	return res
}
