package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

// PresenceRecord is the per-user presence state. Records are created on
// first setup and kept (as offline) for the life of the process so
// last-seen survives reconnect cycles.
type PresenceRecord struct {
	UserID   domain.UserID
	Online   bool
	LastSeen time.Time
	conns    map[core.ConnID]struct{}
}

func (p *PresenceRecord) ConnCount() int { return len(p.conns) }

type connEntry struct {
	Conn   core.SignalConnection
	User   domain.UserID
	Cancel context.CancelFunc
}

// Registry owns the connection table and per-user presence. A user may
// hold several live connections (devices, tabs); the online flag flips
// only on the first bind and the last unbind.
type Registry struct {
	mu       sync.RWMutex
	conns    map[core.ConnID]*connEntry
	presence map[domain.UserID]*PresenceRecord
}

func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[core.ConnID]*connEntry),
		presence: make(map[domain.UserID]*PresenceRecord),
	}
}

// Register tracks a fresh transport session before it has an identity.
func (r *Registry) Register(cid core.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("registered connection")
}

// Bind associates a connection with a user. Returns true when this is the
// user's first live connection, i.e. the offline→online transition.
func (r *Registry) Bind(cid core.ConnID, uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.User = uid

	rec, ok := r.presence[uid]
	if !ok {
		rec = &PresenceRecord{UserID: uid, conns: make(map[core.ConnID]struct{})}
		r.presence[uid] = rec
	}
	rec.conns[cid] = struct{}{}
	rec.LastSeen = time.Now()
	wentOnline := !rec.Online
	rec.Online = true
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).
		Str("user", string(uid)).Bool("went_online", wentOnline).Msg("bound connection")
	return wentOnline
}

// Unbind drops a connection. Returns the owning user (empty if setup never
// completed) and true when the user's last connection is gone, i.e. the
// online→offline transition.
func (r *Registry) Unbind(cid core.ConnID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return "", false
	}
	delete(r.conns, cid)
	if e.User == "" {
		return "", false
	}

	rec, ok := r.presence[e.User]
	if !ok {
		return e.User, false
	}
	delete(rec.conns, cid)
	if len(rec.conns) > 0 {
		return e.User, false
	}
	rec.Online = false
	rec.LastSeen = time.Now()
	log.Info().Str("module", "app.registry").Str("user", string(e.User)).Msg("user went offline")
	return e.User, true
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.presence[uid]
	return ok && rec.Online
}

func (r *Registry) LastSeen(uid domain.UserID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.presence[uid]
	if !ok {
		return time.Time{}, false
	}
	return rec.LastSeen, true
}

func (r *Registry) UserOf(cid core.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[cid]
	if !ok || e.User == "" {
		return "", false
	}
	return e.User, true
}

func (r *Registry) connsOfUser(uid domain.UserID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.presence[uid]
	if !ok {
		return nil
	}
	out := make([]core.SignalConnection, 0, len(rec.conns))
	for cid := range rec.conns {
		if e, ok := r.conns[cid]; ok {
			out = append(out, e.Conn)
		}
	}
	return out
}

// PushUser fans a payload out to every live connection of one user.
// Delivery is best effort; backpressured connections just miss the event.
func (r *Registry) PushUser(uid domain.UserID, v any) int {
	frame, err := encode(v)
	if err != nil {
		return 0
	}
	sent := 0
	for _, conn := range r.connsOfUser(uid) {
		if err := conn.TrySend(frame); err == nil {
			sent++
		}
	}
	return sent
}

// BroadcastExcept sends a payload to every connection except cid. Used for
// the process-wide presence transitions.
func (r *Registry) BroadcastExcept(cid core.ConnID, v any) int {
	frame, err := encode(v)
	if err != nil {
		return 0
	}
	r.mu.RLock()
	targets := make([]core.SignalConnection, 0, len(r.conns))
	for id, e := range r.conns {
		if id == cid {
			continue
		}
		targets = append(targets, e.Conn)
	}
	r.mu.RUnlock()

	sent := 0
	for _, conn := range targets {
		if err := conn.TrySend(frame); err == nil {
			sent++
		}
	}
	return sent
}

// Cancel aborts the read/write pumps of one connection and closes its
// transport. Canceling the context alone is not enough: the read pump only
// checks it between reads, so a kicked consumer would stay parked in a
// blocking read and its cleanup cascade would never run.
func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	e.Conn.Close()
	log.Info().Str("module", "app.registry").Str("conn", string(cid)).Msg("canceled connection")
	return true
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app").Msg("encode payload")
		return nil, err
	}
	return core.Frame(b), nil
}
