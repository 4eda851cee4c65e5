package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"chatpulse/internal/domain"
)

type typingKey struct {
	Chat domain.ChatID
	User domain.UserID
}

// TypingTracker holds transient "is typing" entries keyed by (chat, user).
// Entries are cleared by an explicit stop, by a send, by disconnect of the
// owning user, or by the TTL sweep when a client vanishes without saying so.
type TypingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]time.Time
	ttl     time.Duration

	// OnExpire fires from the sweep loop for entries whose client went
	// quiet without an explicit stop.
	OnExpire func(chat domain.ChatID, user domain.UserID)
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		entries: make(map[typingKey]time.Time),
		ttl:     ttl,
	}
}

// Start inserts or refreshes the entry. Returns true on first insert so the
// caller can skip redundant typing broadcasts for key repeats.
func (t *TypingTracker) Start(chat domain.ChatID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{Chat: chat, User: user}
	_, exists := t.entries[key]
	t.entries[key] = time.Now()
	return !exists
}

// Stop removes the entry. Returns false when there was nothing to remove.
func (t *TypingTracker) Stop(chat domain.ChatID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := typingKey{Chat: chat, User: user}
	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// StopAllForUser clears every entry a departed user owned and returns the
// chats that need a stop-typing broadcast. No entry survives a dead
// connection.
func (t *TypingTracker) StopAllForUser(user domain.UserID) []domain.ChatID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var chats []domain.ChatID
	for key := range t.entries {
		if key.User == user {
			chats = append(chats, key.Chat)
			delete(t.entries, key)
		}
	}
	return chats
}

func (t *TypingTracker) Active(chat domain.ChatID, user domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{Chat: chat, User: user}]
	return ok
}

// Sweep removes entries older than the TTL and reports them.
func (t *TypingTracker) Sweep(now time.Time) []typingKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []typingKey
	for key, last := range t.entries {
		if now.Sub(last) > t.ttl {
			expired = append(expired, key)
			delete(t.entries, key)
		}
	}
	return expired
}

// Run drives the periodic sweep until ctx is done. Client debounce is the
// first line of defense; this catches backgrounded tabs that never send an
// explicit stop.
func (t *TypingTracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, key := range t.Sweep(now) {
				log.Debug().Str("module", "app.typing").Str("chat", string(key.Chat)).
					Str("user", string(key.User)).Msg("typing entry expired")
				if t.OnExpire != nil {
					t.OnExpire(key.Chat, key.User)
				}
			}
		}
	}
}
