package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatpulse/internal/domain"
)

func TestTypingStartStop(t *testing.T) {
	tr := NewTypingTracker(6 * time.Second)

	assert.True(t, tr.Start("chat-1", "alice"), "first start inserts")
	assert.False(t, tr.Start("chat-1", "alice"), "repeat keypress only refreshes")
	assert.True(t, tr.Active("chat-1", "alice"))

	assert.True(t, tr.Stop("chat-1", "alice"))
	assert.False(t, tr.Stop("chat-1", "alice"), "nothing left to remove")
	assert.False(t, tr.Active("chat-1", "alice"))
}

func TestTypingStopAllForUser(t *testing.T) {
	tr := NewTypingTracker(6 * time.Second)
	tr.Start("chat-1", "alice")
	tr.Start("chat-2", "alice")
	tr.Start("chat-1", "bob")

	chats := tr.StopAllForUser("alice")

	assert.ElementsMatch(t, []domain.ChatID{"chat-1", "chat-2"}, chats)
	assert.False(t, tr.Active("chat-1", "alice"))
	assert.False(t, tr.Active("chat-2", "alice"))
	assert.True(t, tr.Active("chat-1", "bob"), "other users untouched")
}

func TestTypingSweepExpiresStaleEntries(t *testing.T) {
	tr := NewTypingTracker(6 * time.Second)
	tr.Start("chat-1", "alice")
	tr.Start("chat-2", "bob")

	assert.Empty(t, tr.Sweep(time.Now()), "fresh entries survive")

	expired := tr.Sweep(time.Now().Add(7 * time.Second))
	assert.Len(t, expired, 2)
	assert.False(t, tr.Active("chat-1", "alice"))
	assert.False(t, tr.Active("chat-2", "bob"))
}
