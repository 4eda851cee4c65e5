package orch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/app"
	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

type fakeConn struct {
	frames []core.Frame
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.fail {
		return errors.New("buffer full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func (c *fakeConn) events(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Type)
	}
	return out
}

type fakeDirectory struct {
	members map[domain.ChatID][]domain.UserID
	err     error
}

func (d *fakeDirectory) MembersOfChat(_ context.Context, chat domain.ChatID) ([]domain.UserID, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.members[chat], nil
}

type fixture struct {
	orch  *Orchestrator
	reg   *app.Registry
	rooms *app.Rooms
	dir   *fakeDirectory
}

func newFixture() *fixture {
	reg := app.NewRegistry()
	rooms := app.NewRooms()
	typing := app.NewTypingTracker(6 * time.Second)
	calls := app.NewCoordinator(reg)
	dir := &fakeDirectory{members: make(map[domain.ChatID][]domain.UserID)}
	return &fixture{
		orch:  New(reg, rooms, typing, calls, app.SimplePolicy{}, dir),
		reg:   reg,
		rooms: rooms,
		dir:   dir,
	}
}

func (f *fixture) connect(cid core.ConnID, uid domain.UserID) *fakeConn {
	conn := &fakeConn{}
	f.reg.Register(cid, conn, nil)
	f.orch.Setup(cid, uid)
	return conn
}

func TestSetupAnnouncesOnlineOnce(t *testing.T) {
	f := newFixture()
	bob := f.connect("b1", "bob")

	f.connect("a1", "alice")
	f.connect("a2", "alice")

	assert.Equal(t, []string{core.EvUserOnline}, bob.events(t), "second device is silent")
	assert.True(t, f.reg.IsOnline("alice"))
}

func TestDisconnectCascade(t *testing.T) {
	f := newFixture()
	alice := f.connect("a1", "alice")
	f.connect("b1", "bob")
	bobConn := &fakeConn{}
	f.rooms.Join("chat-1", "a1", alice, "alice")
	f.rooms.Join("chat-1", "b1", bobConn, "bob")
	f.orch.StartTyping("chat-1", "bob", "Bob")

	f.orch.OnDisconnect("b1")

	assert.Equal(t, 1, f.rooms.MemberCount("chat-1"), "dead connection left its rooms")
	events := alice.events(t)
	assert.Contains(t, events, core.EvStopTyping)
	assert.Contains(t, events, core.EvUserOffline)
	assert.False(t, f.reg.IsOnline("bob"))
}

func TestDisconnectSecondDeviceStaysQuiet(t *testing.T) {
	f := newFixture()
	alice := f.connect("a1", "alice")
	f.connect("b1", "bob")
	f.connect("b2", "bob")
	before := len(alice.events(t))

	f.orch.OnDisconnect("b1")

	assert.Len(t, alice.events(t), before, "user still online on another device")
	assert.True(t, f.reg.IsOnline("bob"))
}

func TestBackpressureKickClosesTransport(t *testing.T) {
	f := newFixture()
	alice := f.connect("a1", "alice")
	f.rooms.Join("chat-1", "a1", alice, "alice")

	slow := &fakeConn{fail: true}
	f.reg.Register("s1", slow, nil)
	f.orch.Setup("s1", "sam")
	f.rooms.Join("chat-1", "s1", slow, "sam")

	f.orch.StartTyping("chat-1", "alice", "Alice")

	assert.True(t, slow.closed, "kicked consumer loses its transport, not just its pump context")
}

func TestRelayMessageFansOutToMembersExceptSender(t *testing.T) {
	f := newFixture()
	alice := f.connect("a1", "alice")
	bob := f.connect("b1", "bob")
	carol := f.connect("c1", "carol")
	f.dir.members["chat-1"] = []domain.UserID{"alice", "bob", "carol"}

	msg := map[string]any{"type": core.EvMessageReceived, "message": "hi"}
	f.orch.RelayMessage(context.Background(), "chat-1", "alice", msg)

	assert.NotContains(t, alice.events(t), core.EvMessageReceived)
	assert.Contains(t, bob.events(t), core.EvMessageReceived)
	assert.Contains(t, carol.events(t), core.EvMessageReceived)
}

func TestRelayMessageDropsOnDirectoryError(t *testing.T) {
	f := newFixture()
	bob := f.connect("b1", "bob")
	f.dir.err = errors.New("api down")

	f.orch.RelayMessage(context.Background(), "chat-1", "alice", map[string]any{"type": core.EvMessageReceived})

	assert.NotContains(t, bob.events(t), core.EvMessageReceived)
}

func TestSendingStopsTyping(t *testing.T) {
	f := newFixture()
	alice := f.connect("a1", "alice")
	f.rooms.Join("chat-1", "a1", alice, "alice")
	bob := f.connect("b1", "bob")
	f.rooms.Join("chat-1", "b1", bob, "bob")
	f.dir.members["chat-1"] = []domain.UserID{"alice", "bob"}

	f.orch.StartTyping("chat-1", "bob", "Bob")
	require.Contains(t, alice.events(t), core.EvTyping)

	f.orch.RelayMessage(context.Background(), "chat-1", "bob", map[string]any{"type": core.EvMessageReceived})

	assert.Contains(t, alice.events(t), core.EvStopTyping)
	assert.False(t, f.orch.Typing.Active("chat-1", "bob"))
}
