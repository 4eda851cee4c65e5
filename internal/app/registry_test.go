package app

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatpulse/internal/core"
	"chatpulse/internal/domain"
)

// fakeConn records delivered frames; fail makes TrySend simulate a full
// send buffer.
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

func (c *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	require.NotEmpty(t, c.frames)
	var out map[string]any
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &out))
	return out
}

func TestRegistryPresenceTransitions(t *testing.T) {
	reg := NewRegistry()
	uid := domain.UserID("user-b")

	reg.Register("c2", &fakeConn{}, nil)
	reg.Register("c3", &fakeConn{}, nil)

	assert.True(t, reg.Bind("c2", uid), "first connection flips the user online")
	assert.False(t, reg.Bind("c3", uid), "second device must not re-announce")
	assert.True(t, reg.IsOnline(uid))

	gone, offline := reg.Unbind("c2")
	assert.Equal(t, uid, gone)
	assert.False(t, offline, "one connection still live")
	assert.True(t, reg.IsOnline(uid))

	gone, offline = reg.Unbind("c3")
	assert.Equal(t, uid, gone)
	assert.True(t, offline, "last connection gone")
	assert.False(t, reg.IsOnline(uid))

	_, ok := reg.LastSeen(uid)
	assert.True(t, ok)
}

func TestRegistryUnbindBeforeSetup(t *testing.T) {
	reg := NewRegistry()
	reg.Register("c1", &fakeConn{}, nil)

	uid, offline := reg.Unbind("c1")
	assert.Empty(t, uid)
	assert.False(t, offline)
}

func TestRegistryPushUserFansOutToAllDevices(t *testing.T) {
	reg := NewRegistry()
	a1, a2, b1 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Register("a1", a1, nil)
	reg.Register("a2", a2, nil)
	reg.Register("b1", b1, nil)
	reg.Bind("a1", "alice")
	reg.Bind("a2", "alice")
	reg.Bind("b1", "bob")

	sent := reg.PushUser("alice", core.Presence{Type: core.EvUserOnline, UserID: "alice"})

	assert.Equal(t, 2, sent)
	assert.Len(t, a1.frames, 1)
	assert.Len(t, a2.frames, 1)
	assert.Empty(t, b1.frames)
	assert.Equal(t, core.EvUserOnline, a1.lastEvent(t)["type"])
}

func TestRegistryPushUserSkipsBackpressured(t *testing.T) {
	reg := NewRegistry()
	ok, slow := &fakeConn{}, &fakeConn{fail: true}
	reg.Register("ok", ok, nil)
	reg.Register("slow", slow, nil)
	reg.Bind("ok", "alice")
	reg.Bind("slow", "alice")

	sent := reg.PushUser("alice", core.Presence{Type: core.EvUserOnline, UserID: "alice"})

	assert.Equal(t, 1, sent)
	assert.Len(t, ok.frames, 1)
}

func TestRegistryBroadcastExcept(t *testing.T) {
	reg := NewRegistry()
	c1, c2, c3 := &fakeConn{}, &fakeConn{}, &fakeConn{}
	reg.Register("c1", c1, nil)
	reg.Register("c2", c2, nil)
	reg.Register("c3", c3, nil)

	sent := reg.BroadcastExcept("c1", core.Presence{Type: core.EvUserOffline, UserID: "alice"})

	assert.Equal(t, 2, sent)
	assert.Empty(t, c1.frames)
	assert.Len(t, c2.frames, 1)
	assert.Len(t, c3.frames, 1)
}

func TestRegistryCancel(t *testing.T) {
	reg := NewRegistry()
	canceled := false
	conn := &fakeConn{}
	reg.Register("c1", conn, func() { canceled = true })

	assert.True(t, reg.Cancel("c1"))
	assert.True(t, canceled)
	assert.True(t, conn.closed, "transport closed so the read pump unblocks")
	assert.False(t, reg.Cancel("nope"))
}
