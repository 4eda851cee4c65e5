package app

import "chatpulse/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	KickConnection
)

// Policy decides what to do with a connection whose send buffer is full.
type Policy interface {
	OnBackpressure(cid core.ConnID) BackpressureAction
}

// SimplePolicy kicks slow consumers; a reconnect is cheaper than a relay
// that blocks on one stuck transport.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(core.ConnID) BackpressureAction {
	return KickConnection
}
