// Package transport carries opaque, already-sealed frames between devices.
// Delivery is best-effort: frames may be dropped, duplicated, or reordered
// across senders. Implementations do not reconnect on their own; the
// reconnection manager owns that policy and calls Connect again.
package transport

import (
	"context"
	"sync"
)

// DefaultHopLimit bounds rebroadcast amplification on a small mesh.
const DefaultHopLimit byte = 3

// State is the link state surfaced to the protocol core.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateClosed       State = "CLOSED"
)

// FrameHandler receives an inbound frame with the sender's stable device id.
type FrameHandler func(frame []byte, senderID string)

// StateHandler observes link state transitions.
type StateHandler func(State)

// Transport is the consumed radio-link surface. SendFrame is fire-and-forget:
// a nil error means the frame was handed to the link, not that it arrived.
type Transport interface {
	Connect(ctx context.Context) error
	SendFrame(frame []byte, hopLimit byte) error
	OnFrame(FrameHandler) int
	RemoveFrameHandler(id int)
	OnStateChange(StateHandler) int
	RemoveStateHandler(id int)
	Close(ctx context.Context) error
}

type frameEntry struct {
	id int
	cb FrameHandler
}

type stateEntry struct {
	id int
	cb StateHandler
}

// callbacks is the id-keyed handler registry shared by implementations.
type callbacks struct {
	mu       sync.RWMutex
	nextID   int
	frameCbs []frameEntry
	stateCbs []stateEntry
}

func (c *callbacks) onFrame(cb FrameHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.frameCbs = append(c.frameCbs, frameEntry{id: c.nextID, cb: cb})
	return c.nextID
}

func (c *callbacks) removeFrame(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.frameCbs {
		if e.id == id {
			c.frameCbs = append(c.frameCbs[:i], c.frameCbs[i+1:]...)
			return
		}
	}
}

func (c *callbacks) onState(cb StateHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextID, cb: cb})
	return c.nextID
}

func (c *callbacks) removeState(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.stateCbs {
		if e.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			return
		}
	}
}

func (c *callbacks) emitFrame(frame []byte, senderID string) {
	c.mu.RLock()
	entries := make([]frameEntry, len(c.frameCbs))
	copy(entries, c.frameCbs)
	c.mu.RUnlock()
	for _, e := range entries {
		if e.cb != nil {
			e.cb(frame, senderID)
		}
	}
}

func (c *callbacks) emitState(s State) {
	c.mu.RLock()
	entries := make([]stateEntry, len(c.stateCbs))
	copy(entries, c.stateCbs)
	c.mu.RUnlock()
	for _, e := range entries {
		if e.cb != nil {
			e.cb(s)
		}
	}
}
