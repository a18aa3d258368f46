package transport

import (
	"context"
	"sync"
)

// LoopbackHub is an in-process mesh: every connected endpoint hears every
// other endpoint's frames, in per-sender order. A drop filter can simulate
// radio loss. Used by tests and single-host simulations.
type LoopbackHub struct {
	mu    sync.Mutex
	conns map[string]*Loopback
	drop  func(from, to string, frame []byte) bool
}

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{conns: make(map[string]*Loopback)}
}

// SetDropFilter installs a predicate; returning true discards the frame.
func (h *LoopbackHub) SetDropFilter(f func(from, to string, frame []byte) bool) {
	h.mu.Lock()
	h.drop = f
	h.mu.Unlock()
}

// Endpoint returns (creating if needed) the transport for a device id.
func (h *LoopbackHub) Endpoint(deviceID string) *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[deviceID]; ok {
		return c
	}
	c := &Loopback{
		hub:     h,
		id:      deviceID,
		state:   StateDisconnected,
		deliver: make(chan inboundFrame, 256),
		done:    make(chan struct{}),
	}
	go c.pump()
	h.conns[deviceID] = c
	return c
}

func (h *LoopbackHub) broadcast(from string, frame []byte, hop byte) {
	if hop == 0 {
		return
	}
	h.mu.Lock()
	drop := h.drop
	targets := make([]*Loopback, 0, len(h.conns))
	for id, c := range h.conns {
		if id == from {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	cp := append([]byte(nil), frame...)
	for _, c := range targets {
		if !c.connected() {
			continue
		}
		if drop != nil && drop(from, c.id, cp) {
			continue
		}
		select {
		case c.deliver <- inboundFrame{frame: cp, sender: from}:
		default:
			// Receiver queue full: the radio would have dropped it too.
		}
	}
}

type inboundFrame struct {
	frame  []byte
	sender string
}

// Loopback is one endpoint on a LoopbackHub.
type Loopback struct {
	hub *LoopbackHub
	id  string

	stateM sync.RWMutex
	state  State

	cbs callbacks

	deliver chan inboundFrame
	done    chan struct{}
	once    sync.Once
}

func (l *Loopback) pump() {
	for {
		select {
		case <-l.done:
			return
		case in := <-l.deliver:
			l.cbs.emitFrame(in.frame, in.sender)
		}
	}
}

func (l *Loopback) connected() bool {
	l.stateM.RLock()
	defer l.stateM.RUnlock()
	return l.state == StateConnected
}

func (l *Loopback) Connect(ctx context.Context) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	l.setState(StateConnected)
	return nil
}

// DropLink simulates losing the radio: the endpoint stops hearing and
// sending until Connect is called again.
func (l *Loopback) DropLink() {
	l.setState(StateDisconnected)
}

func (l *Loopback) SendFrame(frame []byte, hopLimit byte) error {
	if !l.connected() {
		return ErrNotConnected
	}
	l.hub.broadcast(l.id, frame, hopLimit)
	return nil
}

func (l *Loopback) OnFrame(cb FrameHandler) int       { return l.cbs.onFrame(cb) }
func (l *Loopback) RemoveFrameHandler(id int)         { l.cbs.removeFrame(id) }
func (l *Loopback) OnStateChange(cb StateHandler) int { return l.cbs.onState(cb) }
func (l *Loopback) RemoveStateHandler(id int)         { l.cbs.removeState(id) }

func (l *Loopback) setState(s State) {
	l.stateM.Lock()
	changed := l.state != s
	l.state = s
	l.stateM.Unlock()
	if changed {
		l.cbs.emitState(s)
	}
}

func (l *Loopback) Close(ctx context.Context) error {
	l.once.Do(func() { close(l.done) })
	l.setState(StateClosed)
	return nil
}

var _ Transport = (*Loopback)(nil)
var _ Transport = (*Bridge)(nil)
