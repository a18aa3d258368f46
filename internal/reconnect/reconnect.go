// Package reconnect drives the connection-recovery state machine for a
// device that was in a room when its transport dropped. The manager is
// single-threaded: the session actor is its only caller, and every timer it
// arms fires back through the actor-bound scheduler. It decides WHEN to dial
// and WHEN to rejoin; the session supplies the hooks that actually do it.
package reconnect

import (
	"math"
	"time"

	"go.uber.org/zap"

	"tournamesh/internal/sched"
)

const (
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxAttempts       = 5
	DefaultRejoinTimeout     = 5 * time.Second
)

// State is the recovery lifecycle. Failed is terminal until Restart.
type State string

const (
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateRejoining    State = "REJOINING"
	StateFailed       State = "FAILED"
)

// Reasons reported through the Failed hook.
const (
	ReasonDialExhausted   = "reconnect attempts exhausted"
	ReasonRejoinExhausted = "room rejoin attempts exhausted"
)

// Hooks are the manager's outbound edges, supplied by the session.
type Hooks struct {
	// RequestDial asks the session to start one transport connection
	// attempt. The session reports the outcome via HandleTransportUp or
	// HandleDialFailed.
	RequestDial func()
	// SendRejoin asks the session to re-announce room membership: a Master
	// rebroadcasts presence and tournament state, a Scoreboard re-sends its
	// join request.
	SendRejoin func()
	// Rejoined fires once recovery completes.
	Rejoined func()
	// Failed fires once when recovery gives up.
	Failed func(reason string)
}

// Options carry the protocol tunables. Zero values take the defaults.
type Options struct {
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxAttempts       int
	RejoinTimeout     time.Duration
}

func (o *Options) fill() {
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RejoinTimeout <= 0 {
		o.RejoinTimeout = DefaultRejoinTimeout
	}
}

type Manager struct {
	sched sched.Scheduler
	opts  Options
	hooks Hooks
	log   *zap.Logger

	state         State
	dialAttempt   int
	rejoinAttempt int
	backoffTimer  sched.CancelFunc
	rejoinTimer   sched.CancelFunc
}

func New(s sched.Scheduler, opts Options, hooks Hooks, logger *zap.Logger) *Manager {
	opts.fill()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sched: s,
		opts:  opts,
		hooks: hooks,
		log:   logger,
		state: StateDisconnected,
	}
}

// State returns the current recovery state.
func (m *Manager) State() State { return m.state }

// NoteConnected records that the session is in a room over a live
// transport. Called after the initial join, not only after recovery.
func (m *Manager) NoteConnected() {
	m.stopTimers()
	m.state = StateConnected
	m.dialAttempt = 0
	m.rejoinAttempt = 0
}

// HandleTransportDown starts recovery. The session has already snapshotted
// any in-progress match state by the time this runs.
func (m *Manager) HandleTransportDown() {
	switch m.state {
	case StateFailed, StateReconnecting, StateRejoining:
		return
	}
	m.stopTimers()
	m.state = StateReconnecting
	m.dialAttempt = 1
	m.armBackoff()
}

// HandleDialFailed records one failed connection attempt.
func (m *Manager) HandleDialFailed() {
	if m.state != StateReconnecting {
		return
	}
	if m.dialAttempt >= m.opts.MaxAttempts {
		m.fail(ReasonDialExhausted)
		return
	}
	m.dialAttempt++
	m.armBackoff()
}

// HandleTransportUp moves to the rejoin phase once the transport is back.
func (m *Manager) HandleTransportUp() {
	if m.state != StateReconnecting {
		return
	}
	m.stopTimers()
	m.state = StateRejoining
	m.rejoinAttempt = 1
	m.sendRejoin()
}

// HandleRejoinConfirmed completes recovery. The session restores any
// snapshotted match state and clears the snapshot after this returns.
func (m *Manager) HandleRejoinConfirmed() {
	if m.state != StateRejoining {
		return
	}
	m.stopTimers()
	m.state = StateConnected
	m.dialAttempt = 0
	m.rejoinAttempt = 0
	m.log.Info("reconnect_complete")
	if m.hooks.Rejoined != nil {
		m.hooks.Rejoined()
	}
}

// Restart leaves the terminal Failed state and begins a fresh recovery
// cycle. Explicit caller action only; Failed never retries on its own.
func (m *Manager) Restart() bool {
	if m.state != StateFailed {
		return false
	}
	m.state = StateReconnecting
	m.dialAttempt = 1
	m.rejoinAttempt = 0
	m.armBackoff()
	return true
}

// Stop cancels recovery without a Failed signal. Used when leaving the room.
func (m *Manager) Stop() {
	m.stopTimers()
	m.state = StateDisconnected
	m.dialAttempt = 0
	m.rejoinAttempt = 0
}

// Delay returns the backoff wait before the given 1-based attempt.
func (m *Manager) Delay(attempt int) time.Duration {
	d := float64(m.opts.BackoffBase) * math.Pow(m.opts.BackoffMultiplier, float64(attempt-1))
	return time.Duration(d)
}

func (m *Manager) armBackoff() {
	attempt := m.dialAttempt
	delay := m.Delay(attempt)
	m.log.Info("reconnect_backoff",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", m.opts.MaxAttempts),
		zap.Duration("delay", delay))
	m.backoffTimer = m.sched.Schedule(delay, func() {
		if m.state != StateReconnecting || m.dialAttempt != attempt {
			return
		}
		if m.hooks.RequestDial != nil {
			m.hooks.RequestDial()
		}
	})
}

func (m *Manager) sendRejoin() {
	attempt := m.rejoinAttempt
	m.log.Info("rejoin_attempt",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", m.opts.MaxAttempts))
	if m.hooks.SendRejoin != nil {
		m.hooks.SendRejoin()
	}
	m.rejoinTimer = m.sched.Schedule(m.opts.RejoinTimeout, func() {
		if m.state != StateRejoining || m.rejoinAttempt != attempt {
			return
		}
		m.rejoinExpired()
	})
}

func (m *Manager) rejoinExpired() {
	if m.rejoinAttempt >= m.opts.MaxAttempts {
		m.fail(ReasonRejoinExhausted)
		return
	}
	m.rejoinAttempt++
	m.sendRejoin()
}

func (m *Manager) fail(reason string) {
	m.stopTimers()
	m.state = StateFailed
	m.log.Warn("reconnect_failed", zap.String("reason", reason))
	if m.hooks.Failed != nil {
		m.hooks.Failed(reason)
	}
}

func (m *Manager) stopTimers() {
	if m.backoffTimer != nil {
		m.backoffTimer()
		m.backoffTimer = nil
	}
	if m.rejoinTimer != nil {
		m.rejoinTimer()
		m.rejoinTimer = nil
	}
}
