package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Nothing fires until Advance
// moves the fake clock past a deadline; callbacks run on the caller's
// goroutine in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	nextID  int
	pending []*manualEntry
}

type manualEntry struct {
	id       int
	deadline time.Time
	fn       func()
	done     bool
}

func NewManual() *Manual {
	return &Manual{now: time.Unix(0, 0)}
}

func (m *Manual) Schedule(d time.Duration, fn func()) CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e := &manualEntry{id: m.nextID, deadline: m.now.Add(d), fn: fn}
	m.pending = append(m.pending, e)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e.done {
			return false
		}
		e.done = true
		return true
	}
}

// Now returns the fake clock reading.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward and fires every due, uncancelled callback.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	due := make([]*manualEntry, 0)
	rest := m.pending[:0]
	for _, e := range m.pending {
		if !e.done && !e.deadline.After(m.now) {
			e.done = true
			due = append(due, e)
			continue
		}
		if !e.done {
			rest = append(rest, e)
		}
	}
	m.pending = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, e := range due {
		e.fn()
	}
}

// PendingCount reports how many callbacks are still armed.
func (m *Manual) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pending {
		if !e.done {
			n++
		}
	}
	return n
}
