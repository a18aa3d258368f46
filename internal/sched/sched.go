// Package sched is the timer seam for the protocol core. Timers never mutate
// state from their own goroutine; the session wraps a Scheduler so every fired
// callback is posted onto the serialized actor.
package sched

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled callback. It reports whether the callback was
// prevented from running; calling it again, or after the callback has fired,
// is a no-op returning false.
type CancelFunc func() bool

// Scheduler runs a callback once after a delay.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// Timers is the production Scheduler over time.AfterFunc.
type Timers struct{}

func NewTimers() *Timers { return &Timers{} }

func (Timers) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	var once sync.Once
	return func() bool {
		stopped := false
		once.Do(func() { stopped = t.Stop() })
		return stopped
	}
}

// Wrap returns a Scheduler that routes every fired callback through post.
// The session uses this to marshal timer callbacks onto its inbox.
func Wrap(inner Scheduler, post func(func())) Scheduler {
	return wrapped{inner: inner, post: post}
}

type wrapped struct {
	inner Scheduler
	post  func(func())
}

func (w wrapped) Schedule(d time.Duration, fn func()) CancelFunc {
	return w.inner.Schedule(d, func() { w.post(fn) })
}
