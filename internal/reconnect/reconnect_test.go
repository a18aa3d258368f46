package reconnect

import (
	"testing"
	"time"

	"tournamesh/internal/sched"
)

type recorder struct {
	dials   int
	rejoins int
	joined  int
	failed  []string
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		RequestDial: func() { r.dials++ },
		SendRejoin:  func() { r.rejoins++ },
		Rejoined:    func() { r.joined++ },
		Failed:      func(reason string) { r.failed = append(r.failed, reason) },
	}
}

func newManager(t *testing.T) (*Manager, *sched.Manual, *recorder) {
	t.Helper()
	clock := sched.NewManual()
	rec := &recorder{}
	m := New(clock, Options{
		BackoffBase:       time.Second,
		BackoffMultiplier: 2,
		MaxAttempts:       3,
		RejoinTimeout:     5 * time.Second,
	}, rec.hooks(), nil)
	m.NoteConnected()
	return m, clock, rec
}

func TestBackoffDelaysAreExponential(t *testing.T) {
	m := New(sched.NewManual(), Options{BackoffBase: time.Second, BackoffMultiplier: 2}, Hooks{}, nil)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := m.Delay(i + 1); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	m, clock, rec := newManager(t)

	m.HandleTransportDown()
	if m.State() != StateReconnecting {
		t.Fatalf("state = %s", m.State())
	}

	// Attempt 1 after 1s, 2 after 2s, 3 after 4s; each dial fails.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		clock.Advance(delay - time.Millisecond)
		if rec.dials != i {
			t.Fatalf("dial fired before its backoff elapsed (attempt %d)", i+1)
		}
		clock.Advance(time.Millisecond)
		if rec.dials != i+1 {
			t.Fatalf("dials = %d after attempt %d window", rec.dials, i+1)
		}
		m.HandleDialFailed()
	}

	if m.State() != StateFailed {
		t.Fatalf("state = %s, want FAILED", m.State())
	}
	if len(rec.failed) != 1 || rec.failed[0] != ReasonDialExhausted {
		t.Fatalf("failed = %v", rec.failed)
	}

	// Terminal: no further dials, ever.
	clock.Advance(time.Hour)
	if rec.dials != 3 {
		t.Fatalf("dials after failure: %d", rec.dials)
	}
}

func TestSuccessfulRecovery(t *testing.T) {
	m, clock, rec := newManager(t)

	m.HandleTransportDown()
	clock.Advance(time.Second)
	if rec.dials != 1 {
		t.Fatalf("dials = %d", rec.dials)
	}

	m.HandleTransportUp()
	if m.State() != StateRejoining || rec.rejoins != 1 {
		t.Fatalf("state = %s, rejoins = %d", m.State(), rec.rejoins)
	}

	m.HandleRejoinConfirmed()
	if m.State() != StateConnected || rec.joined != 1 {
		t.Fatalf("state = %s, joined = %d", m.State(), rec.joined)
	}

	// Stale rejoin timer must not fire after confirmation.
	clock.Advance(time.Minute)
	if rec.rejoins != 1 || len(rec.failed) != 0 {
		t.Fatalf("rejoins = %d, failed = %v", rec.rejoins, rec.failed)
	}
}

func TestRejoinRetriesThenFails(t *testing.T) {
	m, clock, rec := newManager(t)

	m.HandleTransportDown()
	clock.Advance(time.Second)
	m.HandleTransportUp()

	// Rejoin 1 sent immediately; timeouts drive 2 and 3; the third timeout
	// exhausts the cap.
	for want := 2; want <= 3; want++ {
		clock.Advance(5 * time.Second)
		if rec.rejoins != want {
			t.Fatalf("rejoins = %d, want %d", rec.rejoins, want)
		}
	}
	clock.Advance(5 * time.Second)
	if m.State() != StateFailed {
		t.Fatalf("state = %s, want FAILED", m.State())
	}
	if len(rec.failed) != 1 || rec.failed[0] != ReasonRejoinExhausted {
		t.Fatalf("failed = %v", rec.failed)
	}
}

func TestRestartOnlyFromFailed(t *testing.T) {
	m, clock, rec := newManager(t)

	if m.Restart() {
		t.Fatalf("Restart succeeded while connected")
	}

	m.HandleTransportDown()
	for i := 0; i < 3; i++ {
		clock.Advance(8 * time.Second)
		m.HandleDialFailed()
	}
	if m.State() != StateFailed {
		t.Fatalf("state = %s", m.State())
	}

	dialsBefore := rec.dials
	if !m.Restart() {
		t.Fatalf("Restart refused from FAILED")
	}
	if m.State() != StateReconnecting {
		t.Fatalf("state = %s after Restart", m.State())
	}
	clock.Advance(time.Second)
	if rec.dials != dialsBefore+1 {
		t.Fatalf("no dial after Restart backoff")
	}
}

func TestStopSilencesTimers(t *testing.T) {
	m, clock, rec := newManager(t)

	m.HandleTransportDown()
	m.Stop()
	if m.State() != StateDisconnected {
		t.Fatalf("state = %s", m.State())
	}
	clock.Advance(time.Hour)
	if rec.dials != 0 || len(rec.failed) != 0 {
		t.Fatalf("activity after Stop: dials=%d failed=%v", rec.dials, rec.failed)
	}
}

func TestEventsOutOfPhaseAreIgnored(t *testing.T) {
	m, _, rec := newManager(t)

	// Not reconnecting: up/fail events are noise.
	m.HandleTransportUp()
	m.HandleDialFailed()
	m.HandleRejoinConfirmed()
	if m.State() != StateConnected || rec.rejoins != 0 || rec.joined != 0 {
		t.Fatalf("state = %s, rejoins = %d, joined = %d", m.State(), rec.rejoins, rec.joined)
	}
}
