package session

import (
	"context"
	"testing"
	"time"

	"tournamesh/internal/assign"
	"tournamesh/internal/domain"
	"tournamesh/internal/reconnect"
	"tournamesh/internal/sched"
	"tournamesh/internal/statestore"
	"tournamesh/internal/subcache"
	"tournamesh/internal/transport"
)

type node struct {
	s     *Session
	clock *sched.Manual
	tr    *transport.Loopback
	store statestore.Store
}

func newNode(t *testing.T, hub *transport.LoopbackHub, id string) *node {
	t.Helper()
	store, err := statestore.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return newNodeWithStore(t, hub, id, store)
}

func newNodeWithStore(t *testing.T, hub *transport.LoopbackHub, id string, store statestore.Store) *node {
	t.Helper()
	clock := sched.NewManual()
	tr := hub.Endpoint(id)
	s := New(Options{
		DeviceID:      id,
		DeviceName:    "device " + id,
		AcceptTimeout: 10 * time.Second,
		SweepInterval: 10 * time.Second,
		Reconnect: reconnect.Options{
			BackoffBase:       time.Second,
			BackoffMultiplier: 2,
			MaxAttempts:       5,
			RejoinTimeout:     5 * time.Second,
		},
		Cache: subcache.Options{RetryCeiling: 3, Retention: 24 * time.Hour},
	}, tr, store, clock, nil)
	t.Cleanup(s.Close)
	return &node{s: s, clock: clock, tr: tr, store: store}
}

// barrier waits until the actor has drained everything posted before it.
func (n *node) barrier() { n.s.call(func() {}) }

func waitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", kind)
		}
	}
}

func bracket() *domain.Tournament {
	return &domain.Tournament{
		ID:   "t1",
		Name: "Regionals",
		Matches: map[string]*domain.Match{
			"m1": {ID: "m1", HomePlayer: "Ash", AwayPlayer: "Gary", Status: domain.MatchUnplayed},
			"m2": {ID: "m2", HomePlayer: "May", AwayPlayer: "Dawn", Status: domain.MatchUnplayed},
		},
	}
}

// joinedPair stands up a Master with an open room and one joined Scoreboard.
func joinedPair(t *testing.T) (hub *transport.LoopbackHub, master, sb *node, code string) {
	t.Helper()
	ctx := context.Background()
	hub = transport.NewLoopbackHub()
	master = newNode(t, hub, "master")
	sb = newNode(t, hub, "sb1")

	code, err := master.s.CreateRoom(ctx, bracket())
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := sb.s.JoinRoom(ctx, code); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	waitEvent(t, master.s, EventDeviceJoined)
	waitEvent(t, sb.s, EventRoomJoined)
	return hub, master, sb, code
}

func TestJoinHandshake(t *testing.T) {
	_, master, sb, code := joinedPair(t)

	snap := master.s.Stats()
	if !snap.InRoom || snap.Role != domain.RoleMaster || snap.RoomCode != code {
		t.Fatalf("master snapshot = %+v", snap)
	}
	if len(snap.Devices) != 1 || snap.Devices[0].ID != "sb1" {
		t.Fatalf("master devices = %+v", snap.Devices)
	}
	if got := sb.s.Stats(); got.Role != domain.RoleScoreboard || !got.InRoom {
		t.Fatalf("scoreboard snapshot = %+v", got)
	}
}

func TestForeignRoomFramesAreDropped(t *testing.T) {
	ctx := context.Background()
	hub := transport.NewLoopbackHub()
	master := newNode(t, hub, "master")
	stranger := newNode(t, hub, "stranger")

	if _, err := master.s.CreateRoom(ctx, bracket()); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	// The stranger is in a different room; its join is MAC noise here.
	if err := stranger.s.JoinRoom(ctx, "999999"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if master.s.Stats().AuthFailures > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap := master.s.Stats()
	if snap.AuthFailures == 0 {
		t.Fatalf("foreign frame did not count as auth failure")
	}
	if len(snap.Devices) != 0 {
		t.Fatalf("foreign device registered: %+v", snap.Devices)
	}
}

func TestAssignConfirmFlow(t *testing.T) {
	_, master, sb, _ := joinedPair(t)

	if err := master.s.AssignMatch("m1", "sb1"); err != nil {
		t.Fatalf("AssignMatch: %v", err)
	}
	ev := waitEvent(t, sb.s, EventMatchAssigned)
	if ev.Match == nil || ev.Match.HomePlayer != "Ash" || ev.Match.AwayPlayer != "Gary" {
		t.Fatalf("assigned match = %+v", ev.Match)
	}

	// The scoreboard's unconditional MatchAccepted confirms it.
	conf := waitEvent(t, master.s, EventAssignConfirmed)
	if conf.MatchID != "m1" || conf.DeviceID != "sb1" {
		t.Fatalf("confirmation = %+v", conf)
	}
	snap := master.s.Stats()
	if len(snap.Assignments) != 1 || snap.Assignments[0].Status != assign.StatusConfirmed {
		t.Fatalf("assignments = %+v", snap.Assignments)
	}
}

func TestAssignmentTimesOutWhenDeviceSilent(t *testing.T) {
	hub, master, _, _ := joinedPair(t)

	// Radio blackout toward sb1: it never hears the assignment.
	hub.SetDropFilter(func(from, to string, frame []byte) bool { return to == "sb1" })

	if err := master.s.AssignMatch("m1", "sb1"); err != nil {
		t.Fatalf("AssignMatch: %v", err)
	}
	master.clock.Advance(11 * time.Second)
	ev := waitEvent(t, master.s, EventAssignTimeout)
	if ev.MatchID != "m1" || ev.DeviceID != "sb1" {
		t.Fatalf("timeout event = %+v", ev)
	}

	// m1 is back in the assignable pool.
	hub.SetDropFilter(nil)
	if err := master.s.AssignMatch("m1", "sb1"); err != nil {
		t.Fatalf("reassign after timeout: %v", err)
	}
}

func TestSubmitApproveFlow(t *testing.T) {
	ctx := context.Background()
	_, master, sb, _ := joinedPair(t)

	if err := master.s.AssignMatch("m1", "sb1"); err != nil {
		t.Fatalf("AssignMatch: %v", err)
	}
	waitEvent(t, master.s, EventAssignConfirmed)

	if err := sb.s.SubmitScore(ctx, "m1", "Ash", 2, 1, []byte{0xAA}); err != nil {
		t.Fatalf("SubmitScore: %v", err)
	}
	got := waitEvent(t, master.s, EventScoreSubmitted)
	if got.MatchID != "m1" || got.Submission == nil || got.Submission.WinnerID != "Ash" {
		t.Fatalf("submission event = %+v", got)
	}

	if err := master.s.ApproveScore("m1"); err != nil {
		t.Fatalf("ApproveScore: %v", err)
	}
	waitEvent(t, sb.s, EventScoreApproved)

	// The result landed on the match table and freed the device.
	master.barrier()
	if err := master.s.AssignMatch("m2", "sb1"); err != nil {
		t.Fatalf("assign after completion: %v", err)
	}
}

func TestRejectScoreSurfacesReason(t *testing.T) {
	ctx := context.Background()
	_, master, sb, _ := joinedPair(t)

	if err := sb.s.SubmitScore(ctx, "m1", "Ash", 2, 0, nil); err != nil {
		t.Fatalf("SubmitScore: %v", err)
	}
	waitEvent(t, master.s, EventScoreSubmitted)
	if err := master.s.RejectScore("m1", "home player mismatch"); err != nil {
		t.Fatalf("RejectScore: %v", err)
	}
	ev := waitEvent(t, sb.s, EventScoreRejected)
	if ev.MatchID != "m1" || ev.Reason != "home player mismatch" {
		t.Fatalf("rejection = %+v", ev)
	}
}

func TestOfflineSubmitFlushesOnReconnect(t *testing.T) {
	ctx := context.Background()
	_, master, sb, _ := joinedPair(t)

	sb.tr.DropLink()
	sb.barrier()
	if err := sb.s.SubmitScore(ctx, "m2", "Dawn", 0, 2, nil); err != nil {
		t.Fatalf("SubmitScore offline: %v", err)
	}
	if depth := sb.s.Stats().QueueDepth; depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}

	// Backoff elapses, the dial succeeds, the rejoin round-trips, the queue
	// flushes.
	sb.clock.Advance(time.Second)
	waitEvent(t, sb.s, EventReconnected)

	got := waitEvent(t, master.s, EventScoreSubmitted)
	if got.MatchID != "m2" || got.Submission.WinnerID != "Dawn" {
		t.Fatalf("flushed submission = %+v", got)
	}
	if depth := sb.s.Stats().QueueDepth; depth != 0 {
		t.Fatalf("queue depth after flush = %d", depth)
	}
}

func TestPendingMatchRestoredAfterReconnect(t *testing.T) {
	ctx := context.Background()
	_, _, sb, _ := joinedPair(t)

	state := []byte("turn 12, 2-1")
	if err := sb.s.UpdateMatchState(ctx, "m1", state); err != nil {
		t.Fatalf("UpdateMatchState: %v", err)
	}

	sb.tr.DropLink()
	sb.barrier()
	sb.clock.Advance(time.Second)
	ev := waitEvent(t, sb.s, EventMatchRestored)
	if ev.MatchID != "m1" || string(ev.Pending.GameState) != string(state) {
		t.Fatalf("restored = %+v", ev)
	}

	// The snapshot is consumed, not replayed forever.
	if pm, err := sb.store.LoadPendingMatch(ctx); err != nil || pm != nil {
		t.Fatalf("snapshot not cleared: pm=%+v err=%v", pm, err)
	}
}

func TestRoomClosedTearsDownScoreboard(t *testing.T) {
	ctx := context.Background()
	_, master, sb, _ := joinedPair(t)

	if err := master.s.LeaveRoom(ctx); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	waitEvent(t, sb.s, EventRoomClosed)
	sb.barrier()

	if snap := sb.s.Stats(); snap.InRoom {
		t.Fatalf("scoreboard still in room: %+v", snap)
	}
	if rec, err := sb.store.LoadSession(ctx); err != nil || rec != nil {
		t.Fatalf("session record survived teardown: rec=%+v err=%v", rec, err)
	}
}

func TestRestartResumesRoomMembership(t *testing.T) {
	ctx := context.Background()
	hub, master, sb, _ := joinedPair(t)

	// Crash: the process dies with the session record on disk.
	store := sb.store
	sb.s.Close()
	sb.tr.DropLink()

	sb2 := newNodeWithStore(t, hub, "sb1", store)
	if err := sb2.s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := sb2.s.Stats()
	if !snap.InRoom || snap.Role != domain.RoleScoreboard {
		t.Fatalf("resume snapshot = %+v", snap)
	}
	if snap.RecoveryState != reconnect.StateReconnecting {
		t.Fatalf("recovery state = %s", snap.RecoveryState)
	}

	sb2.clock.Advance(time.Second)
	waitEvent(t, sb2.s, EventReconnected)
	waitEvent(t, master.s, EventDeviceJoined)
}

func TestSendRequiresRoom(t *testing.T) {
	hub := transport.NewLoopbackHub()
	n := newNode(t, hub, "loner")

	if err := n.s.AssignMatch("m1", "d1"); err != ErrNotInRoom {
		t.Fatalf("AssignMatch outside room: %v", err)
	}
	if err := n.s.SubmitScore(context.Background(), "m1", "w", 1, 0, nil); err != ErrNotInRoom {
		t.Fatalf("SubmitScore outside room: %v", err)
	}
	if err := n.s.LeaveRoom(context.Background()); err != ErrNotInRoom {
		t.Fatalf("LeaveRoom outside room: %v", err)
	}
}
