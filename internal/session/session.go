// Package session is the serialized actor that owns all protocol state: room
// membership, the assignment table, the device table, the reconnection state
// machine, and the submission queue. Every mutation runs on the actor's
// loop goroutine; transport callbacks and timer fires post closures into the
// inbox instead of touching state directly, so no two handlers ever race on
// the same record.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tournamesh/internal/assign"
	"tournamesh/internal/devmon"
	"tournamesh/internal/domain"
	"tournamesh/internal/reconnect"
	"tournamesh/internal/roomkey"
	"tournamesh/internal/sched"
	"tournamesh/internal/statestore"
	"tournamesh/internal/subcache"
	"tournamesh/internal/transport"
	"tournamesh/internal/wire"
)

const (
	DefaultSweepInterval = 10 * time.Second
	DefaultDialTimeout   = 10 * time.Second

	inboxSize  = 128
	eventsSize = 64
)

var (
	ErrNotInRoom     = staticErr("session: not in a room")
	ErrAlreadyInRoom = staticErr("session: already in a room")
	ErrBadRoomCode   = staticErr("session: room code must be 6 digits")
	ErrWrongRole     = staticErr("session: operation not available for this role")
	ErrNoSubmission  = staticErr("session: no submission recorded for this match")
	ErrClosed        = staticErr("session: closed")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Options carry the local identity and the protocol tunables. Zero values
// take the component defaults.
type Options struct {
	DeviceID   string
	DeviceName string

	AcceptTimeout     time.Duration
	SweepInterval     time.Duration
	LivenessThreshold time.Duration
	DialTimeout       time.Duration
	Reconnect         reconnect.Options
	Cache             subcache.Options
}

type Session struct {
	opts  Options
	log   *zap.Logger
	tr    transport.Transport
	store statestore.Store
	clock sched.Scheduler // actor-bound: fires post into the inbox
	now   func() time.Time

	inbox  chan func()
	done   chan struct{}
	events chan Event

	// Actor-owned state below; only the loop goroutine touches it.
	cred       *roomkey.Credential
	role       domain.Role
	inRoom     bool
	masterID   string
	masterName string

	assign *assign.Service
	devmon *devmon.Monitor
	recon  *reconnect.Manager
	cache  *subcache.Cache

	// Master: latest submission per match, awaiting approval.
	submissions map[string]wire.SubmitScore
	// Scoreboard: the match currently being scored, if any.
	active *domain.PendingMatch

	connState  transport.State
	sweepTimer sched.CancelFunc

	authFailures   uint64
	decodeFailures uint64
	droppedNoRoom  uint64

	frameCb int
	stateCb int
}

func New(opts Options, tr transport.Transport, store statestore.Store, base sched.Scheduler, logger *zap.Logger) *Session {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		opts:        opts,
		log:         logger,
		tr:          tr,
		store:       store,
		now:         time.Now,
		inbox:       make(chan func(), inboxSize),
		done:        make(chan struct{}),
		events:      make(chan Event, eventsSize),
		submissions: make(map[string]wire.SubmitScore),
		connState:   transport.StateDisconnected,
	}
	s.clock = sched.Wrap(base, s.post)

	s.devmon = devmon.New(opts.LivenessThreshold, s.nowFn, logger)
	s.assign = assign.New(s.clock, opts.AcceptTimeout, s.nowFn, s.devmon.IsConnected, assign.Hooks{
		TimedOut: s.onAssignTimeout,
	}, logger)
	s.recon = reconnect.New(s.clock, opts.Reconnect, reconnect.Hooks{
		RequestDial: s.onRequestDial,
		SendRejoin:  s.onSendRejoin,
		Rejoined:    s.onRejoined,
		Failed:      s.onReconnectFailed,
	}, logger)
	s.cache = subcache.New(store, opts.Cache, s.nowFn, logger)

	s.frameCb = tr.OnFrame(func(frame []byte, senderID string) {
		f := append([]byte(nil), frame...)
		s.post(func() { s.handleIncoming(f, senderID) })
	})
	s.stateCb = tr.OnStateChange(func(st transport.State) {
		s.post(func() { s.handleTransportState(st) })
	})

	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.done:
			return
		}
	}
}

// post enqueues work onto the actor. Safe from any goroutine; a closed
// session swallows the work.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// call runs fn on the actor and waits for it. Returns false if the session
// closed first.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	s.post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) nowFn() time.Time { return s.now() }

// Start loads persisted state. A session record from a previous process run
// resumes room membership and enters the recovery path; queued submissions
// are reloaded with expired entries purged.
func (s *Session) Start(ctx context.Context) error {
	rec, err := s.store.LoadSession(ctx)
	if err != nil {
		return err
	}
	if _, err := s.cache.Load(ctx); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	cred, err := roomkey.Derive(rec.RoomCode)
	if err != nil {
		// Unusable record; drop it rather than wedge every startup.
		s.log.Warn("session_record_invalid", zap.Error(err))
		return s.store.ClearSession(ctx)
	}
	s.call(func() {
		s.cred = cred
		s.role = rec.Role
		s.inRoom = true
		s.log.Info("session_resumed",
			zap.String("room_code", rec.RoomCode),
			zap.String("role", string(rec.Role)))
		if s.role == domain.RoleMaster {
			s.scheduleSweep()
		}
		s.recon.HandleTransportDown()
		s.emit(Event{Kind: EventReconnecting})
	})
	return nil
}

// CreateRoom opens a new room with this device as Master and returns the
// room code other devices enter. The tournament's match table feeds the
// assignment preconditions.
func (s *Session) CreateRoom(ctx context.Context, t *domain.Tournament) (string, error) {
	var precheck error
	if !s.call(func() {
		if s.inRoom {
			precheck = ErrAlreadyInRoom
		}
	}) {
		return "", ErrClosed
	}
	if precheck != nil {
		return "", precheck
	}

	cred, err := roomkey.Generate()
	if err != nil {
		return "", err
	}
	if err := s.connect(ctx); err != nil {
		return "", err
	}

	var saveErr error
	s.call(func() {
		s.cred = cred
		s.role = domain.RoleMaster
		s.inRoom = true
		s.assign.SetTournament(t)
		s.recon.NoteConnected()
		s.scheduleSweep()
		saveErr = s.store.SaveSession(ctx, &domain.SessionRecord{
			RoomCode: cred.Code,
			Role:     domain.RoleMaster,
		})
		s.log.Info("room_created", zap.String("room_code", cred.Code))
		s.emit(Event{Kind: EventRoomJoined})
	})
	return cred.Code, saveErr
}

// JoinRoom enters an existing room as a Scoreboard and announces this device
// to the Master. The Master's RoomJoined reply surfaces as an event.
func (s *Session) JoinRoom(ctx context.Context, code string) error {
	if !roomkey.Validate(code) {
		return ErrBadRoomCode
	}
	cred, err := roomkey.Derive(code)
	if err != nil {
		return err
	}

	var precheck error
	if !s.call(func() {
		if s.inRoom {
			precheck = ErrAlreadyInRoom
		}
	}) {
		return ErrClosed
	}
	if precheck != nil {
		return precheck
	}
	if err := s.connect(ctx); err != nil {
		return err
	}

	var opErr error
	s.call(func() {
		s.cred = cred
		s.role = domain.RoleScoreboard
		s.inRoom = true
		s.recon.NoteConnected()
		if err := s.store.SaveSession(ctx, &domain.SessionRecord{
			RoomCode: code,
			Role:     domain.RoleScoreboard,
		}); err != nil {
			opErr = err
			return
		}
		opErr = s.send(wire.JoinRoom{
			DeviceID:   s.opts.DeviceID,
			DeviceName: s.opts.DeviceName,
		})
		s.log.Info("room_join_sent", zap.String("room_code", code))
	})
	return opErr
}

// LeaveRoom tears down all room state. A Master broadcasts RoomClosed first
// so Scoreboards learn the session is over.
func (s *Session) LeaveRoom(ctx context.Context) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role == domain.RoleMaster {
			if err := s.send(wire.RoomClosed{}); err != nil {
				s.log.Warn("room_closed_broadcast_failed", zap.Error(err))
			}
		}
		opErr = s.teardownRoom(ctx)
	}) {
		return ErrClosed
	}
	return opErr
}

// teardownRoom drops every piece of room state. Actor only.
func (s *Session) teardownRoom(ctx context.Context) error {
	s.stopSweep()
	s.recon.Stop()
	s.assign.ClearAll()
	s.devmon.Clear()
	s.submissions = make(map[string]wire.SubmitScore)
	s.active = nil
	s.cred = nil
	s.inRoom = false
	s.masterID = ""
	s.masterName = ""

	var firstErr error
	for _, err := range []error{
		s.cache.Clear(ctx),
		s.store.ClearPendingMatch(ctx),
		s.store.ClearSession(ctx),
	} {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.log.Info("room_left")
	return firstErr
}

// Close stops the actor and detaches from the transport. The transport
// itself belongs to the caller.
func (s *Session) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	s.tr.RemoveFrameHandler(s.frameCb)
	s.tr.RemoveStateHandler(s.stateCb)
	close(s.done)
}

// SetTournament (re)loads the Master's match table, e.g. after a process
// restart where the bracket lives in the presentation layer.
func (s *Session) SetTournament(t *domain.Tournament) {
	s.call(func() { s.assign.SetTournament(t) })
}

// AssignMatch runs the assignment preconditions and, on success, sends the
// assignment to the device and arms the acceptance timer.
func (s *Session) AssignMatch(matchID, deviceID string) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role != domain.RoleMaster {
			opErr = ErrWrongRole
			return
		}
		if _, err := s.assign.Assign(matchID, deviceID); err != nil {
			opErr = err
			return
		}
		m := s.assign.Tournament().Match(matchID)
		opErr = s.send(wire.AssignMatch{
			MatchID:    m.ID,
			HomePlayer: m.HomePlayer,
			AwayPlayer: m.AwayPlayer,
			Generation: m.Generation,
			Format:     m.Format,
		})
	}) {
		return ErrClosed
	}
	return opErr
}

// CancelAssignment withdraws a pending or confirmed assignment and
// broadcasts the unassignment.
func (s *Session) CancelAssignment(matchID string) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role != domain.RoleMaster {
			opErr = ErrWrongRole
			return
		}
		if _, ok := s.assign.Cancel(matchID); !ok {
			opErr = assign.ErrMatchUnavailable
			return
		}
		opErr = s.send(wire.MatchUnassigned{MatchID: matchID})
	}) {
		return ErrClosed
	}
	return opErr
}

// ApproveScore accepts the latest submission for a match, records the result
// on the match table, and tells the submitting device.
func (s *Session) ApproveScore(matchID string) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role != domain.RoleMaster {
			opErr = ErrWrongRole
			return
		}
		sub, ok := s.submissions[matchID]
		if !ok {
			opErr = ErrNoSubmission
			return
		}
		s.assign.CompleteMatch(matchID, sub.WinnerID, int(sub.HomeScore), int(sub.AwayScore))
		delete(s.submissions, matchID)
		opErr = s.send(wire.ApproveScore{MatchID: matchID})
	}) {
		return ErrClosed
	}
	return opErr
}

// RejectScore declines the latest submission for a match with a reason the
// scoring device can show.
func (s *Session) RejectScore(matchID, reason string) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role != domain.RoleMaster {
			opErr = ErrWrongRole
			return
		}
		if _, ok := s.submissions[matchID]; !ok {
			opErr = ErrNoSubmission
			return
		}
		delete(s.submissions, matchID)
		opErr = s.send(wire.RejectScore{MatchID: matchID, Reason: reason})
	}) {
		return ErrClosed
	}
	return opErr
}

// SubmitScore sends a finished result to the Master, or queues it durably
// when the link is down. A re-submission for the same match replaces the
// queued one.
func (s *Session) SubmitScore(ctx context.Context, matchID, winnerID string, homeScore, awayScore int, history []byte) error {
	var opErr error
	if !s.call(func() {
		if !s.inRoom {
			opErr = ErrNotInRoom
			return
		}
		if s.role != domain.RoleScoreboard {
			opErr = ErrWrongRole
			return
		}
		if s.connState == transport.StateConnected {
			err := s.send(wire.SubmitScore{
				MatchID:   matchID,
				DeviceID:  s.opts.DeviceID,
				WinnerID:  winnerID,
				HomeScore: byte(homeScore),
				AwayScore: byte(awayScore),
				History:   history,
			})
			if err == nil {
				return
			}
			s.log.Warn("submit_send_failed", zap.String("match_id", matchID), zap.Error(err))
		}
		_, opErr = s.cache.Queue(ctx, matchID, winnerID, homeScore, awayScore, history)
	}) {
		return ErrClosed
	}
	return opErr
}

// UpdateMatchState records the in-progress match snapshot the presentation
// layer wants restored after a reconnect or crash.
func (s *Session) UpdateMatchState(ctx context.Context, matchID string, gameState []byte) error {
	var opErr error
	if !s.call(func() {
		s.active = &domain.PendingMatch{
			MatchID:   matchID,
			GameState: append([]byte(nil), gameState...),
			SavedAt:   s.now(),
		}
		opErr = s.store.SavePendingMatch(ctx, s.active)
	}) {
		return ErrClosed
	}
	return opErr
}

// RestartReconnect leaves the terminal failed state and tries again.
// Explicit caller action; a failed recovery never retries on its own.
func (s *Session) RestartReconnect() bool {
	var ok bool
	s.call(func() { ok = s.recon.Restart() })
	return ok
}

// connect dials the transport with the configured timeout. Runs off-actor;
// the state callback delivers the resulting transition.
func (s *Session) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	return s.tr.Connect(dctx)
}

// --- transport + recovery transitions (actor only) ---

func (s *Session) handleTransportState(st transport.State) {
	prev := s.connState
	s.connState = st
	if !s.inRoom || st == prev {
		return
	}
	switch st {
	case transport.StateDisconnected:
		// Snapshot before anything else so a crash during recovery still
		// restores the match.
		if s.active != nil {
			if err := s.store.SavePendingMatch(context.Background(), s.active); err != nil {
				s.log.Error("pending_match_save_failed", zap.Error(err))
			}
		}
		s.recon.HandleTransportDown()
		s.emit(Event{Kind: EventReconnecting})
	case transport.StateConnected:
		s.recon.HandleTransportUp()
	}
}

func (s *Session) onRequestDial() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.DialTimeout)
	go func() {
		defer cancel()
		if err := s.tr.Connect(ctx); err != nil {
			s.log.Warn("redial_failed", zap.Error(err))
			s.post(s.recon.HandleDialFailed)
		}
		// Success arrives through the transport state callback.
	}()
}

func (s *Session) onSendRejoin() {
	var err error
	if s.role == domain.RoleMaster {
		// Re-announce presence so Scoreboards know the room survived.
		err = s.send(wire.RoomJoined{
			MasterID:       s.opts.DeviceID,
			MasterName:     s.opts.DeviceName,
			TournamentName: s.tournamentName(),
		})
	} else {
		err = s.send(wire.JoinRoom{
			DeviceID:   s.opts.DeviceID,
			DeviceName: s.opts.DeviceName,
		})
	}
	if err != nil {
		s.log.Warn("rejoin_send_failed", zap.Error(err))
	}
}

func (s *Session) onRejoined() {
	ctx := context.Background()
	if pm, err := s.store.LoadPendingMatch(ctx); err != nil {
		s.log.Error("pending_match_load_failed", zap.Error(err))
	} else if pm != nil {
		s.emit(Event{Kind: EventMatchRestored, MatchID: pm.MatchID, Pending: pm})
		if err := s.store.ClearPendingMatch(ctx); err != nil {
			s.log.Error("pending_match_clear_failed", zap.Error(err))
		}
	}
	s.flushQueue(ctx)
	s.emit(Event{Kind: EventReconnected})
}

func (s *Session) onReconnectFailed(reason string) {
	s.emit(Event{Kind: EventReconnectFailed, Reason: reason})
}

func (s *Session) flushQueue(ctx context.Context) {
	_, dropped, err := s.cache.Flush(ctx, func(sub *domain.Submission) bool {
		return s.send(wire.SubmitScore{
			MatchID:   sub.MatchID,
			DeviceID:  s.opts.DeviceID,
			WinnerID:  sub.WinnerID,
			HomeScore: byte(sub.HomeScore),
			AwayScore: byte(sub.AwayScore),
			History:   sub.History,
		}) == nil
	})
	if err != nil {
		s.log.Error("queue_flush_failed", zap.Error(err))
	}
	for _, sub := range dropped {
		s.emit(Event{Kind: EventSubmissionDropped, MatchID: sub.MatchID, Submission: sub})
	}
}

// --- liveness sweep (actor only) ---

func (s *Session) scheduleSweep() {
	s.sweepTimer = s.clock.Schedule(s.opts.SweepInterval, s.runSweep)
}

func (s *Session) stopSweep() {
	if s.sweepTimer != nil {
		s.sweepTimer()
		s.sweepTimer = nil
	}
}

func (s *Session) runSweep() {
	if !s.inRoom || s.role != domain.RoleMaster {
		return
	}
	for _, d := range s.devmon.Sweep() {
		for _, a := range s.assign.HandleDeviceDown(d.ID) {
			if err := s.send(wire.MatchUnassigned{MatchID: a.MatchID}); err != nil {
				s.log.Warn("unassign_broadcast_failed", zap.String("match_id", a.MatchID), zap.Error(err))
			}
		}
		s.emit(Event{Kind: EventDeviceDisconnected, DeviceID: d.ID, DeviceName: d.Name})
	}
	s.scheduleSweep()
}

func (s *Session) onAssignTimeout(a assign.Assignment) {
	s.emit(Event{Kind: EventAssignTimeout, MatchID: a.MatchID, DeviceID: a.DeviceID})
}

func (s *Session) tournamentName() string {
	if t := s.assign.Tournament(); t != nil {
		return t.Name
	}
	return ""
}

// Snapshot is a read-only view for diagnostics.
type Snapshot struct {
	DeviceID       string              `json:"device_id"`
	Role           domain.Role         `json:"role"`
	RoomCode       string              `json:"room_code,omitempty"`
	InRoom         bool                `json:"in_room"`
	ConnState      transport.State     `json:"conn_state"`
	RecoveryState  reconnect.State     `json:"recovery_state"`
	Devices        []domain.DeviceInfo `json:"devices"`
	Assignments    []assign.Assignment `json:"assignments"`
	QueueDepth     int                 `json:"queue_depth"`
	AuthFailures   uint64              `json:"auth_failures"`
	DecodeFailures uint64              `json:"decode_failures"`
	DroppedNoRoom  uint64              `json:"dropped_no_room"`
}

// Stats returns a consistent snapshot taken on the actor.
func (s *Session) Stats() Snapshot {
	var snap Snapshot
	s.call(func() {
		snap = Snapshot{
			DeviceID:       s.opts.DeviceID,
			Role:           s.role,
			InRoom:         s.inRoom,
			ConnState:      s.connState,
			RecoveryState:  s.recon.State(),
			Devices:        s.devmon.Devices(),
			Assignments:    s.assign.Assignments(),
			QueueDepth:     s.cache.Depth(),
			AuthFailures:   s.authFailures,
			DecodeFailures: s.decodeFailures,
			DroppedNoRoom:  s.droppedNoRoom,
		}
		if s.cred != nil {
			snap.RoomCode = s.cred.Code
		}
	})
	return snap
}
