// Package assign owns the Master's match-assignment state machine:
// unassigned → pending → {confirmed | cancelled | timeout | interrupted},
// with interrupted matches returning to the assignable pool. The service is
// single-threaded; the session actor is its only caller, and acceptance
// timers come back through the actor-bound scheduler, so confirming an
// assignment and cancelling its timer happen in one logical step.
package assign

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"tournamesh/internal/domain"
	"tournamesh/internal/sched"
)

// DefaultAcceptTimeout is how long a pending assignment waits for
// MatchAccepted before it times out.
const DefaultAcceptTimeout = 10 * time.Second

// Status is the lifecycle of one assignment record.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCancelled   Status = "CANCELLED"
	StatusTimeout     Status = "TIMEOUT"
	StatusInterrupted Status = "INTERRUPTED"
)

// Assignment binds one match to one device during scoring.
type Assignment struct {
	MatchID     string     `json:"match_id"`
	DeviceID    string     `json:"device_id"`
	Status      Status     `json:"status"`
	AssignedAt  time.Time  `json:"assigned_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Assignment precondition failures, in the order they are checked.
var (
	ErrNoTournament     = errf("assign: no tournament loaded")
	ErrUnknownMatch     = errf("assign: match not found")
	ErrMatchNotReady    = errf("assign: match does not have both participants")
	ErrMatchUnavailable = errf("assign: match already assigned or complete")
	ErrAssignPending    = errf("assign: an assignment is already pending for this match")
	ErrDeviceOffline    = errf("assign: target device is not connected")
	ErrDeviceBusy       = errf("assign: target device already has an active assignment")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Hooks are the service's outbound edges, supplied by the session.
type Hooks struct {
	// TimedOut fires when an acceptance timer expires while still pending.
	// The match is already back in the assignable pool when it runs.
	TimedOut func(a Assignment)
}

type Service struct {
	sched       sched.Scheduler
	timeout     time.Duration
	now         func() time.Time
	isConnected func(deviceID string) bool
	hooks       Hooks
	log         *zap.Logger

	tournament  *domain.Tournament
	assignments map[string]*Assignment
	timers      map[string]sched.CancelFunc
	resumable   map[string]string // matchID → deviceID owed a resume signal
}

func New(s sched.Scheduler, timeout time.Duration, now func() time.Time, isConnected func(string) bool, hooks Hooks, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sched:       s,
		timeout:     timeout,
		now:         now,
		isConnected: isConnected,
		hooks:       hooks,
		log:         logger,
		assignments: make(map[string]*Assignment),
		timers:      make(map[string]sched.CancelFunc),
		resumable:   make(map[string]string),
	}
}

// SetTournament loads the event the Master is coordinating.
func (s *Service) SetTournament(t *domain.Tournament) {
	s.tournament = t
}

// Tournament returns the loaded event, or nil.
func (s *Service) Tournament() *domain.Tournament {
	return s.tournament
}

// Assign validates the preconditions in order and, on success, creates a
// pending record and arms the acceptance timer. The caller sends the
// AssignMatch message.
func (s *Service) Assign(matchID, deviceID string) (*Assignment, error) {
	if s.tournament == nil {
		return nil, ErrNoTournament
	}
	match := s.tournament.Match(matchID)
	if match == nil {
		return nil, ErrUnknownMatch
	}
	if !match.Ready() {
		return nil, ErrMatchNotReady
	}
	if cur := s.assignments[matchID]; match.Status == domain.MatchComplete ||
		(cur != nil && cur.Status == StatusConfirmed) {
		return nil, ErrMatchUnavailable
	}
	if cur := s.assignments[matchID]; cur != nil && cur.Status == StatusPending {
		return nil, ErrAssignPending
	}
	if s.isConnected != nil && !s.isConnected(deviceID) {
		return nil, ErrDeviceOffline
	}
	if s.activeFor(deviceID) != nil {
		return nil, ErrDeviceBusy
	}

	a := &Assignment{
		MatchID:    matchID,
		DeviceID:   deviceID,
		Status:     StatusPending,
		AssignedAt: s.now(),
	}
	s.assignments[matchID] = a
	delete(s.resumable, matchID)
	s.timers[matchID] = s.sched.Schedule(s.timeout, func() { s.expire(matchID) })
	s.log.Info("assign_pending", zap.String("match_id", matchID), zap.String("device_id", deviceID))
	cp := *a
	return &cp, nil
}

// expire runs on the actor when the acceptance timer fires. The pending
// guard makes the timeout/accept race deterministic: whichever of Confirm or
// expire runs first wins, the other is a no-op.
func (s *Service) expire(matchID string) {
	a := s.assignments[matchID]
	if a == nil || a.Status != StatusPending {
		return
	}
	a.Status = StatusTimeout
	delete(s.timers, matchID)
	s.log.Warn("assign_timeout", zap.String("match_id", matchID), zap.String("device_id", a.DeviceID))
	if s.hooks.TimedOut != nil {
		s.hooks.TimedOut(*a)
	}
}

// Confirm handles MatchAccepted. It reports false when there is nothing
// pending for this match/device pair (late, duplicate, or foreign accept).
func (s *Service) Confirm(matchID, deviceID string) (*Assignment, bool) {
	a := s.assignments[matchID]
	if a == nil || a.Status != StatusPending || a.DeviceID != deviceID {
		return nil, false
	}
	s.stopTimer(matchID)
	at := s.now()
	a.Status = StatusConfirmed
	a.ConfirmedAt = &at
	s.log.Info("assign_confirmed", zap.String("match_id", matchID), zap.String("device_id", deviceID))
	cp := *a
	return &cp, true
}

// Cancel is an explicit Master action against a pending or confirmed
// assignment. The caller broadcasts MatchUnassigned.
func (s *Service) Cancel(matchID string) (*Assignment, bool) {
	a := s.assignments[matchID]
	if a == nil || (a.Status != StatusPending && a.Status != StatusConfirmed) {
		return nil, false
	}
	s.stopTimer(matchID)
	a.Status = StatusCancelled
	s.log.Info("assign_cancelled", zap.String("match_id", matchID), zap.String("device_id", a.DeviceID))
	cp := *a
	return &cp, true
}

// HandleDeviceDown interrupts every active assignment held by a device that
// just went stale, releasing the matches for reassignment. The interrupted
// matches are remembered so the device's return can surface them as
// resumable.
func (s *Service) HandleDeviceDown(deviceID string) []Assignment {
	var out []Assignment
	for matchID, a := range s.assignments {
		if a.DeviceID != deviceID {
			continue
		}
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		s.stopTimer(matchID)
		a.Status = StatusInterrupted
		s.resumable[matchID] = deviceID
		out = append(out, *a)
		s.log.Warn("assign_interrupted", zap.String("match_id", matchID), zap.String("device_id", deviceID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// ResumableFor surfaces, exactly once, the matches a returning device was
// scoring that are still unassigned. Reassignment stays an explicit Master
// action.
func (s *Service) ResumableFor(deviceID string) []Assignment {
	var out []Assignment
	for matchID, owner := range s.resumable {
		if owner != deviceID {
			continue
		}
		delete(s.resumable, matchID)
		a := s.assignments[matchID]
		if a == nil || a.Status != StatusInterrupted || a.DeviceID != deviceID {
			continue // reassigned in the meantime
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

// CompleteMatch records an approved result. The device's confirmed
// assignment stops counting as active once its match is complete.
func (s *Service) CompleteMatch(matchID, winnerID string, homeScore, awayScore int) {
	if s.tournament == nil {
		return
	}
	match := s.tournament.Match(matchID)
	if match == nil {
		return
	}
	match.Status = domain.MatchComplete
	match.WinnerID = winnerID
	match.HomeScore = homeScore
	match.AwayScore = awayScore
}

// ActiveFor returns the device's pending or confirmed assignment, or nil.
func (s *Service) ActiveFor(deviceID string) *Assignment {
	a := s.activeFor(deviceID)
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (s *Service) activeFor(deviceID string) *Assignment {
	for _, a := range s.assignments {
		if a.DeviceID != deviceID {
			continue
		}
		if a.Status == StatusPending {
			return a
		}
		if a.Status == StatusConfirmed {
			// A confirmed assignment on a finished match no longer occupies
			// the device.
			if m := s.tournament.Match(a.MatchID); m != nil && m.Status == domain.MatchComplete {
				continue
			}
			return a
		}
	}
	return nil
}

// Get returns a copy of the match's latest assignment record, or nil.
func (s *Service) Get(matchID string) *Assignment {
	a := s.assignments[matchID]
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

// Assignments returns copies of every record, ordered by match id.
func (s *Service) Assignments() []Assignment {
	out := make([]Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (s *Service) stopTimer(matchID string) {
	if cancel, ok := s.timers[matchID]; ok {
		cancel()
		delete(s.timers, matchID)
	}
}

// ClearAll cancels every outstanding timer and drops all state. Only used
// when leaving the room.
func (s *Service) ClearAll() {
	for matchID, cancel := range s.timers {
		cancel()
		delete(s.timers, matchID)
	}
	s.assignments = make(map[string]*Assignment)
	s.resumable = make(map[string]string)
	s.tournament = nil
}
