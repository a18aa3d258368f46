package session

import (
	"context"

	"go.uber.org/zap"

	"tournamesh/internal/domain"
	"tournamesh/internal/frame"
	"tournamesh/internal/reconnect"
	"tournamesh/internal/transport"
	"tournamesh/internal/wire"
)

// handleIncoming is the inbound pipeline: membership filter, MAC check,
// decode, heartbeat, then one role-appropriate handler. Frames that fail
// any stage are dropped silently; the counters exist for diagnostics only,
// an auth failure is indistinguishable from "not a message for this room".
// Actor only.
func (s *Session) handleIncoming(f []byte, senderID string) {
	if !s.inRoom || s.cred == nil {
		s.droppedNoRoom++
		return
	}
	if senderID == s.opts.DeviceID {
		return // mesh echo of our own frame
	}
	payload, ok := frame.Open(f, s.cred)
	if !ok {
		s.authFailures++
		return
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		s.decodeFailures++
		s.log.Debug("frame_undecodable", zap.String("sender_id", senderID), zap.Error(err))
		return
	}

	// Any authenticated message is a heartbeat.
	if s.devmon.Observe(senderID) {
		s.handleDeviceReturned(senderID)
	}
	s.maybeConfirmRejoin(msg)

	switch s.role {
	case domain.RoleMaster:
		s.dispatchMaster(msg, senderID)
	case domain.RoleScoreboard:
		s.dispatchScoreboard(msg, senderID)
	}
}

// handleDeviceReturned surfaces, once, the matches a reconnected device was
// scoring. Reassignment stays an explicit Master action.
func (s *Session) handleDeviceReturned(senderID string) {
	if s.role != domain.RoleMaster {
		return
	}
	for _, a := range s.assign.ResumableFor(senderID) {
		s.emit(Event{Kind: EventMatchResumable, MatchID: a.MatchID, DeviceID: a.DeviceID})
	}
}

// maybeConfirmRejoin completes a pending room rejoin. A Master takes any
// authenticated in-room message as proof the room is live; a Scoreboard
// waits for the Master's RoomJoined reply.
func (s *Session) maybeConfirmRejoin(msg wire.Message) {
	if s.recon.State() != reconnect.StateRejoining {
		return
	}
	if s.role == domain.RoleMaster {
		s.recon.HandleRejoinConfirmed()
		return
	}
	if _, ok := msg.(wire.RoomJoined); ok {
		s.recon.HandleRejoinConfirmed()
	}
}

// dispatchMaster handles the variants a Master consumes. Scoreboard-bound
// variants arriving here are mesh noise and are ignored.
func (s *Session) dispatchMaster(msg wire.Message, senderID string) {
	switch m := msg.(type) {
	case wire.JoinRoom:
		s.devmon.Register(m.DeviceID, m.DeviceName)
		// Reply unconditionally; join validation happened at the MAC.
		if err := s.send(wire.RoomJoined{
			MasterID:       s.opts.DeviceID,
			MasterName:     s.opts.DeviceName,
			TournamentName: s.tournamentName(),
		}); err != nil {
			s.log.Warn("room_joined_reply_failed", zap.Error(err))
		}
		s.emit(Event{Kind: EventDeviceJoined, DeviceID: m.DeviceID, DeviceName: m.DeviceName})
	case wire.MatchAccepted:
		if a, ok := s.assign.Confirm(m.MatchID, m.DeviceID); ok {
			s.emit(Event{Kind: EventAssignConfirmed, MatchID: a.MatchID, DeviceID: a.DeviceID})
		}
	case wire.SubmitScore:
		s.submissions[m.MatchID] = m
		s.log.Info("score_submitted",
			zap.String("match_id", m.MatchID),
			zap.String("device_id", m.DeviceID))
		s.emit(Event{
			Kind:     EventScoreSubmitted,
			MatchID:  m.MatchID,
			DeviceID: m.DeviceID,
			Submission: &domain.Submission{
				MatchID:   m.MatchID,
				WinnerID:  m.WinnerID,
				HomeScore: int(m.HomeScore),
				AwayScore: int(m.AwayScore),
				History:   m.History,
			},
		})
	case wire.RoomJoined, wire.AssignMatch, wire.MatchUnassigned,
		wire.ApproveScore, wire.RejectScore, wire.RoomClosed:
		// Not for this role.
	}
}

// dispatchScoreboard handles the variants a Scoreboard consumes.
func (s *Session) dispatchScoreboard(msg wire.Message, senderID string) {
	switch m := msg.(type) {
	case wire.RoomJoined:
		s.masterID = m.MasterID
		s.masterName = m.MasterName
		s.emit(Event{
			Kind:       EventRoomJoined,
			DeviceID:   m.MasterID,
			DeviceName: m.MasterName,
			Reason:     m.TournamentName,
		})
	case wire.AssignMatch:
		// Acceptance is unconditional at the protocol layer; the Master
		// validated the assignment before sending.
		if err := s.send(wire.MatchAccepted{
			MatchID:  m.MatchID,
			DeviceID: s.opts.DeviceID,
		}); err != nil {
			s.log.Warn("match_accept_reply_failed", zap.Error(err))
		}
		s.emit(Event{
			Kind:    EventMatchAssigned,
			MatchID: m.MatchID,
			Match: &domain.Match{
				ID:         m.MatchID,
				HomePlayer: m.HomePlayer,
				AwayPlayer: m.AwayPlayer,
				Generation: m.Generation,
				Format:     m.Format,
				Status:     domain.MatchScoring,
			},
		})
	case wire.MatchUnassigned:
		if s.active != nil && s.active.MatchID == m.MatchID {
			s.active = nil
		}
		s.emit(Event{Kind: EventMatchUnassigned, MatchID: m.MatchID})
	case wire.ApproveScore:
		s.clearApprovedMatch(m.MatchID)
		s.emit(Event{Kind: EventScoreApproved, MatchID: m.MatchID})
	case wire.RejectScore:
		s.emit(Event{Kind: EventScoreRejected, MatchID: m.MatchID, Reason: m.Reason})
	case wire.RoomClosed:
		s.log.Info("room_closed_by_master", zap.String("sender_id", senderID))
		s.emit(Event{Kind: EventRoomClosed})
		if err := s.teardownRoom(context.Background()); err != nil {
			s.log.Error("room_teardown_failed", zap.Error(err))
		}
	case wire.JoinRoom, wire.MatchAccepted, wire.SubmitScore:
		// Not for this role.
	}
}

func (s *Session) clearApprovedMatch(matchID string) {
	if s.active != nil && s.active.MatchID == matchID {
		s.active = nil
	}
	if err := s.store.ClearPendingMatch(context.Background()); err != nil {
		s.log.Error("pending_match_clear_failed", zap.Error(err))
	}
}

// send seals and transmits one message. Requires an active room; performs
// no I/O without one.
func (s *Session) send(msg wire.Message) error {
	if !s.inRoom || s.cred == nil {
		return ErrNotInRoom
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return s.tr.SendFrame(frame.Seal(payload, s.cred), transport.DefaultHopLimit)
}
