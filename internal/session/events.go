package session

import (
	"go.uber.org/zap"

	"tournamesh/internal/domain"
)

// EventKind names something the presentation layer may want to react to.
type EventKind string

const (
	// Both roles.
	EventRoomJoined        EventKind = "room_joined"
	EventRoomClosed        EventKind = "room_closed"
	EventReconnecting      EventKind = "reconnecting"
	EventReconnected       EventKind = "reconnected"
	EventReconnectFailed   EventKind = "reconnect_failed"
	EventMatchRestored     EventKind = "match_restored"
	EventSubmissionDropped EventKind = "submission_dropped"

	// Master role.
	EventDeviceJoined       EventKind = "device_joined"
	EventDeviceDisconnected EventKind = "device_disconnected"
	EventAssignConfirmed    EventKind = "assign_confirmed"
	EventAssignTimeout      EventKind = "assign_timeout"
	EventMatchResumable     EventKind = "match_resumable"
	EventScoreSubmitted     EventKind = "score_submitted"

	// Scoreboard role.
	EventMatchAssigned   EventKind = "match_assigned"
	EventMatchUnassigned EventKind = "match_unassigned"
	EventScoreApproved   EventKind = "score_approved"
	EventScoreRejected   EventKind = "score_rejected"
)

// Event is the outbound notification to the presentation layer. Only the
// fields relevant to the kind are set.
type Event struct {
	Kind       EventKind
	DeviceID   string
	DeviceName string
	MatchID    string
	Reason     string
	Match      *domain.Match
	Submission *domain.Submission
	Pending    *domain.PendingMatch
}

// Events is the presentation layer's inbound channel. A consumer that stops
// draining loses events rather than wedging the protocol actor.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event_dropped", zap.String("kind", string(ev.Kind)))
	}
}
