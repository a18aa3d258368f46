package wire

// Message is the closed set of coordination messages. The compiler enforces
// exhaustive handling: Encode and the router dispatch by type switch over
// exactly these variants.
type Message interface{ isMessage() }

// JoinRoom is sent by a Scoreboard to announce itself to the Master.
type JoinRoom struct {
	DeviceID   string
	DeviceName string
}

// RoomJoined is the Master's unconditional reply to JoinRoom, and its
// presence re-announcement after a reconnect.
type RoomJoined struct {
	MasterID       string
	MasterName     string
	TournamentName string
}

// AssignMatch binds a match to the receiving Scoreboard.
type AssignMatch struct {
	MatchID    string
	HomePlayer string
	AwayPlayer string
	Generation byte
	Format     byte
}

// MatchAccepted is the Scoreboard's unconditional acknowledgement of an
// assignment.
type MatchAccepted struct {
	MatchID  string
	DeviceID string
}

// MatchUnassigned tells Scoreboards a match is no longer theirs.
type MatchUnassigned struct {
	MatchID string
}

// SubmitScore carries a finished result to the Master. History is an opaque
// match-history payload and may be empty.
type SubmitScore struct {
	MatchID   string
	DeviceID  string
	WinnerID  string
	HomeScore byte
	AwayScore byte
	History   []byte
}

// ApproveScore confirms a submitted result.
type ApproveScore struct {
	MatchID string
}

// RejectScore refuses a submitted result with a human-readable reason.
type RejectScore struct {
	MatchID string
	Reason  string
}

// RoomClosed is the Master's broadcast when the room is torn down.
type RoomClosed struct{}

func (JoinRoom) isMessage()        {}
func (RoomJoined) isMessage()      {}
func (AssignMatch) isMessage()     {}
func (MatchAccepted) isMessage()   {}
func (MatchUnassigned) isMessage() {}
func (SubmitScore) isMessage()     {}
func (ApproveScore) isMessage()    {}
func (RejectScore) isMessage()     {}
func (RoomClosed) isMessage()      {}

// Tag returns the wire tag for a message.
func Tag(m Message) byte {
	switch m.(type) {
	case JoinRoom:
		return TagJoinRoom
	case RoomJoined:
		return TagRoomJoined
	case AssignMatch:
		return TagAssignMatch
	case MatchAccepted:
		return TagMatchAccepted
	case MatchUnassigned:
		return TagMatchUnassigned
	case SubmitScore:
		return TagSubmitScore
	case ApproveScore:
		return TagApproveScore
	case RejectScore:
		return TagRejectScore
	case RoomClosed:
		return TagRoomClosed
	}
	return 0
}
