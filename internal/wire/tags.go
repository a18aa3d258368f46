// Package wire defines the binary coordination message set and its codec.
// Every message is [type_tag: 1 byte][fields...]; strings carry a 1-byte
// length prefix (max 255 bytes) and the SubmitScore history payload a 2-byte
// big-endian prefix. Tags are part of the protocol and must not be renumbered
// without a version bump of the room-key salt.
package wire

// Wire type tags.
const (
	TagJoinRoom         byte = 0x01
	TagRoomJoined       byte = 0x02
	TagTournamentUpdate byte = 0x03 // reserved, payload undefined
	TagAssignMatch      byte = 0x04
	TagMatchAccepted    byte = 0x05
	TagMatchUnassigned  byte = 0x06
	TagSubmitScore      byte = 0x07
	TagApproveScore     byte = 0x08
	TagRejectScore      byte = 0x09
	TagRequestState     byte = 0x0A // reserved, payload undefined
	TagRoomClosed       byte = 0x0B
)

// MaxStringLen is the longest encodable string field.
const MaxStringLen = 255

// MaxHistoryLen is the longest encodable match-history payload.
const MaxHistoryLen = 65535

var (
	ErrUnknownTag    = errf("wire: unknown message tag")
	ErrReservedTag   = errf("wire: reserved tag has no payload format")
	ErrShortBuffer   = errf("wire: truncated message")
	ErrTrailingBytes = errf("wire: trailing bytes after message")
	ErrStringTooLong = errf("wire: string field exceeds 255 bytes")
	ErrHistoryTooBig = errf("wire: history payload exceeds 65535 bytes")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
