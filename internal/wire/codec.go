package wire

import "encoding/binary"

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	b := &builder{buf: make([]byte, 0, 64)}
	switch v := m.(type) {
	case JoinRoom:
		b.u8(TagJoinRoom)
		b.str(v.DeviceID)
		b.str(v.DeviceName)
	case RoomJoined:
		b.u8(TagRoomJoined)
		b.str(v.MasterID)
		b.str(v.MasterName)
		b.str(v.TournamentName)
	case AssignMatch:
		b.u8(TagAssignMatch)
		b.str(v.MatchID)
		b.str(v.HomePlayer)
		b.str(v.AwayPlayer)
		b.u8(v.Generation)
		b.u8(v.Format)
	case MatchAccepted:
		b.u8(TagMatchAccepted)
		b.str(v.MatchID)
		b.str(v.DeviceID)
	case MatchUnassigned:
		b.u8(TagMatchUnassigned)
		b.str(v.MatchID)
	case SubmitScore:
		b.u8(TagSubmitScore)
		b.str(v.MatchID)
		b.str(v.DeviceID)
		b.str(v.WinnerID)
		b.u8(v.HomeScore)
		b.u8(v.AwayScore)
		b.history(v.History)
	case ApproveScore:
		b.u8(TagApproveScore)
		b.str(v.MatchID)
	case RejectScore:
		b.u8(TagRejectScore)
		b.str(v.MatchID)
		b.str(v.Reason)
	case RoomClosed:
		b.u8(TagRoomClosed)
	default:
		return nil, ErrUnknownTag
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.buf, nil
}

// Decode parses one message from buf. It never reads out of bounds: any
// truncated or malformed input yields an error and a nil message. The input
// is not modified; History slices are copied out of buf.
func Decode(buf []byte) (Message, error) {
	r := &reader{buf: buf}
	tag := r.u8()
	if r.err != nil {
		return nil, r.err
	}

	var m Message
	switch tag {
	case TagJoinRoom:
		m = JoinRoom{DeviceID: r.str(), DeviceName: r.str()}
	case TagRoomJoined:
		m = RoomJoined{MasterID: r.str(), MasterName: r.str(), TournamentName: r.str()}
	case TagAssignMatch:
		m = AssignMatch{
			MatchID:    r.str(),
			HomePlayer: r.str(),
			AwayPlayer: r.str(),
			Generation: r.u8(),
			Format:     r.u8(),
		}
	case TagMatchAccepted:
		m = MatchAccepted{MatchID: r.str(), DeviceID: r.str()}
	case TagMatchUnassigned:
		m = MatchUnassigned{MatchID: r.str()}
	case TagSubmitScore:
		m = SubmitScore{
			MatchID:   r.str(),
			DeviceID:  r.str(),
			WinnerID:  r.str(),
			HomeScore: r.u8(),
			AwayScore: r.u8(),
			History:   r.history(),
		}
	case TagApproveScore:
		m = ApproveScore{MatchID: r.str()}
	case TagRejectScore:
		m = RejectScore{MatchID: r.str(), Reason: r.str()}
	case TagRoomClosed:
		m = RoomClosed{}
	case TagTournamentUpdate, TagRequestState:
		return nil, ErrReservedTag
	default:
		return nil, ErrUnknownTag
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(r.buf) {
		return nil, ErrTrailingBytes
	}
	return m, nil
}

// builder appends fields, latching the first error.
type builder struct {
	buf []byte
	err error
}

func (b *builder) u8(v byte) {
	if b.err != nil {
		return
	}
	b.buf = append(b.buf, v)
}

func (b *builder) str(s string) {
	if b.err != nil {
		return
	}
	if len(s) > MaxStringLen {
		b.err = ErrStringTooLong
		return
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *builder) history(p []byte) {
	if b.err != nil {
		return
	}
	if len(p) > MaxHistoryLen {
		b.err = ErrHistoryTooBig
		return
	}
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(len(p)))
	b.buf = append(b.buf, p...)
}

// reader consumes fields, validating every length prefix against the
// remaining buffer before slicing.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.buf) {
		r.err = ErrShortBuffer
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) str() string {
	n := int(r.u8())
	if r.err != nil {
		return ""
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *reader) history() []byte {
	if r.err != nil {
		return nil
	}
	if r.off+2 > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	n := int(binary.BigEndian.Uint16(r.buf[r.off:]))
	r.off += 2
	if r.off+n > len(r.buf) {
		r.err = ErrShortBuffer
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out
}
