// Package frame seals codec payloads with a room-scoped integrity tag. A
// frame is payload || HMAC-SHA256(key, payload); verification failure is a
// single "not a message for this room" outcome, indistinguishable from
// foreign traffic.
package frame

import (
	"crypto/hmac"
	"crypto/sha256"

	"tournamesh/internal/roomkey"
)

// TagLen is the length of the appended authentication tag.
const TagLen = sha256.Size

// Seal wraps payload for transmission under the room credential.
func Seal(payload []byte, cred *roomkey.Credential) []byte {
	mac := hmac.New(sha256.New, cred.Key)
	mac.Write(payload)
	out := make([]byte, 0, len(payload)+TagLen)
	out = append(out, payload...)
	return mac.Sum(out)
}

// Open verifies a frame and returns the original payload. ok is false for
// anything that does not verify under this credential: short frames, foreign
// rooms, or tampered bytes.
func Open(f []byte, cred *roomkey.Credential) (payload []byte, ok bool) {
	if len(f) < TagLen {
		return nil, false
	}
	payload, tag := f[:len(f)-TagLen], f[len(f)-TagLen:]
	mac := hmac.New(sha256.New, cred.Key)
	mac.Write(payload)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, false
	}
	return payload, true
}
