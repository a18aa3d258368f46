// Package roomkey derives the room-scoped authentication key from the shared
// 6-digit room code. Any device typing the same code derives the same key, so
// frames authenticate without a key exchange.
package roomkey

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// The salt pins keys to a protocol version: a device on a newer protocol
// never verifies frames from an older one, even with the same code.
const derivationSalt = "tournamesh/room-key/v1"

const (
	CodeLen = 6
	KeyLen  = 32

	pbkdf2Rounds = 4096
)

// Credential is the unit of trust for a tournament session. Two credentials
// are equal iff their codes are equal; the key is a pure function of the code.
type Credential struct {
	Code string
	Key  []byte
}

// Derive computes the credential for a room code.
func Derive(code string) (*Credential, error) {
	if !Validate(code) {
		return nil, fmt.Errorf("invalid room code %q: want %d ASCII digits", code, CodeLen)
	}
	key := pbkdf2.Key([]byte(code), []byte(derivationSalt), pbkdf2Rounds, KeyLen, sha256.New)
	return &Credential{Code: code, Key: key}, nil
}

// Generate creates a credential for a uniformly random 6-digit code. Every
// value 000000-999999 is a valid code, so no rejection loop is needed.
func Generate() (*Credential, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("generate room code: %w", err)
	}
	return Derive(fmt.Sprintf("%06d", n.Int64()))
}

// Validate reports whether code is exactly six ASCII digits.
func Validate(code string) bool {
	if len(code) != CodeLen {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
