package frame

import (
	"bytes"
	"testing"

	"tournamesh/internal/roomkey"
)

func cred(t *testing.T, code string) *roomkey.Credential {
	t.Helper()
	c, err := roomkey.Derive(code)
	if err != nil {
		t.Fatalf("Derive(%q): %v", code, err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := cred(t, "123456")
	for _, payload := range [][]byte{nil, {}, {0x01}, bytes.Repeat([]byte{0xAA}, 512)} {
		f := Seal(payload, c)
		got, ok := Open(f, c)
		if !ok {
			t.Fatalf("Open rejected a valid frame (payload len %d)", len(payload))
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: got %x want %x", got, payload)
		}
	}
}

func TestOpenRejectsForeignRoom(t *testing.T) {
	a := cred(t, "111111")
	codes := []string{"111112", "222222", "000000", "999999"}
	f := Seal([]byte("assign m1"), a)
	for _, code := range codes {
		b := cred(t, code)
		if _, ok := Open(f, b); ok {
			t.Fatalf("frame sealed under 111111 verified under %s", code)
		}
	}
}

func TestOpenRejectsBitFlips(t *testing.T) {
	c := cred(t, "123456")
	f := Seal([]byte("submit m1 2-1"), c)
	for i := 0; i < len(f); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), f...)
			mutated[i] ^= 1 << bit
			if _, ok := Open(mutated, c); ok {
				t.Fatalf("bit flip at byte %d bit %d still verified", i, bit)
			}
		}
	}
}

func TestOpenRejectsShortFrames(t *testing.T) {
	c := cred(t, "123456")
	for n := 0; n < TagLen; n++ {
		if _, ok := Open(make([]byte, n), c); ok {
			t.Fatalf("frame of %d bytes verified", n)
		}
	}
}
