package lifecycle

import (
	"crypto/rand"
)

const (
	idLength   = 16
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	// largest multiple of len(idAlphabet) that fits a byte; bytes above it are rejected
	idCutoff = 252
)

// NewID returns a random 16 character lowercase alphanumeric document id.
func NewID() string {
	out := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, b := range buf {
			if b >= idCutoff {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out)
}
