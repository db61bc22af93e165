package pax

import (
	"crypto/rand"
	"encoding/binary"
)

// SaltSource draws a fresh epoch salt. The engine treats a failed draw
// at startup as fatal; a failed draw at rotation keeps the previous
// salt with a logged warning, never a zero or predictable value.
type SaltSource func() (uint32, error)

// RandomSalt reads four bytes from the system entropy pool.
func RandomSalt() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
