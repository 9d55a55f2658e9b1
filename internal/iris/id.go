package iris

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateID generates a random ID with the given type prefix, e.g.
// "run-1f8a4c09d2b7e631".
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
