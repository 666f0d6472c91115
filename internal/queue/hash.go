package queue

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashMessage reduces an error message to an 8-hex correlation hash.
// The raw message may contain addresses or provider payloads, so only
// the hash is ever persisted.
func HashMessage(message string) string {
	if message == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(message))
	return hex.EncodeToString(sum[:])[:8]
}
