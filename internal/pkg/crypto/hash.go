package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString calculates a truncated SHA256 hash of a string, suitable for
// short correlation ids and cache-busting tags where collision risk is
// not security-relevant.
func HashString(s string) string {
	h := sha256.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// HashBytes returns the full, untruncated hex-encoded SHA256 digest of b.
// The Orchestrator uses this to compute an image id from the guest ELF
// bytes it reads from the Blob Store Client; unlike HashString, the full
// digest is required here because it is compared byte-for-byte against
// the job's claimed image id.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
