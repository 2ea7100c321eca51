package bootstrap

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the lowercase hex-encoded SHA-256 digest of canonical
// bytes produced by Canonicalize.
func Digest(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
