package bootstrap

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrKeyNotFound is returned by FindKey when no key file exists under
// dir or any of its searched parents.
var ErrKeyNotFound = errors.New("bootstrap: key not found")

// FindKey searches dir, then up to three parent directories, for
// <keyId>.ed25519.pub and returns its decoded 32-byte raw public key.
// A file that exists but fails to decode returns a wrapped error other
// than ErrKeyNotFound.
func FindKey(dir, keyID string) (ed25519.PublicKey, error) {
	name := keyID + ".ed25519.pub"
	candidate := dir
	for i := 0; i <= 3; i++ {
		path := filepath.Join(candidate, name)
		if raw, err := os.ReadFile(path); err == nil {
			return decodePublicKey(raw)
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			break
		}
		candidate = parent
	}
	return nil, fmt.Errorf("%w: %q under %s or its parents", ErrKeyNotFound, name, dir)
}

func decodePublicKey(raw []byte) (ed25519.PublicKey, error) {
	key, err := decodeBase64Tolerant(string(raw))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: decoding public key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bootstrap: public key has %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(key), nil
}

// decodeBase64Tolerant accepts standard base64 with or without padding.
func decodeBase64Tolerant(s string) ([]byte, error) {
	trimmed := trimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
