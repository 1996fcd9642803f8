package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

const (
	// HMACEnvKey names the env var holding the refresh-id HMAC key.
	// #nosec G101 -- variable name, not a credential.
	HMACEnvKey = "GATEHOUSE_TOKEN_HMAC_KEY"

	// MinHMACKeyBytes is the shortest key accepted in required mode.
	MinHMACKeyBytes = 32
)

// Hasher maps plaintext refresh identifiers to storage keys.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a keyed Hasher. A nil or empty key yields SHA-256 mode.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from HMACEnvKey. With require set, a missing
// key or one shorter than MinHMACKeyBytes is an error.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	switch {
	case raw == "" && require:
		return Hasher{}, ErrHMACKeyMissing
	case raw == "":
		return Hasher{}, nil
	case require && len(raw) < MinHMACKeyBytes:
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// Keyed reports whether h uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hex returns the 64-char hex storage key for id.
func (h Hasher) Hex(id string) string {
	if !h.Keyed() {
		return SHA256Hex(id)
	}
	return HMACSHA256Hex(id, h.key)
}

// SHA256Hex returns the SHA-256 hex digest of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the HMAC-SHA256 hex digest of s under key.
func HMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
