package session

import (
	"crypto/rand"
	"encoding/base64"
)

// maxRefreshIDLen bounds input before hashing. A 64-byte identifier encodes
// to 86 characters.
const maxRefreshIDLen = 256

// newRefreshID returns nBytes of randomness, base64url without padding.
func newRefreshID(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
