package session

import (
	"slices"
	"strings"
	"time"
)

// Payload is the verified content of an access token.
type Payload struct {
	PrincipalID string
	Email       string
	DisplayName string
	Permissions []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenCodec mints and verifies access tokens with a process-wide key.
//
// Issue stamps iat = now and exp = now + ttl, both at second precision.
// Verify fails with an error wrapping ErrTokenMalformed,
// ErrTokenInvalidSignature, or ErrTokenExpired. A token whose expiry equals
// now is expired. There is no clock-skew allowance.
type TokenCodec interface {
	Issue(p Payload, now time.Time, ttl time.Duration) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Payload, error)
}

// NewCodec builds the codec selected by cfg.TokenFormat.
func NewCodec(cfg Config) (TokenCodec, error) {
	if cfg.TokenFormat == FormatJWT {
		return NewJWTCodec(cfg)
	}
	return NewPasetoV4Codec(cfg)
}

// normalizePermissions trims, drops blanks, deduplicates, and sorts.
func normalizePermissions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// expiresAt rounds down to the codecs' second precision.
func expiresAt(now time.Time, ttl time.Duration) (iat, exp time.Time) {
	iat = now.UTC().Truncate(time.Second)
	exp = now.UTC().Add(ttl).Truncate(time.Second)
	return iat, exp
}
