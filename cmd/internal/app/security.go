package app

import (
	"errors"
	"fmt"

	"gatehouse/cmd/security/token"
)

// keyHasher builds the refresh-key hasher and enforces the HMAC policy.
// Falling back to plain SHA-256 while the policy is on would be silent, so
// it is a startup error instead.
func keyHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("%w: GATEHOUSE_REQUIRE_TOKEN_HMAC=true but %s is not set", ErrConfig, token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("%w: %s must be at least %d bytes", ErrConfig, token.HMACEnvKey, token.MinHMACKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, fmt.Errorf("%w: refresh key hasher is not in HMAC mode", ErrConfig)
	}
	return h, nil
}
