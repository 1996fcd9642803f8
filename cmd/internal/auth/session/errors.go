package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so that callers cannot probe for accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken is returned when a refresh credential is
	// unknown, already rotated, or logged out.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrRefreshTokenExpired is returned when a refresh credential exists but
	// its expiry is not after now. The row is removed as a side effect.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenExpired          = errors.New("token expired")

	// ErrIntegrity reports a live refresh credential whose principal no
	// longer exists in the directory.
	ErrIntegrity = errors.New("integrity violation")

	// ErrCredentialNotFound is returned by CredentialStore lookups.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// OpError ties a failure kind to the operation that produced it. Err is the
// underlying cause when there is one.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Stable failure codes for transports and logs.
const (
	CodeInvalidCredentials    = "invalid_credentials"
	CodeInvalidRefreshToken   = "invalid_refresh_token"
	CodeRefreshTokenExpired   = "refresh_token_expired"
	CodeTokenInvalidSignature = "token_invalid_signature"
	CodeTokenMalformed        = "token_malformed"
	CodeTokenExpired          = "token_expired"
	CodeIntegrity             = "integrity_violation"
	CodeInternal              = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrInvalidRefreshToken, CodeInvalidRefreshToken},
	{ErrRefreshTokenExpired, CodeRefreshTokenExpired},
	{ErrTokenInvalidSignature, CodeTokenInvalidSignature},
	{ErrTokenMalformed, CodeTokenMalformed},
	{ErrTokenExpired, CodeTokenExpired},
	{ErrIntegrity, CodeIntegrity},
}

// Code maps err to its stable code. Nil maps to "" and anything unknown to
// CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// IsClientError reports whether err is caused by the presented credentials
// rather than by the server or a collaborator.
func IsClientError(err error) bool {
	switch Code(err) {
	case "", CodeInternal, CodeIntegrity:
		return false
	}
	return true
}
