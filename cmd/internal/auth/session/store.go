package session

import (
	"context"
	"time"
)

// Credential is a persisted refresh credential. IDHash is the storage key
// derived from the opaque identifier handed to the client; the identifier
// itself is never stored.
type Credential struct {
	IDHash      string
	PrincipalID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Valid reports whether the credential is still usable at now.
func (c Credential) Valid(now time.Time) bool {
	return c.ExpiresAt.After(now)
}

// CredentialStore persists refresh credentials.
//
// Implementations must be safe for concurrent use. Consume must be atomic:
// when several callers consume the same key concurrently exactly one of them
// receives the credential and the rest get ErrCredentialNotFound.
type CredentialStore interface {
	Create(ctx context.Context, c Credential) error

	// Find returns ErrCredentialNotFound when no row exists. It does not
	// filter expired rows.
	Find(ctx context.Context, idHash string) (Credential, error)

	// Delete is idempotent.
	Delete(ctx context.Context, idHash string) error

	// Consume removes the row and returns what it held.
	Consume(ctx context.Context, idHash string) (Credential, error)

	// DeleteExpiredForPrincipal removes the principal's rows whose expiry is
	// not after now and reports how many were removed.
	DeleteExpiredForPrincipal(ctx context.Context, principalID string, now time.Time) (int64, error)
}

// ExpiredSweeper is implemented by stores that can drop every expired row
// in one pass.
type ExpiredSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
