package identity

import (
	"context"
	"time"
)

// Principal is an authenticatable account.
// PasswordHash never leaves the server.
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	RoleIDs      []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role is a named bundle of permission names ("resource:action").
type Role struct {
	ID          string
	Name        string
	Permissions []string
}

// PrincipalSummary is the administrative view of a principal with its role
// names resolved.
type PrincipalSummary struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPrincipal describes a principal to create. PasswordHash is already
// hashed; Email is normalized by the store.
type NewPrincipal struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Now          time.Time
}

// Directory is the read side consumed by the session engine.
//
// PrincipalByEmail and PrincipalByID return a NotFoundError when absent.
// Permissions returns the deduplicated, sorted union of the permission names
// of every role assigned to the principal.
type Directory interface {
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	PrincipalByID(ctx context.Context, id string) (Principal, error)
	Permissions(ctx context.Context, principalID string) ([]string, error)
}

// Store is the full persistence boundary for principals and roles.
type Store interface {
	Directory

	// CreatePrincipal returns a ConflictError{Field: "email"} when the
	// normalized email already exists.
	CreatePrincipal(ctx context.Context, in NewPrincipal) (Principal, error)

	// ListPrincipals returns one page and the total number of matches.
	ListPrincipals(ctx context.Context, q ListQuery) ([]PrincipalSummary, int, error)

	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name string, permissions []string, now time.Time) (Role, error)

	// SetPrincipalRoles replaces the principal's role set atomically.
	SetPrincipalRoles(ctx context.Context, principalID string, roleIDs []string, now time.Time) error
}
