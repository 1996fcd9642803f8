package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// PasswordHasher produces a storable hash for a new password. It enforces
// its own policy and may return a policy error.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// RegisterInput is an administrative registration request.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,min=6,max=256"`
	Name     string `json:"name" validate:"required,max=200"`
}

// SetRolesInput replaces a principal's role assignment.
type SetRolesInput struct {
	PrincipalID string   `json:"userId" validate:"required,ulid"`
	RoleIDs     []string `json:"roleIds" validate:"omitempty,dive,ulid"`
}

// Service implements the administrative operations over a Store.
type Service struct {
	store    Store
	hasher   PasswordHasher
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires a Service. A nil logger falls back to slog.Default().
func NewService(store Store, hasher PasswordHasher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		hasher:   hasher,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a principal with no roles. A taken email yields a
// ConflictError with Field "email".
func (s *Service) Register(ctx context.Context, in RegisterInput) (Principal, error) {
	const op = "identity.Register"

	in.Email = NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return Principal{}, invalid(op, validationMessage(err))
	}

	// Cheap pre-check; the unique constraint still decides races.
	if _, err := s.store.PrincipalByEmail(ctx, in.Email); err == nil {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	} else if !IsNotFound(err) {
		return Principal{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Principal{}, invalid(op, err.Error())
	}

	p, err := s.store.CreatePrincipal(ctx, NewPrincipal{
		Email:        in.Email,
		DisplayName:  in.Name,
		PasswordHash: hash,
		Now:          s.now(),
	})
	if err != nil {
		return Principal{}, err
	}

	s.log.InfoContext(ctx, "identity.register.ok", "principal_id", p.ID)
	return p, nil
}

// ListPrincipals returns one page of principals and the total match count.
func (s *Service) ListPrincipals(ctx context.Context, q ListQuery) ([]PrincipalSummary, int, error) {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(q.Limit, maxPageSize)
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.store.ListPrincipals(ctx, q)
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// CreateRole adds a role with the given permission names.
func (s *Service) CreateRole(ctx context.Context, name string, permissions []string) (Role, error) {
	return s.store.CreateRole(ctx, name, permissions, s.now())
}

// SetPrincipalRoles replaces the principal's roles. Live access tokens keep
// the old permissions until the principal's next refresh.
func (s *Service) SetPrincipalRoles(ctx context.Context, in SetRolesInput) error {
	const op = "identity.SetPrincipalRoles"

	in.PrincipalID = strings.TrimSpace(in.PrincipalID)
	if err := s.validate.Struct(in); err != nil {
		return invalid(op, validationMessage(err))
	}
	if err := s.store.SetPrincipalRoles(ctx, in.PrincipalID, in.RoleIDs, s.now()); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "identity.roles.set", "principal_id", in.PrincipalID, "role_count", len(in.RoleIDs))
	return nil
}

// validationMessage renders validator errors as "field: tag" pairs without
// echoing submitted values.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
