package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/security/token"
)

// PasswordVerifier compares a plaintext password with a stored hash in
// constant time.
type PasswordVerifier interface {
	Verify(encodedHash, password string) (bool, error)
}

// Principal is the identity snapshot returned with issued credentials.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
}

// Issued is the result of Login and Refresh.
type Issued struct {
	Principal    Principal
	Permissions  []string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
}

// Service runs the credential lifecycle:
//
//	anonymous --Login--> authenticated --Refresh--> refreshed --Refresh--> ...
//	any live state --Logout--> logged out
//
// Expiry is never tracked actively; it is detected when a credential is
// presented.
type Service struct {
	cfg       Config
	directory identity.Directory
	store     CredentialStore
	tokens    TokenCodec
	passwords PasswordVerifier

	keys      token.Hasher
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
	dummyHash string
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyHasher sets how refresh identifiers map to store keys
// (default unkeyed SHA-256).
func WithKeyHasher(h token.Hasher) Option {
	return func(s *Service) { s.keys = h }
}

// WithDummyHash sets a hash verified when the email is unknown so that the
// unknown-account path costs the same as a wrong password.
func WithDummyHash(h string) Option {
	return func(s *Service) { s.dummyHash = h }
}

// NewService wires a Service. The directory is the only source of principal
// data; nothing is cached between calls.
func NewService(cfg Config, directory identity.Directory, store CredentialStore, tokens TokenCodec, passwords PasswordVerifier, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		directory: directory,
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates email and password and opens a new refresh credential.
// Unknown email and wrong password both fail with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (out Issued, err error) {
	const op = "session.Login"
	defer func(start time.Time) { s.metrics.observe("login", start, err) }(time.Now())

	p, err := s.directory.PrincipalByEmail(ctx, identity.NormalizeEmail(email))
	if identity.IsNotFound(err) {
		if s.dummyHash != "" {
			_, _ = s.passwords.Verify(s.dummyHash, password)
		}
		s.log.InfoContext(ctx, "auth.login.fail", "reason", "unknown_email")
		return Issued{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if err != nil {
		return Issued{}, err
	}

	ok, err := s.passwords.Verify(p.PasswordHash, password)
	if err != nil {
		// A stored hash we cannot parse is a data problem, not the caller's.
		s.log.ErrorContext(ctx, "auth.login.bad_hash", "principal_id", p.ID, "err", err)
		return Issued{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	if !ok {
		s.log.InfoContext(ctx, "auth.login.fail", "reason", "password_mismatch", "principal_id", p.ID)
		return Issued{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	perms, err := s.directory.Permissions(ctx, p.ID)
	if err != nil {
		return Issued{}, err
	}

	out, err = s.issue(ctx, op, p, perms)
	if err != nil {
		return Issued{}, err
	}
	s.log.InfoContext(ctx, "auth.login.ok", "principal_id", p.ID)
	return out, nil
}

// Refresh rotates a refresh credential. The presented credential is consumed
// before anything else happens, so it can never be used twice; a replay or a
// losing concurrent refresh fails with ErrInvalidRefreshToken.
//
// Permissions are re-read from the directory, so role changes made since the
// last issuance take effect here.
func (s *Service) Refresh(ctx context.Context, refreshID string) (out Issued, err error) {
	const op = "session.Refresh"
	defer func(start time.Time) { s.metrics.observe("refresh", start, err) }(time.Now())

	refreshID = strings.TrimSpace(refreshID)
	if refreshID == "" || len(refreshID) > maxRefreshIDLen {
		return Issued{}, OpError{Op: op, Kind: ErrInvalidRefreshToken}
	}

	cred, err := s.store.Consume(ctx, s.keys.Hex(refreshID))
	if errors.Is(err, ErrCredentialNotFound) {
		return Issued{}, OpError{Op: op, Kind: ErrInvalidRefreshToken}
	}
	if err != nil {
		return Issued{}, err
	}

	if !cred.Valid(s.now()) {
		s.log.InfoContext(ctx, "auth.refresh.expired", "principal_id", cred.PrincipalID)
		return Issued{}, OpError{Op: op, Kind: ErrRefreshTokenExpired}
	}

	p, err := s.directory.PrincipalByID(ctx, cred.PrincipalID)
	if identity.IsNotFound(err) {
		s.log.ErrorContext(ctx, "auth.refresh.orphan_credential", "principal_id", cred.PrincipalID)
		return Issued{}, OpError{Op: op, Kind: ErrIntegrity, Err: err}
	}
	if err != nil {
		return Issued{}, err
	}

	perms, err := s.directory.Permissions(ctx, p.ID)
	if err != nil {
		return Issued{}, err
	}

	return s.issue(ctx, op, p, perms)
}

// Logout deletes the refresh credential. Unknown, expired, or empty
// identifiers succeed.
func (s *Service) Logout(ctx context.Context, refreshID string) (err error) {
	defer func(start time.Time) { s.metrics.observe("logout", start, err) }(time.Now())

	refreshID = strings.TrimSpace(refreshID)
	if refreshID == "" || len(refreshID) > maxRefreshIDLen {
		return nil
	}
	return s.store.Delete(ctx, s.keys.Hex(refreshID))
}

// VerifyAccessToken checks signature, structure, and expiry of an access
// token. It does not consult the directory or the credential store.
func (s *Service) VerifyAccessToken(accessToken string) (Payload, error) {
	p, err := s.tokens.Verify(strings.TrimSpace(accessToken), s.now())
	if err != nil {
		return Payload{}, fmt.Errorf("session.VerifyAccessToken: %w", err)
	}
	return p, nil
}

// SweepExpired removes every expired credential when the store supports it.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	sw, ok := s.store.(ExpiredSweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.DeleteExpired(ctx, s.now())
	s.metrics.addSwept(n)
	return n, err
}

func (s *Service) issue(ctx context.Context, op string, p identity.Principal, perms []string) (Issued, error) {
	now := s.now()
	perms = normalizePermissions(perms)

	access, accessExp, err := s.tokens.Issue(Payload{
		PrincipalID: p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Permissions: perms,
	}, now, s.cfg.AccessTokenTTL)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: issue access token: %w", op, err)
	}

	refreshID, err := newRefreshID(s.cfg.RefreshTokenBytes)
	if err != nil {
		return Issued{}, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	if err := s.store.Create(ctx, Credential{
		IDHash:      s.keys.Hex(refreshID),
		PrincipalID: p.ID,
		CreatedAt:   now,
		ExpiresAt:   refreshExp,
	}); err != nil {
		return Issued{}, err
	}

	// Housekeeping only: a failed sweep never fails the caller.
	if n, err := s.store.DeleteExpiredForPrincipal(ctx, p.ID, now); err != nil {
		s.log.WarnContext(ctx, "session.sweep.fail", "principal_id", p.ID, "err", err)
	} else {
		s.metrics.addSwept(n)
	}

	return Issued{
		Principal:    Principal{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName},
		Permissions:  perms,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refreshID,
		RefreshExp:   refreshExp,
	}, nil
}
