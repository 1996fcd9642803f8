package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc       *Service
	dir       *identity.MemoryStore
	creds     *MemoryStore
	clock     *fakeClock
	alice     identity.Principal
	readerID  string
	writerID  string
	passwords password.Config
}

const alicePassword = "correct horse battery"

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		dir:       identity.NewMemoryStore(),
		creds:     NewMemoryStore(),
		clock:     &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		passwords: cheapPasswords(),
	}

	reader, err := f.dir.CreateRole(ctx, "reader", []string{"admin:read", "doc:read"}, f.clock.Now())
	require.NoError(t, err)
	writer, err := f.dir.CreateRole(ctx, "writer", []string{"doc:read", "doc:write"}, f.clock.Now())
	require.NoError(t, err)
	f.readerID, f.writerID = reader.ID, writer.ID

	hash, err := f.passwords.Hash(alicePassword)
	require.NoError(t, err)
	f.alice, err = f.dir.CreatePrincipal(ctx, identity.NewPrincipal{
		Email:        "alice@example.com",
		DisplayName:  "Alice",
		PasswordHash: hash,
		Now:          f.clock.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, f.dir.SetPrincipalRoles(ctx, f.alice.ID, []string{reader.ID, writer.ID}, f.clock.Now()))

	dummy, err := f.passwords.DummyHash()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = testPasetoKeyHex
	codec, err := NewCodec(cfg)
	require.NoError(t, err)

	base := []Option{WithClock(f.clock.Now), WithDummyHash(dummy)}
	f.svc = NewService(cfg, f.dir, f.creds, codec, f.passwords, append(base, opts...)...)
	return f
}

func (f *fixture) login(t *testing.T) Issued {
	t.Helper()
	out, err := f.svc.Login(context.Background(), "alice@example.com", alicePassword)
	require.NoError(t, err)
	return out
}

func TestLogin_IssuesUnionOfRolePermissions(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Login(context.Background(), "  ALICE@Example.com ", alicePassword)
	require.NoError(t, err)

	assert.Equal(t, f.alice.ID, out.Principal.ID)
	assert.Equal(t, "alice@example.com", out.Principal.Email)
	assert.Equal(t, "Alice", out.Principal.DisplayName)
	assert.Equal(t, []string{"admin:read", "doc:read", "doc:write"}, out.Permissions)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), out.AccessExp)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), out.RefreshExp)
	assert.NotEmpty(t, out.RefreshToken)
	assert.Equal(t, 1, f.creds.Len())

	payload, err := f.svc.VerifyAccessToken(out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, payload.PrincipalID)
	assert.Equal(t, out.Permissions, payload.Permissions)
}

func TestLogin_RefreshIdentifierIsNotStored(t *testing.T) {
	keys := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	f := newFixture(t, WithKeyHasher(keys))
	out := f.login(t)

	_, err := f.creds.Find(context.Background(), out.RefreshToken)
	require.ErrorIs(t, err, ErrCredentialNotFound)

	c, err := f.creds.Find(context.Background(), keys.Hex(out.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, c.PrincipalID)
}

func TestLogin_UnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", alicePassword)
	_, errWrong := f.svc.Login(ctx, "alice@example.com", "not the password")

	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.Equal(t, CodeInvalidCredentials, Code(errUnknown))
	assert.True(t, IsClientError(errWrong))
	assert.Zero(t, f.creds.Len())
}

func TestLogin_UnparseableStoredHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.CreatePrincipal(ctx, identity.NewPrincipal{
		Email:        "bob@example.com",
		DisplayName:  "Bob",
		PasswordHash: "$argon2id$garbage",
	})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "bob@example.com", "whatever1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_PrincipalWithoutRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.SetPrincipalRoles(ctx, f.alice.ID, nil, f.clock.Now()))

	out := f.login(t)
	assert.NotNil(t, out.Permissions)
	assert.Empty(t, out.Permissions)
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t)

	f.clock.Advance(time.Hour)
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), second.RefreshExp)
	assert.Equal(t, first.Permissions, second.Permissions)
	assert.Equal(t, 1, f.creds.Len())

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	assert.Equal(t, CodeInvalidRefreshToken, Code(err))

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_UnknownAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"", "   ", "does-not-exist", string(make([]byte, 1024))} {
		_, err := f.svc.Refresh(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	}
}

func TestRefresh_ExpiredIsRemoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.login(t)

	f.clock.Advance(7*24*time.Hour - time.Second)
	_, err := f.svc.VerifyAccessToken(out.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	f.clock.Advance(time.Second)
	_, err = f.svc.Refresh(ctx, out.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenExpired)
	assert.Zero(t, f.creds.Len())

	_, err = f.svc.Refresh(ctx, out.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_PicksUpRoleChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.login(t)

	require.NoError(t, f.dir.SetPrincipalRoles(ctx, f.alice.ID, []string{f.writerID}, f.clock.Now()))

	// Live access tokens keep what they were issued with.
	payload, err := f.svc.VerifyAccessToken(out.AccessToken)
	require.NoError(t, err)
	assert.Contains(t, payload.Permissions, "admin:read")

	next, err := f.svc.Refresh(ctx, out.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:read", "doc:write"}, next.Permissions)

	payload, err = f.svc.VerifyAccessToken(next.AccessToken)
	require.NoError(t, err)
	assert.NotContains(t, payload.Permissions, "admin:read")
}

func TestRefresh_RevokingAllRolesEmptiesPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.login(t)
	require.NotEmpty(t, out.Permissions)

	require.NoError(t, f.dir.SetPrincipalRoles(ctx, f.alice.ID, nil, f.clock.Now()))

	next, err := f.svc.Refresh(ctx, out.RefreshToken)
	require.NoError(t, err)
	assert.NotNil(t, next.Permissions)
	assert.Empty(t, next.Permissions)

	payload, err := f.svc.VerifyAccessToken(next.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, payload.Permissions)
}

type vanishingDirectory struct {
	identity.Directory
	gone string
}

func (d vanishingDirectory) PrincipalByID(ctx context.Context, id string) (identity.Principal, error) {
	if id == d.gone {
		return identity.Principal{}, identity.NotFoundError{Op: "test.PrincipalByID", Resource: "principal"}
	}
	return d.Directory.PrincipalByID(ctx, id)
}

func TestRefresh_OrphanCredentialIsIntegrityError(t *testing.T) {
	f := newFixture(t)
	out := f.login(t)

	cfg := DefaultConfig()
	codec := pasetoCodec(t, cfg.Issuer, testPasetoKeyHex)
	svc := NewService(cfg, vanishingDirectory{Directory: f.dir, gone: f.alice.ID}, f.creds, codec, f.passwords, WithClock(f.clock.Now))

	_, err := svc.Refresh(context.Background(), out.RefreshToken)
	require.ErrorIs(t, err, ErrIntegrity)
	assert.True(t, identity.IsNotFound(err))
	assert.Equal(t, CodeIntegrity, Code(err))
	assert.False(t, IsClientError(err))
}

func TestRefresh_ConcurrentUseHasOneWinner(t *testing.T) {
	f := newFixture(t)
	out := f.login(t)

	var wins, losses atomic.Int32
	var g errgroup.Group
	for range 12 {
		g.Go(func() error {
			_, err := f.svc.Refresh(context.Background(), out.RefreshToken)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrInvalidRefreshToken):
				losses.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 11, losses.Load())
	assert.Equal(t, 1, f.creds.Len())
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out := f.login(t)

	require.NoError(t, f.svc.Logout(ctx, out.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, out.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, ""))
	require.NoError(t, f.svc.Logout(ctx, "never-issued"))
	assert.Zero(t, f.creds.Len())

	_, err := f.svc.Refresh(ctx, out.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_LeavesOtherSessionsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	laptop := f.login(t)
	phone := f.login(t)

	require.NoError(t, f.svc.Logout(ctx, laptop.RefreshToken))

	_, err := f.svc.Refresh(ctx, phone.RefreshToken)
	require.NoError(t, err)
}

func TestLogin_SweepsExpiredCredentials(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.login(t)
	require.Equal(t, 2, f.creds.Len())

	f.clock.Advance(8 * 24 * time.Hour)
	f.login(t)
	assert.Equal(t, 1, f.creds.Len())
}

type failingSweepStore struct {
	*MemoryStore
}

func (failingSweepStore) DeleteExpiredForPrincipal(context.Context, string, time.Time) (int64, error) {
	return 0, errors.New("sweep unavailable")
}

func TestLogin_SweepFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	store := failingSweepStore{MemoryStore: NewMemoryStore()}

	cfg := DefaultConfig()
	codec := pasetoCodec(t, cfg.Issuer, testPasetoKeyHex)
	svc := NewService(cfg, f.dir, store, codec, f.passwords, WithClock(f.clock.Now))

	out, err := svc.Login(context.Background(), "alice@example.com", alicePassword)
	require.NoError(t, err)
	assert.NotEmpty(t, out.RefreshToken)
	assert.Equal(t, 1, store.Len())
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.clock.Advance(7 * 24 * time.Hour)

	n, err := f.svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, f.creds.Len())
}

func TestVerifyAccessToken_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.VerifyAccessToken("garbage")
	require.ErrorIs(t, err, ErrTokenMalformed)
	assert.Equal(t, CodeTokenMalformed, Code(err))

	forged, _, err := jwtCodec(t, "gatehouse", testJWTSecret).Issue(testPayload(), f.clock.Now(), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.VerifyAccessToken(forged)
	require.ErrorIs(t, err, ErrTokenMalformed)

	foreign := pasetoCodec(t, "gatehouse", paseto.NewV4AsymmetricSecretKey().ExportHex())
	tok, _, err := foreign.Issue(testPayload(), f.clock.Now(), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.VerifyAccessToken(tok)
	require.ErrorIs(t, err, ErrTokenInvalidSignature)
	assert.True(t, IsClientError(err))
}

func TestService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(t, WithMetrics(m))
	ctx := context.Background()

	out := f.login(t)
	_, _ = f.svc.Login(ctx, "alice@example.com", "wrong password")
	_, _ = f.svc.Refresh(ctx, out.RefreshToken)
	_, _ = f.svc.Refresh(ctx, out.RefreshToken)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("login", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("login", CodeInvalidCredentials)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("refresh", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("refresh", CodeInvalidRefreshToken)))

	// A second registration on the same registry reuses the collectors.
	again, err := NewMetrics(reg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(again.ops.WithLabelValues("login", "ok")))
}
