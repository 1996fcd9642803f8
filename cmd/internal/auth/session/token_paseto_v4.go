package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const (
	pasetoV4PublicHeader = "v4.public."
	ed25519SignatureSize = 64

	claimEmail       = "email"
	claimName        = "name"
	claimPermissions = "perms"
)

// PasetoV4Codec is a TokenCodec producing PASETO v4.public tokens signed
// with Ed25519.
type PasetoV4Codec struct {
	issuer string
	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Codec loads the secret key from cfg.PasetoV4SecretKeyHex.
func NewPasetoV4Codec(cfg Config) (*PasetoV4Codec, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: paseto secret key: %v", ErrConfig, err)
	}
	return &PasetoV4Codec{
		issuer: cfg.Issuer,
		secret: secret,
		public: secret.Public(),
	}, nil
}

// PublicKeyHex exports the verification key for out-of-process verifiers.
func (c *PasetoV4Codec) PublicKeyHex() string {
	return c.public.ExportHex()
}

func (c *PasetoV4Codec) Issue(p Payload, now time.Time, ttl time.Duration) (string, time.Time, error) {
	iat, exp := expiresAt(now, ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(p.PrincipalID)
	tok.SetIssuedAt(iat)
	tok.SetNotBefore(iat)
	tok.SetExpiration(exp)

	if err := tok.Set(claimEmail, p.Email); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set(claimName, p.DisplayName); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set(claimPermissions, normalizePermissions(p.Permissions)); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(c.secret, nil), exp, nil
}

func (c *PasetoV4Codec) Verify(token string, now time.Time) (Payload, error) {
	if err := checkPasetoShape(token); err != nil {
		return Payload{}, err
	}

	// Expiry is checked below so that an expired token is told apart from a
	// forged one.
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.IssuedBy(c.issuer))

	parsed, err := parser.ParseV4Public(c.public, token, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Payload{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return Payload{}, fmt.Errorf("%w: missing expiration", ErrTokenMalformed)
	}
	iat, _ := parsed.GetIssuedAt()

	out := Payload{PrincipalID: sub, IssuedAt: iat, ExpiresAt: exp}
	out.Email, _ = parsed.GetString(claimEmail)
	out.DisplayName, _ = parsed.GetString(claimName)
	if err := parsed.Get(claimPermissions, &out.Permissions); err != nil {
		return Payload{}, fmt.Errorf("%w: permissions claim", ErrTokenMalformed)
	}
	if out.Permissions == nil {
		out.Permissions = []string{}
	}

	if !exp.After(now) {
		return Payload{}, ErrTokenExpired
	}
	return out, nil
}

// checkPasetoShape rejects anything that is not structurally a v4.public
// token before any cryptography runs.
func checkPasetoShape(token string) error {
	body, ok := strings.CutPrefix(token, pasetoV4PublicHeader)
	if !ok {
		return fmt.Errorf("%w: not a v4.public token", ErrTokenMalformed)
	}
	payload, _, _ := strings.Cut(body, ".")
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: payload encoding", ErrTokenMalformed)
	}
	if len(raw) <= ed25519SignatureSize {
		return fmt.Errorf("%w: payload too short", ErrTokenMalformed)
	}
	return nil
}
