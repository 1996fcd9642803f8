package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minJWTSecretBytes = 32

type jwtClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Permissions []string `json:"perms"`
}

// JWTCodec is a TokenCodec producing HS256 JWTs. It exists for clients
// that already consume the JWT access tokens issued by earlier deployments.
type JWTCodec struct {
	issuer string
	secret []byte
}

// NewJWTCodec uses cfg.JWTSecret as the HMAC key.
func NewJWTCodec(cfg Config) (*JWTCodec, error) {
	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return nil, fmt.Errorf("%w: jwt secret must be at least %d bytes", ErrConfig, minJWTSecretBytes)
	}
	return &JWTCodec{issuer: cfg.Issuer, secret: []byte(cfg.JWTSecret)}, nil
}

func (c *JWTCodec) Issue(p Payload, now time.Time, ttl time.Duration) (string, time.Time, error) {
	iat, exp := expiresAt(now, ttl)

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.PrincipalID,
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:       p.Email,
		Name:        p.DisplayName,
		Permissions: normalizePermissions(p.Permissions),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *JWTCodec) Verify(token string, now time.Time) (Payload, error) {
	var claims jwtClaims

	// Time claims are checked below against the caller's clock.
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Payload{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return Payload{}, fmt.Errorf("%w: %v", ErrTokenInvalidSignature, err)
	}

	if claims.Issuer != c.issuer {
		return Payload{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalidSignature)
	}
	if claims.Subject == "" {
		return Payload{}, fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if claims.ExpiresAt == nil {
		return Payload{}, fmt.Errorf("%w: missing expiration", ErrTokenMalformed)
	}

	out := Payload{
		PrincipalID: claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Permissions: claims.Permissions,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if out.Permissions == nil {
		out.Permissions = []string{}
	}

	if !out.ExpiresAt.After(now) {
		return Payload{}, ErrTokenExpired
	}
	return out, nil
}
