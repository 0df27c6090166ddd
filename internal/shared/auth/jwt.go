package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 24 * time.Hour

// Claims represents the identity contained in a JWT.
type Claims struct {
	Sub   string
	Email string
	Exp   int64
	Iat   int64
}

var (
	ErrMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and verifies HS256 tokens with one shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier. Production environments must supply a
// secret; other environments fall back to a development secret.
func NewVerifier(secret, env string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if env == "production" {
			return nil, ErrMissingSecret
		}
		secret = "dev-secret"
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Sign issues a token for claims, filling iat and exp when unset.
func (v *Verifier) Sign(claims Claims) (string, error) {
	if claims.Sub == "" {
		return "", errors.New("sub is required")
	}
	now := v.now().UTC()
	iat, exp := now, now.Add(defaultTTL)
	if claims.Iat != 0 {
		iat = time.Unix(claims.Iat, 0)
	}
	if claims.Exp != 0 {
		exp = time.Unix(claims.Exp, 0)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Email: claims.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Sub,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return token.SignedString(v.secret)
}

// Verify checks the signature and expiry of token and returns its claims.
// Only HS256 is accepted.
func (v *Verifier) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || tc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{Sub: tc.Subject, Email: tc.Email}
	if tc.ExpiresAt != nil {
		out.Exp = tc.ExpiresAt.Unix()
	}
	if tc.IssuedAt != nil {
		out.Iat = tc.IssuedAt.Unix()
	}
	return out, nil
}
