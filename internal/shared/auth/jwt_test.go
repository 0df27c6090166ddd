package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	v, err := NewVerifier("s3cret", "dev")
	require.NoError(t, err)

	token, err := v.Sign(Claims{Sub: "user-1", Email: "a@example.com"})
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.NotZero(t, claims.Exp)
}

func TestVerifyRejectsTamperedAndForeignTokens(t *testing.T) {
	v, _ := NewVerifier("s3cret", "dev")
	other, _ := NewVerifier("different", "dev")

	token, err := other.Sign(Claims{Sub: "user-1"})
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = v.Sign(Claims{Sub: "user-1"})
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	_, err = v.Verify(parts[0] + "." + parts[1] + "x." + parts[2])
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredTokens(t *testing.T) {
	v, _ := NewVerifier("s3cret", "dev")
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return issued }
	token, err := v.Sign(Claims{Sub: "user-1"})
	require.NoError(t, err)

	v.now = func() time.Time { return issued.Add(25 * time.Hour) }
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifierRequiresSecretInProduction(t *testing.T) {
	_, err := NewVerifier(" ", "production")
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = NewVerifier("", "dev")
	assert.NoError(t, err)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	v, _ := NewVerifier("s3cret", "dev")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "user-1"}).
		SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	v, _ := NewVerifier("s3cret", "dev")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
