package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maxyourpoints/internal/model"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := NewService("secret")
	tok, err := svc.Issue("u-1", "editor@example.com", model.RoleEditor)
	require.NoError(t, err)

	claims, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "editor@example.com", claims.Email)
	assert.Equal(t, model.RoleEditor, claims.Role)
	assert.Equal(t, "u-1", claims.Subject)
}

func TestVerifyExpired(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := NewService("secret", WithClock(fixedClock(issuedAt)))
	tok, err := issuer.Issue("u-1", "a@example.com", model.RoleAdmin)
	require.NoError(t, err)

	stillValid := NewService("secret", WithClock(fixedClock(issuedAt.Add(6*24*time.Hour))))
	_, err = stillValid.Verify(tok)
	assert.NoError(t, err)

	expired := NewService("secret", WithClock(fixedClock(issuedAt.Add(8*24*time.Hour))))
	_, err = expired.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	tok, err := NewService("one").Issue("u-1", "a@example.com", model.RoleUser)
	require.NoError(t, err)
	_, err = NewService("two").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbageAndOtherAlgorithms(t *testing.T) {
	svc := NewService("secret")
	for _, raw := range []string{"", "abc", "a.b.c"} {
		_, err := svc.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, raw)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u-1",
		Role:             model.RoleSuperAdmin,
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u-1",
		Role:             model.Role("OWNER"),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewService("secret").Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWithTTL(t *testing.T) {
	svc := NewService("secret", WithTTL(time.Hour))
	assert.Equal(t, time.Hour, svc.TTL())
	assert.Equal(t, DefaultTTL, NewService("secret", WithTTL(0)).TTL())
}
