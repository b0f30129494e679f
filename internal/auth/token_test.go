package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.IssueResetToken(42)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := issuer.VerifyResetToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestResetTokenExpires(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.IssueResetToken(42)
	require.NoError(t, err)

	// Just inside the window.
	issuer.now = func() time.Time { return time.Now().Add(ResetTokenTTL - time.Minute) }
	_, err = issuer.VerifyResetToken(token)
	assert.NoError(t, err)

	// Just past it.
	issuer.now = func() time.Time { return time.Now().Add(ResetTokenTTL + time.Minute) }
	_, err = issuer.VerifyResetToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetTokenWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-one").IssueResetToken(42)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret-two").VerifyResetToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetTokenWrongPurpose(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     "42",
		"purpose": "email_verification",
		"iss":     tokenIssuer,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.secret)
	require.NoError(t, err)

	_, err = issuer.VerifyResetToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResetTokenGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		_, err := issuer.VerifyResetToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestResetTokenZeroSubject(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":     "0",
		"purpose": resetPurpose,
		"iss":     tokenIssuer,
		"iat":     now.Unix(),
		"exp":     now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.secret)
	require.NoError(t, err)

	_, err = issuer.VerifyResetToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
