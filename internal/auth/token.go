package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer  = "quill"
	resetPurpose = "password_reset"

	// ResetTokenTTL is the validity window fixed at issuance time.
	ResetTokenTTL = 30 * time.Minute
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, wrong purpose, malformed subject, or expired.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenIssuer creates and verifies signed, time-limited password reset tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with the given secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ResetTokenTTL,
		now:    time.Now,
	}
}

// IssueResetToken creates a signed token binding the user id to an
// issuance time, valid for the fixed reset window.
func (t *TokenIssuer) IssueResetToken(userID uint) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub":     strconv.FormatUint(uint64(userID), 10),
		"purpose": resetPurpose,
		"iss":     tokenIssuer,
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
		"exp":     now.Add(t.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// VerifyResetToken validates signature, expiry, and purpose, and returns the
// embedded user id. Any failure yields ErrInvalidToken; the caller must still
// check that the user exists.
func (t *TokenIssuer) VerifyResetToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	if purpose, ok := claims["purpose"].(string); !ok || purpose != resetPurpose {
		return 0, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, ErrInvalidToken
	}

	return uint(userID), nil
}
