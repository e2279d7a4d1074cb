package auth

import (
	"context"
	"errors"
	"time"

	"embercall/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims mirrors the access token the account service issues. The agent does
// not hold the signing secret, so the token is parsed without verification
// and verified server-side at connect time.
type Claims struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	jwt.RegisteredClaims
}

// TokenIdentity is an IdentityProvider backed by a pre-issued bearer token.
type TokenIdentity struct {
	token  string
	claims *Claims
}

func NewTokenIdentity(token string) (*TokenIdentity, error) {
	claims, err := parseClaims(token)
	if err != nil {
		return nil, err
	}
	return &TokenIdentity{token: token, claims: claims}, nil
}

func (t *TokenIdentity) Identity(ctx context.Context) (string, domain.UserID, error) {
	if t.claims.ExpiresAt != nil && time.Now().After(t.claims.ExpiresAt.Time) {
		return "", "", ErrExpiredToken
	}
	return t.token, t.claims.UserID, nil
}

// UserID returns the subject the token was issued for.
func (t *TokenIdentity) UserID() domain.UserID {
	return t.claims.UserID
}

// Username returns the display name embedded in the token, if any.
func (t *TokenIdentity) Username() string {
	return t.claims.Username
}

func parseClaims(token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		if claims.Subject == "" {
			return nil, ErrInvalidToken
		}
		claims.UserID = domain.UserID(claims.Subject)
	}
	return claims, nil
}
