package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
)

// TokenIssuer signs HS256 access tokens for identities.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry, now: time.Now}
}

func (t *TokenIssuer) AccessToken(id directory.Identity) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub":         id.ID,
		"identifier":  id.Identifier,
		"auth_method": string(id.AuthMethod),
		"iat":         now.Unix(),
		"exp":         now.Add(t.expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}
