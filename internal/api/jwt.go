package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims of a staff bearer token.
type TokenClaims struct {
	Permissions []string `json:"permissions,omitempty"`
	Tenants     []int64  `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 bearer token for a staff client.
func IssueToken(secret, subject string, permissions []string, tenants []int64, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := TokenClaims{
		Permissions: permissions,
		Tenants:     tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (*Principal, error) {
	tok, err := jwt.ParseWithClaims(raw, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := tok.Claims.(*TokenClaims)
	if !ok || !tok.Valid {
		return nil, errInvalidToken
	}
	return &Principal{Name: claims.Subject, Permissions: claims.Permissions, Tenants: claims.Tenants}, nil
}
