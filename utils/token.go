package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long an issued token stays valid. Push connections
// authenticate with the same token the HTTP session got at login.
const TokenTTL = 24 * time.Hour

// TokenClaims are the claims carried by a tidemail JWT.
type TokenClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// GenerateToken issues a signed JWT for a user.
func GenerateToken(userID, username, secret string) (string, error) {
	now := time.Now()
	claims := TokenClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and verifies a JWT, returning its claims.
// Expired, malformed or badly signed tokens produce an auth error.
func ValidateToken(tokenString, secret string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, AuthError("unexpected signing method", nil)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, AuthError("invalid token", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, AuthError("invalid token claims", nil)
	}
	return claims, nil
}
