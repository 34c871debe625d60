package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-signing-secret"

func TestTokenRoundTrip(t *testing.T) {
	signed, err := GenerateToken("u1", "alice", testSecret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(signed, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Username = %q, want alice", claims.Username)
	}
	if claims.Subject != "u1" {
		t.Errorf("Subject = %q, want u1", claims.Subject)
	}

	expiry := claims.ExpiresAt.Time
	wantExpiry := time.Now().Add(TokenTTL)
	if expiry.Before(wantExpiry.Add(-time.Minute)) || expiry.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expiry %v not within a minute of now+TokenTTL", expiry)
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	signed, err := GenerateToken("u1", "alice", testSecret)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	if _, err := ValidateToken(signed, "a-different-secret"); !IsAuthError(err) {
		t.Errorf("wrong secret: err = %v, want auth error", err)
	}
}

func TestValidateTokenMalformed(t *testing.T) {
	if _, err := ValidateToken("not-a-token", testSecret); !IsAuthError(err) {
		t.Errorf("malformed token: err = %v, want auth error", err)
	}
	if _, err := ValidateToken("", testSecret); !IsAuthError(err) {
		t.Errorf("empty token: err = %v, want auth error", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	claims := TokenClaims{
		UserID:   "u1",
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ValidateToken(signed, testSecret); !IsAuthError(err) {
		t.Errorf("expired token: err = %v, want auth error", err)
	}
}

func TestValidateTokenMissingUserID(t *testing.T) {
	claims := TokenClaims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = ValidateToken(signed, testSecret)
	if !IsAuthError(err) {
		t.Fatalf("token without uid: err = %v, want auth error", err)
	}
	if !strings.Contains(err.Error(), "claims") {
		t.Errorf("err = %q, want a claims rejection, not a parse failure", err)
	}
}
