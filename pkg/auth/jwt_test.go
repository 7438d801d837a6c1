package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-for-unit-tests")

func TestValidateJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT(42, "student", "Uma", 15*time.Minute, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateJWT(token, testSecret)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", claims.UserID)
	}
	if claims.Role != "student" {
		t.Fatalf("expected role student, got %s", claims.Role)
	}
}

func TestValidateJWTExpired(t *testing.T) {
	token, err := GenerateJWT(42, "student", "Uma", -1*time.Hour, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = ValidateJWT(token, testSecret)
	if !errors.Is(err, ErrExpiredJWT) {
		t.Fatalf("expected ErrExpiredJWT, got %v", err)
	}
}

func TestValidateJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT(42, "student", "Uma", 15*time.Minute, []byte("other-secret"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = ValidateJWT(token, testSecret)
	if !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected ErrInvalidJWT, got %v", err)
	}
}

func TestValidateJWTMalformed(t *testing.T) {
	_, err := ValidateJWT("not.a.token", testSecret)
	if !errors.Is(err, ErrInvalidJWT) {
		t.Fatalf("expected ErrInvalidJWT, got %v", err)
	}
}

func TestValidateJWTRejectsNoneAlgorithm(t *testing.T) {
	claims := &Claims{
		UserID: 42,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ValidateJWT(signed, testSecret); err == nil {
		t.Fatal("expected validation to reject alg=none token")
	}
}
