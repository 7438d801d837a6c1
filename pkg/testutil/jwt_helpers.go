package testutil

import (
	"testing"
	"time"

	"grievanceportal/pkg/auth"
)

// TestJWTSecret is the shared HMAC secret used across test suites.
const TestJWTSecret = "test-jwt-secret-for-unit-tests"

// CreateTestJWT mints a valid session token for the given identity.
func CreateTestJWT(t *testing.T, userID int64, role, name string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, role, name, time.Hour, []byte(TestJWTSecret))
	if err != nil {
		t.Fatalf("failed to create test JWT: %v", err)
	}
	return token
}

// CreateExpiredTestJWT mints a token that expired an hour ago.
func CreateExpiredTestJWT(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, role, "", -time.Hour, []byte(TestJWTSecret))
	if err != nil {
		t.Fatalf("failed to create expired test JWT: %v", err)
	}
	return token
}
