package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test-secret-key-at-least-32-chars-long"

// TestGenerateAndValidateToken tests round-tripping an access token
func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute)

	userID := uuid.New()
	tokenString, err := manager.GenerateAccessToken(userID, "pat@example.com", "pat3", "patient")
	assert.NoError(t, err)
	assert.NotEmpty(t, tokenString)

	claims, err := manager.ValidateToken(tokenString)
	assert.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "patient", claims.Role)
	assert.Equal(t, "telecare-api", claims.Audience)
}

// TestValidateToken_WrongSecret tests rejection of a token signed with another key
func TestValidateToken_WrongSecret(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute)
	other := NewJWTManager("another-secret-key-also-32-chars-long!", 15*time.Minute)

	tokenString, err := manager.GenerateAccessToken(uuid.New(), "doc@example.com", "doc9", "doctor")
	assert.NoError(t, err)

	_, err = other.ValidateToken(tokenString)
	assert.Error(t, err)
}

// TestValidateToken_Expired tests rejection of an expired token
func TestValidateToken_Expired(t *testing.T) {
	manager := NewJWTManager(testSecret, -1*time.Minute)

	tokenString, err := manager.GenerateAccessToken(uuid.New(), "doc@example.com", "doc9", "doctor")
	assert.NoError(t, err)

	_, err = manager.ValidateToken(tokenString)
	assert.Error(t, err)
}

// TestValidateToken_Garbage tests rejection of a malformed token
func TestValidateToken_Garbage(t *testing.T) {
	manager := NewJWTManager(testSecret, 15*time.Minute)

	_, err := manager.ValidateToken("not-a-token")
	assert.Error(t, err)
}
