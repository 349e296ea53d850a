package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", 1)

	tok, err := m.GenerateToken("u1", "u1@example.com", "Kenny User", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestJWTManager_RejectsForeignSignature(t *testing.T) {
	tok, err := NewJWTManager("other", 1).GenerateToken("u1", "", "", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken(tok)
	assert.Error(t, err)

	_, err = NewJWTManager("secret", 1).VerifyToken("garbage")
	assert.Error(t, err)
}
