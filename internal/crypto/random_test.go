package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEmpty(t, token)

	// Each call generates a unique token
	token2, err := GenerateSecureToken()
	assert.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// base64 encoding of 32 bytes should be at least 40 chars
	assert.GreaterOrEqual(t, len(token), 40)
}

func TestHashPassword(t *testing.T) {
	hashed, err := HashPassword("abc123")
	require.NoError(t, err)
	assert.NotEqual(t, []byte("abc123"), hashed)

	assert.True(t, CheckPassword(hashed, "abc123"))
	assert.False(t, CheckPassword(hashed, "xyz999"))

	// Same password produces different hashes due to salt
	hashed2, err := HashPassword("abc123")
	require.NoError(t, err)
	assert.NotEqual(t, hashed, hashed2)
}
