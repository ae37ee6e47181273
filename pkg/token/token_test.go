package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	raw, err := NewAccessToken("test-secret", 42, "operator", 15)
	assert.NoError(t, err)
	assert.NotEmpty(t, raw)

	id, err := ParseAccessToken("test-secret", raw)
	assert.NoError(t, err)
	assert.Equal(t, uint(42), id.UserID)
	assert.Equal(t, "operator", id.Role)
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	raw, err := NewAccessToken("test-secret", 42, "customer", 15)
	assert.NoError(t, err)

	_, err = ParseAccessToken("other-secret", raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessTokenGarbage(t *testing.T) {
	_, err := ParseAccessToken("test-secret", "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	assert.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.True(t, CheckPassword(hash, "hunter22"))
	assert.False(t, CheckPassword(hash, "hunter23"))
}
