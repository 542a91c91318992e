package usecases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/rsvpd/internal/internaltypes"
)

func TestTokenAuth(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, token, 43)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	a := NewTokenAuth(hash)
	require.True(t, a.Enabled())

	assert.NoError(t, a.Verify(token))
	// second call takes the cached path
	assert.NoError(t, a.Verify(token))
	assert.ErrorIs(t, a.Verify(token+"x"), internaltypes.ErrUnauthorized)
	assert.ErrorIs(t, a.Verify(""), internaltypes.ErrUnauthorized)
}

func TestTokenAuth_Disabled(t *testing.T) {
	a := NewTokenAuth(nil)
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Verify(""))

	var nilAuth *TokenAuth
	assert.NoError(t, nilAuth.Verify("anything"))
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("secret")
	require.NoError(t, err)
	assert.NoError(t, NewTokenAuth(hash).Verify("secret"))
}
