package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, hasher.Verify(hash, "correct horse battery staple"))
	assert.False(t, hasher.Verify(hash, "wrong password"))
	assert.False(t, hasher.Verify("not-a-hash", "correct horse battery staple"))
}

func TestPasswordHashesDiffer(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	first, err := hasher.Hash("same password")
	require.NoError(t, err)
	second, err := hasher.Hash("same password")
	require.NoError(t, err)

	// bcrypt salts every hash.
	assert.NotEqual(t, first, second)
}

func TestPasswordHasherClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(99).cost)
	assert.Equal(t, bcrypt.MinCost, NewPasswordHasher(bcrypt.MinCost).cost)
}
