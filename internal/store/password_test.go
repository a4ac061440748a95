package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPasswordDeterministic(t *testing.T) {
	h1 := HashPassword("salt", "secret")
	h2 := HashPassword("salt", "secret")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, HashPassword("other", "secret"))
}

func TestVerifyPassword(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	want := HashPassword(salt, "s3cret")

	require.True(t, VerifyPassword(salt, "s3cret", want))

	// Mismatches at the first and last byte both fail; the comparison is
	// constant-time either way.
	require.False(t, VerifyPassword(salt, "t3cret", want))
	require.False(t, VerifyPassword(salt, "s3creT", want))
	require.False(t, VerifyPassword(salt, "", want))
}

func TestNewSaltIsFresh(t *testing.T) {
	s1, err := NewSalt()
	require.NoError(t, err)
	s2, err := NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}
