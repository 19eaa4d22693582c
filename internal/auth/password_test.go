// internal/auth/password_test.go
package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRoundTrip(t *testing.T) {
	hash, err := CreateHash("winterfell", Params)
	require.NoError(t, err)

	ok, err := ComparePasswordAndHash("winterfell", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePasswordAndHash("casterly", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	first, err := CreateHash("winterfell", Params)
	require.NoError(t, err)
	second, err := CreateHash("winterfell", Params)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecodeHashRejectsGarbage(t *testing.T) {
	_, _, _, err := DecodeHash("not-an-encoded-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestHashParallelismNeverZero(t *testing.T) {
	assert.GreaterOrEqual(t, Params.parallelism, uint8(1))
}
