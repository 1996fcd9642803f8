package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_ZeroValueIsSHA256(t *testing.T) {
	var h Hasher
	assert.False(t, h.Keyed())
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		h.Hex("hello"))
}

func TestHasher_KeyedDiffersPerKey(t *testing.T) {
	a := NewHasher([]byte(strings.Repeat("a", 32)))
	b := NewHasher([]byte(strings.Repeat("b", 32)))

	require.True(t, a.Keyed())
	assert.Len(t, a.Hex("id"), 64)
	assert.NotEqual(t, a.Hex("id"), b.Hex("id"))
	assert.Equal(t, a.Hex("id"), a.Hex("id"))
	assert.NotEqual(t, SHA256Hex("id"), a.Hex("id"))
}

func TestHasherFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	h, err := HasherFromEnv(false)
	require.NoError(t, err)
	assert.False(t, h.Keyed())

	_, err = HasherFromEnv(true)
	assert.ErrorIs(t, err, ErrHMACKeyMissing)

	t.Setenv(HMACEnvKey, "too-short")
	_, err = HasherFromEnv(true)
	assert.ErrorIs(t, err, ErrHMACKeyTooShort)

	t.Setenv(HMACEnvKey, "  "+strings.Repeat("k", 40)+"  ")
	h, err = HasherFromEnv(true)
	require.NoError(t, err)
	assert.Equal(t, HMACSHA256Hex("x", []byte(strings.Repeat("k", 40))), h.Hex("x"))
}
