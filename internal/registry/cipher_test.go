package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCMCipherRoundTrips(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := NewAESGCMCipher(key)
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("super-secret-token"))
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "super-secret-token")

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", string(plaintext))
}

func TestAESGCMCipherRejectsShortKey(t *testing.T) {
	_, err := NewAESGCMCipher([]byte("too-short"))
	assert.Error(t, err)
}

func TestAESGCMCipherRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	c, err := NewAESGCMCipher(key)
	require.NoError(t, err)

	ciphertext, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := ciphertext[:len(ciphertext)-2] + "zz"
	_, err = c.Decrypt(tampered)
	assert.Error(t, err)
}
