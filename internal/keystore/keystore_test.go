package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	blob, err := EncryptToFile(seed, "correct-horse-battery-staple")
	require.NoError(t, err)

	decrypted, err := DecryptFromFile(blob, "correct-horse-battery-staple")
	require.NoError(t, err)
	assert.Equal(t, seed, decrypted)
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	blob, err := EncryptToFile(seed, "right-password")
	require.NoError(t, err)

	_, err = DecryptFromFile(blob, "wrong-password")
	assert.Error(t, err)
}

func TestClearBytesZeroes(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	ClearBytes(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)
}
