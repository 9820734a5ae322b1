package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKeyWrapUnwrapDEK(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	mk, err := NewMasterKey(key)
	require.NoError(t, err)

	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := mk.WrapDEK(dek)
	require.NoError(t, err)
	assert.NotEqual(t, dek, wrapped)

	unwrapped, err := mk.UnwrapDEK(wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)
}

func TestNewMasterKeyRejectsBadLength(t *testing.T) {
	_, err := NewMasterKey(make([]byte, 16))
	assert.Error(t, err)
}

func TestSealOpenObjectRoundTrip(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext, err := SealObject(dek, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	recovered, err := OpenObject(dek, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestOpenObjectRejectsTamperedCiphertext(t *testing.T) {
	dek, err := GenerateDEK()
	require.NoError(t, err)
	ciphertext, err := SealObject(dek, []byte("payload"))
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = OpenObject(dek, ciphertext)
	assert.Error(t, err)
}

func TestCustomerKeySealOpen(t *testing.T) {
	ck := &CustomerKey{Key: make([]byte, 32)}
	ciphertext, err := ck.Seal([]byte("sensitive"))
	require.NoError(t, err)
	plaintext, err := ck.Open(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("sensitive"), plaintext)
}
