// Package crypto implements the node's envelope encryption (SSE-S3,
// SSE-C) and AWS Signature Version 4 request signing/verification.
//
// Envelope encryption follows the same seal-with-prepended-nonce pattern
// the teacher repo uses for its cluster secrets manager: AES-256-GCM with
// a random per-call nonce stored ahead of the ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// MasterKey wraps per-object data encryption keys (DEKs) for SSE-S3. It is
// process-wide state, loaded once at startup from config or the
// WARREN_S3_ENCRYPTION_KEY environment variable, mirroring the teacher's
// load-once cluster encryption key.
type MasterKey struct {
	key []byte // 32 bytes
}

// NewMasterKey validates and wraps a 32-byte AES-256 key.
func NewMasterKey(key []byte) (*MasterKey, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes for AES-256, got %d", len(key))
	}
	return &MasterKey{key: key}, nil
}

// WrapDEK encrypts a freshly generated data encryption key under the
// master key. The returned blob is stored alongside the object version's
// metadata; the DEK itself is never persisted unwrapped.
func (mk *MasterKey) WrapDEK(dek []byte) ([]byte, error) {
	return seal(mk.key, dek)
}

// UnwrapDEK recovers a data encryption key previously sealed by WrapDEK.
func (mk *MasterKey) UnwrapDEK(wrapped []byte) ([]byte, error) {
	return open(mk.key, wrapped)
}

// GenerateDEK returns a fresh random 256-bit data encryption key, one per
// object version under SSE-S3.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	return dek, nil
}

// SealObject encrypts an object body under the given DEK.
func SealObject(dek, plaintext []byte) ([]byte, error) {
	return seal(dek, plaintext)
}

// OpenObject decrypts an object body previously sealed under the given DEK.
func OpenObject(dek, ciphertext []byte) ([]byte, error) {
	return open(dek, ciphertext)
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// CustomerKey is an SSE-C key supplied on a single request. Only its MD5
// is ever persisted (in ObjectVersion.Encryption.CustomerMD5); the key
// itself must be presented again on every subsequent GET.
type CustomerKey struct {
	Key []byte // 32 bytes, used directly as the AES-256-GCM key
}

// Seal encrypts an object body directly under the customer-supplied key
// (SSE-C has no DEK indirection: the customer key *is* the data key).
func (c *CustomerKey) Seal(plaintext []byte) ([]byte, error) {
	return seal(c.Key, plaintext)
}

// Open decrypts an object body under the customer-supplied key.
func (c *CustomerKey) Open(ciphertext []byte) ([]byte, error) {
	return open(c.Key, ciphertext)
}
