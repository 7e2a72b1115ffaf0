package keyring

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher seals and opens key blobs with the lockbox secret. It is the opaque
// encrypt/decrypt pair of the keyring; callers never see key derivation.
type Cipher interface {
	Encrypt(plaintext, secret []byte) ([]byte, error)
	Decrypt(blob, secret []byte) ([]byte, error)
}

const (
	saltSize  = 16
	nonceSize = 24

	// argon2id parameters
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

// SecretboxCipher derives a key from the secret with argon2id and seals with
// nacl/secretbox. Blob layout: salt || nonce || box.
type SecretboxCipher struct{}

// NewSecretboxCipher creates a SecretboxCipher.
func NewSecretboxCipher() *SecretboxCipher {
	return &SecretboxCipher{}
}

// Encrypt seals plaintext under a key derived from secret.
func (c *SecretboxCipher) Encrypt(plaintext, secret []byte) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveKey(secret, salt[:])

	blob := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	blob = append(blob, salt[:]...)
	blob = append(blob, nonce[:]...)
	return secretbox.Seal(blob, plaintext, &nonce, key), nil
}

// Decrypt opens a blob produced by Encrypt. Fails when the secret is wrong or
// the blob was tampered with.
func (c *SecretboxCipher) Decrypt(blob, secret []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("key blob too short")
	}

	var salt [saltSize]byte
	copy(salt[:], blob[:saltSize])
	var nonce [nonceSize]byte
	copy(nonce[:], blob[saltSize:saltSize+nonceSize])

	key := deriveKey(secret, salt[:])

	plaintext, ok := secretbox.Open(nil, blob[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("failed to open key blob")
	}
	return plaintext, nil
}

func deriveKey(secret, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen))
	return &key
}
