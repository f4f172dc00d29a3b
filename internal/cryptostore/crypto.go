package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
	nonceLen      = 12
)

// ErrDecrypt is the sentinel wrapped whenever a credential record cannot
// be decrypted — wrong passphrase or on-disk corruption. The store never
// falls back to plaintext on this path.
var ErrDecrypt = errors.New("decrypt credential")

// deriveKey runs the operator passphrase and a stored salt through
// Argon2id to produce a 256-bit AES-GCM key.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func newCipher(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

// encrypt seals plaintext under a fresh random nonce, returning
// base64(nonce || ciphertext || tag).
func encrypt(aead cipher.AEAD, plaintext string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, sealed...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// decrypt reverses encrypt. Any failure — bad base64, short ciphertext,
// auth-tag mismatch — is reported via ErrDecrypt and never silently
// produces plaintext.
func decrypt(aead cipher.AEAD, encoded string) (string, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecrypt, err)
	}
	if len(combined) < nonceLen {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := combined[:nonceLen], combined[nonceLen:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

func randomSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
