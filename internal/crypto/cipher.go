// Package crypto provides AES-256-GCM encryption and decryption for token
// payloads and OAuth state parameters.
//
// The package uses AES-256-GCM (Galois/Counter Mode) which provides both
// confidentiality and authenticity. Each encryption operation uses a unique
// random nonce, so encrypting the same plaintext multiple times produces
// different ciphertexts. Decrypting a tampered or foreign ciphertext fails
// with a decryption error rather than returning corrupted plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"social-oauth/internal/common/errors"
)

// KeySize is the required key length in bytes for AES-256.
const KeySize = 32

// TokenCipher handles encryption and decryption of token records and state
// parameters. The encryptor is safe for concurrent use by multiple goroutines.
type TokenCipher struct {
	key []byte // 32-byte AES-256 encryption key
}

// NewTokenCipher creates a new TokenCipher with the provided raw key.
//
// The key must be exactly 32 bytes. Keys are normally produced by the
// keystore, which persists them URL-safe-base64 encoded on disk; callers
// holding a passphrase instead of raw key material should pass it through
// DeriveKey first.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != KeySize {
		return nil, errors.ConfigError("encryption key must be exactly 32 bytes").
			WithContext("key_length", len(key))
	}

	k := make([]byte, KeySize)
	copy(k, key)
	return &TokenCipher{key: k}, nil
}

// DeriveKey derives a 32-byte key from a passphrase using PBKDF2-SHA256.
// The salt is static so the derivation is deterministic across restarts.
func DeriveKey(passphrase string) []byte {
	salt := []byte("social-oauth-token-cipher")
	return pbkdf2.Key([]byte(passphrase), salt, 10000, KeySize, sha256.New)
}

// Encrypt encrypts a plaintext string using AES-256-GCM and returns the
// result as a base64-encoded string suitable for storage.
//
// The random nonce is prepended to the ciphertext before encoding. Empty
// strings are returned as empty strings without encryption.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a base64-encoded ciphertext produced by Encrypt and
// returns the original plaintext.
//
// GCM verifies integrity during decryption, so tampered or corrupted
// ciphertexts produce a decryption error. Callers must treat that error as
// "token unreadable", never as a fatal condition. Empty strings are returned
// as empty strings without decryption.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.DecryptionError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.DecryptionError("ciphertext too short", nil)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.DecryptionError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// EncryptJSON marshals v to JSON and encrypts the resulting string.
func (c *TokenCipher) EncryptJSON(v interface{}) (string, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", errors.InternalError("failed to marshal JSON", err)
	}
	return c.Encrypt(string(jsonBytes))
}

// DecryptJSON decrypts a ciphertext produced by EncryptJSON and unmarshals
// the plaintext into v. A malformed plaintext after successful decryption is
// reported as a decryption error as well, since it means the stored blob is
// unusable either way.
func (c *TokenCipher) DecryptJSON(ciphertext string, v interface{}) error {
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return errors.DecryptionError("failed to unmarshal decrypted payload", err)
	}
	return nil
}
