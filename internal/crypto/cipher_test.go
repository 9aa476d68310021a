package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"social-oauth/internal/common/errors"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	return []byte(strings.Repeat("k", KeySize))
}

func TestNewTokenCipher(t *testing.T) {
	tests := []struct {
		name      string
		key       []byte
		wantError bool
	}{
		{
			name:      "valid 32-byte key",
			key:       []byte(strings.Repeat("a", 32)),
			wantError: false,
		},
		{
			name:      "short key",
			key:       []byte("short"),
			wantError: true,
		},
		{
			name:      "long key",
			key:       []byte(strings.Repeat("a", 64)),
			wantError: true,
		},
		{
			name:      "nil key",
			key:       nil,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cipher, err := NewTokenCipher(tt.key)

			if tt.wantError {
				if err == nil {
					t.Errorf("NewTokenCipher() expected error but got none")
				}
				if !errors.IsType(err, errors.ErrTypeConfig) {
					t.Errorf("NewTokenCipher() error type = %v, want config", errors.GetType(err))
				}
				return
			}

			if err != nil {
				t.Errorf("NewTokenCipher() unexpected error = %v", err)
				return
			}
			if cipher == nil {
				t.Errorf("NewTokenCipher() returned nil cipher")
			}
		})
	}
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple string", "access-token-value"},
		{"json payload", `{"oauth2":{"access_token":"A","refresh_token":"R"}}`},
		{"unicode", "tøken-väl-ü€"},
		{"empty string", ""},
		{"long payload", strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := cipher.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			decrypted, err := cipher.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}

			if decrypted != tt.plaintext {
				t.Errorf("round trip = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestTokenCipher_NonceUniqueness(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	first, err := cipher.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := cipher.Encrypt("same-plaintext")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if first == second {
		t.Errorf("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestTokenCipher_TamperDetection(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	encrypted, err := cipher.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip a byte in the middle of the decoded ciphertext
	raw, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		t.Fatalf("failed to decode ciphertext: %v", err)
	}
	raw[len(raw)/2] ^= 0xff
	tampered := base64.URLEncoding.EncodeToString(raw)

	_, err = cipher.Decrypt(tampered)
	if err == nil {
		t.Fatalf("Decrypt() accepted tampered ciphertext")
	}
	if !errors.IsType(err, errors.ErrTypeDecryption) {
		t.Errorf("Decrypt() error type = %v, want decryption", errors.GetType(err))
	}
}

func TestTokenCipher_ForeignKey(t *testing.T) {
	cipherA, err := NewTokenCipher([]byte(strings.Repeat("a", KeySize)))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}
	cipherB, err := NewTokenCipher([]byte(strings.Repeat("b", KeySize)))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	encrypted, err := cipherA.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := cipherB.Decrypt(encrypted); !errors.IsType(err, errors.ErrTypeDecryption) {
		t.Errorf("Decrypt() with wrong key error type = %v, want decryption", errors.GetType(err))
	}
}

func TestTokenCipher_DecryptGarbage(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	tests := []struct {
		name       string
		ciphertext string
	}{
		{"not base64", "!!not-base64!!"},
		{"too short", base64.URLEncoding.EncodeToString([]byte("ab"))},
		{"random bytes", base64.URLEncoding.EncodeToString([]byte(strings.Repeat("z", 40)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := cipher.Decrypt(tt.ciphertext); !errors.IsType(err, errors.ErrTypeDecryption) {
				t.Errorf("Decrypt(%q) error type = %v, want decryption", tt.ciphertext, errors.GetType(err))
			}
		})
	}
}

func TestTokenCipher_JSONRoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(testKey(t))
	if err != nil {
		t.Fatalf("Failed to create cipher: %v", err)
	}

	type payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}

	in := payload{AccessToken: "A", RefreshToken: "R", ExpiresAt: 1700000000}
	encrypted, err := cipher.EncryptJSON(in)
	if err != nil {
		t.Fatalf("EncryptJSON() error = %v", err)
	}

	var out payload
	if err := cipher.DecryptJSON(encrypted, &out); err != nil {
		t.Fatalf("DecryptJSON() error = %v", err)
	}

	if out != in {
		t.Errorf("DecryptJSON() = %+v, want %+v", out, in)
	}
}

func TestDeriveKey(t *testing.T) {
	key := DeriveKey("passphrase")
	if len(key) != KeySize {
		t.Fatalf("DeriveKey() length = %d, want %d", len(key), KeySize)
	}

	// Deterministic, and distinct passphrases yield distinct keys
	if string(key) != string(DeriveKey("passphrase")) {
		t.Errorf("DeriveKey() is not deterministic")
	}
	if string(key) == string(DeriveKey("other")) {
		t.Errorf("DeriveKey() collision for distinct passphrases")
	}
}
