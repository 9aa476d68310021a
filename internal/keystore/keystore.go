// Package keystore manages the symmetric encryption key used for token
// storage. The key lives in a single file on disk, URL-safe-base64 encoded,
// readable and writable only by the owning user.
package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"

	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/crypto"
)

const keyFileMode = 0o600

// Store loads and persists the token encryption key.
type Store struct {
	path   string
	logger logging.Logger
}

// New creates a key store rooted at the given file path.
func New(path string, logger logging.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "keystore"}),
	}
}

// LoadOrCreate returns the raw 32-byte encryption key, generating and
// persisting a fresh one on first run. Parent directories are created as
// needed and the key file is written with owner-only permissions.
//
// A stored key that fails validation is a hard configuration error: silently
// regenerating would make every previously encrypted token unreadable, so
// recovery from a corrupted key file requires explicit operator action.
func (s *Store) LoadOrCreate() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		key, decodeErr := base64.URLEncoding.DecodeString(string(data))
		if decodeErr != nil || len(key) != crypto.KeySize {
			return nil, errors.ConfigError("stored encryption key is invalid; refusing to regenerate because that would orphan all encrypted tokens").
				WithContext("key_path", s.path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.InternalError("failed to read encryption key file", err).
			WithContext("key_path", s.path)
	}

	return s.create()
}

func (s *Store) create() ([]byte, error) {
	key := make([]byte, crypto.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.InternalError("failed to generate encryption key", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, errors.InternalError("failed to create key directory", err).
			WithContext("key_path", s.path)
	}

	encoded := base64.URLEncoding.EncodeToString(key)
	if err := os.WriteFile(s.path, []byte(encoded), keyFileMode); err != nil {
		return nil, errors.InternalError("failed to write encryption key file", err).
			WithContext("key_path", s.path)
	}

	// WriteFile honors umask, so force the mode explicitly.
	if err := os.Chmod(s.path, keyFileMode); err != nil {
		return nil, errors.InternalError("failed to restrict key file permissions", err).
			WithContext("key_path", s.path)
	}

	s.logger.Info("generated new encryption key",
		logging.String("key_path", s.path))
	return key, nil
}
