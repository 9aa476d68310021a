// Package store provides the persistent token table keyed by
// (user_id, platform). The table only ever holds encrypted blobs; the
// encryption boundary lives above this package in the token manager.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
	"social-oauth/internal/common/errors"
)

// TestUserPrefix marks synthetic identifiers seeded by deployments for
// smoke testing. ScanTokens excludes them so the background refresh sweep
// never spends provider quota on test fixtures. The filter is applied only
// in ScanTokens; point lookups by exact key always succeed.
const TestUserPrefix = "test-"

// TokenRow is one row of the token table as returned by ScanTokens.
type TokenRow struct {
	UserID    string
	Platform  string
	Encrypted string
	UpdatedAt time.Time
}

// TokenStore is a single-writer-safe sqlite-backed token table.
//
// All mutating operations serialize on a coarse mutex. Token writes are
// infrequent relative to reads, and no caller holds the mutex across
// network I/O, so contention stays negligible.
type TokenStore struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the sqlite database at path and runs
// schema migration.
func Open(path string) (*TokenStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &TokenStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *TokenStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			token_data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, platform)
		)`,
		`CREATE TABLE IF NOT EXISTS user_api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			api_key_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, platform)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oauth_tokens_platform ON oauth_tokens(platform)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (s *TokenStore) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *TokenStore) Health() error {
	return s.db.Ping()
}

// UpsertToken stores an encrypted blob for (userID, platform), fully
// replacing any previous value. Readers never observe a partial write:
// the replacement happens in a single statement.
func (s *TokenStore) UpsertToken(userID, platform, encrypted string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO oauth_tokens (user_id, platform, token_data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, platform)
		DO UPDATE SET token_data = excluded.token_data, updated_at = CURRENT_TIMESTAMP`,
		userID, platform, encrypted)
	if err != nil {
		return errors.InternalError("failed to upsert token", err)
	}
	return nil
}

// GetToken returns the encrypted blob for (userID, platform), or "" with a
// nil error if no row exists.
func (s *TokenStore) GetToken(userID, platform string) (string, error) {
	var encrypted string
	err := s.db.QueryRow(`
		SELECT token_data FROM oauth_tokens WHERE user_id = ? AND platform = ?`,
		userID, platform).Scan(&encrypted)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.InternalError("failed to get token", err)
	}
	return encrypted, nil
}

// DeleteToken removes the row for (userID, platform). Deleting a missing
// row is not an error.
func (s *TokenStore) DeleteToken(userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		DELETE FROM oauth_tokens WHERE user_id = ? AND platform = ?`,
		userID, platform); err != nil {
		return errors.InternalError("failed to delete token", err)
	}
	return nil
}

// ScanTokens returns every stored token row, excluding synthetic test
// identifiers (see TestUserPrefix).
func (s *TokenStore) ScanTokens() ([]TokenRow, error) {
	rows, err := s.db.Query(`
		SELECT user_id, platform, token_data, updated_at FROM oauth_tokens
		ORDER BY platform, user_id`)
	if err != nil {
		return nil, errors.InternalError("failed to scan tokens", err)
	}
	defer rows.Close()

	var result []TokenRow
	for rows.Next() {
		var row TokenRow
		if err := rows.Scan(&row.UserID, &row.Platform, &row.Encrypted, &row.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan token row", err)
		}
		if strings.HasPrefix(row.UserID, TestUserPrefix) {
			continue
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("token scan failed", err)
	}
	return result, nil
}

// SetUserAPIKey stores a bcrypt hash of the caller-facing API key for
// (userID, platform), replacing any previous key.
func (s *TokenStore) SetUserAPIKey(userID, platform, apiKey string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return errors.InternalError("failed to hash API key", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO user_api_keys (user_id, platform, api_key_hash)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, platform)
		DO UPDATE SET api_key_hash = excluded.api_key_hash`,
		userID, platform, string(hash))
	if err != nil {
		return errors.InternalError("failed to store API key", err)
	}
	return nil
}

// VerifyUserAPIKey reports whether apiKey matches the stored hash for
// (userID, platform). A missing row is a mismatch, not an error.
func (s *TokenStore) VerifyUserAPIKey(userID, platform, apiKey string) (bool, error) {
	var hash string
	err := s.db.QueryRow(`
		SELECT api_key_hash FROM user_api_keys WHERE user_id = ? AND platform = ?`,
		userID, platform).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.InternalError("failed to load API key", err)
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil, nil
}
