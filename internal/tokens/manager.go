package tokens

import (
	"social-oauth/internal/common/errors"
	"social-oauth/internal/common/logging"
	"social-oauth/internal/crypto"
	"social-oauth/internal/store"
)

// Manager encrypts and decrypts token records on top of the persistent
// store. The store never sees plaintext: records are serialized to JSON,
// encrypted, and written in a single upsert, so a reader can never observe
// a half-written record.
type Manager struct {
	cipher *crypto.TokenCipher
	store  *store.TokenStore
	logger logging.Logger
}

// NewManager creates a token manager over the given cipher and store.
func NewManager(cipher *crypto.TokenCipher, tokenStore *store.TokenStore, logger logging.Logger) *Manager {
	return &Manager{
		cipher: cipher,
		store:  tokenStore,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "token-manager"}),
	}
}

// Store validates, encrypts and persists a record, fully replacing any
// previous record for the same (user, platform). A failed encryption writes
// nothing.
func (m *Manager) Store(record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	encrypted, err := m.cipher.EncryptJSON(record)
	if err != nil {
		return err
	}

	m.logger.Debug("storing token record",
		logging.String("user_id", record.UserID),
		logging.String("platform", string(record.Platform)))
	return m.store.UpsertToken(record.UserID, string(record.Platform), encrypted)
}

// Get fetches and decrypts the record for (platform, userID). Absence is
// returned as (nil, nil). A record that exists but cannot be decrypted or
// parsed is returned as a decryption error so single-record callers can
// distinguish "never authorized" from "corrupted".
func (m *Manager) Get(platform Platform, userID string) (*Record, error) {
	encrypted, err := m.store.GetToken(userID, string(platform))
	if err != nil {
		return nil, err
	}
	if encrypted == "" {
		return nil, nil
	}

	var record Record
	if err := m.cipher.DecryptJSON(encrypted, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Delete removes the record for (platform, userID). Deleting an absent
// record succeeds.
func (m *Manager) Delete(platform Platform, userID string) error {
	return m.store.DeleteToken(userID, string(platform))
}

// ScanAll returns every readable record grouped platform -> user -> record.
// Records that fail to decrypt are skipped and logged; one corrupted row
// must not abort a bulk sweep.
func (m *Manager) ScanAll() (map[Platform]map[string]*Record, error) {
	rows, err := m.store.ScanTokens()
	if err != nil {
		return nil, err
	}

	result := make(map[Platform]map[string]*Record)
	for _, row := range rows {
		var record Record
		if err := m.cipher.DecryptJSON(row.Encrypted, &record); err != nil {
			m.logger.Warn("skipping unreadable token record",
				logging.String("user_id", row.UserID),
				logging.String("platform", row.Platform),
				logging.Err(err))
			continue
		}

		platform := Platform(row.Platform)
		if result[platform] == nil {
			result[platform] = make(map[string]*Record)
		}
		result[platform][row.UserID] = &record
	}
	return result, nil
}

// IsDecryptionFailure reports whether err marks an unreadable record.
func IsDecryptionFailure(err error) bool {
	return errors.IsType(err, errors.ErrTypeDecryption)
}
