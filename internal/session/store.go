package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// Store persists the current session across process restarts.
//
// Get returns [shared.ErrSessionNotFound] when nothing is stored. Set must be durable before it returns.
type Store interface {
	Set(session *models.Session) error
	Get() (*models.Session, error)
	Clear() error
}

const keyringUser = "session"

// KeyringStore keeps the session as one JSON secret in the OS keychain.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a KeyringStore under the given keychain service name.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = "jobtrack"
	}
	return &KeyringStore{service: service}
}

// Set replaces the stored secret with session encoded as JSON.
func (s *KeyringStore) Set(session *models.Session) error {
	if session == nil || session.Credential == "" {
		return fmt.Errorf("%w: empty credential", shared.ErrInvalidInput)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := keyring.Set(s.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("failed to store session in keyring: %w", err)
	}
	return nil
}

// Get returns the stored session, or [shared.ErrSessionNotFound] when the keychain has none.
func (s *KeyringStore) Get() (*models.Session, error) {
	secret, err := keyring.Get(s.service, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session from keyring: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(secret), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// Clear deletes the stored secret. A keychain without one is not an error.
func (s *KeyringStore) Clear() error {
	err := keyring.Delete(s.service, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to clear keyring session: %w", err)
	}
	return nil
}
