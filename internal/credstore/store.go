// Package credstore persists OAuth access tokens under an application/service
// name, preferring the system keychain.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/basecamp/oauth1-cli/internal/oauth1"
)

var (
	// ErrStorageFailure wraps any failure of the underlying backend.
	ErrStorageFailure = errors.New("credential storage failure")

	// ErrNotFound is returned when no entry exists under a key.
	ErrNotFound = errors.New("credentials not found")

	// ErrNotAuthorized is returned by Save when the state lacks a token pair.
	ErrNotAuthorized = errors.New("authentication has no token pair")
)

//go:generate mockgen -source=store.go -destination=backend_mock.go -package=credstore Backend

// Backend is an opaque get/set/delete-by-key secret store.
// Get and Delete return ErrNotFound when the key is absent.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// entry is the persisted form of a token pair.
type entry struct {
	Token       string `json:"oauth_token"`
	TokenSecret string `json:"oauth_token_secret"`
}

// Store saves, loads and removes token pairs. Every call reads through to the
// backend.
type Store struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Store over backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{backend: backend, logger: logger}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// itemKey returns the backend key for an application/service name.
func itemKey(appServiceName string) string {
	return "oauth1::" + appServiceName
}

// Save stores the token pair of auth under appServiceName.
func (s *Store) Save(appServiceName string, auth *oauth1.AuthenticationState) bool {
	if err := s.SaveE(appServiceName, auth); err != nil {
		s.logger.Debug("credential save failed", "key", appServiceName, "error", err)
		return false
	}
	return true
}

// Load copies a stored token pair into auth. auth is untouched on failure.
func (s *Store) Load(appServiceName string, auth *oauth1.AuthenticationState) bool {
	if err := s.LoadE(appServiceName, auth); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("credential load failed", "key", appServiceName, "error", err)
		}
		return false
	}
	return true
}

// Remove deletes the entry under appServiceName. It reports false when
// nothing was stored or the backend failed.
func (s *Store) Remove(appServiceName string) bool {
	if err := s.RemoveE(appServiceName); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("credential remove failed", "key", appServiceName, "error", err)
		}
		return false
	}
	return true
}

// SaveE is Save with error detail.
func (s *Store) SaveE(appServiceName string, auth *oauth1.AuthenticationState) error {
	if appServiceName == "" {
		return fmt.Errorf("%w: empty key", ErrStorageFailure)
	}
	if !auth.IsAuthorized() {
		return ErrNotAuthorized
	}
	data, err := json.Marshal(entry{Token: auth.Token, TokenSecret: auth.TokenSecret})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if err := s.backend.Set(itemKey(appServiceName), string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}

// LoadE is Load with error detail.
func (s *Store) LoadE(appServiceName string, auth *oauth1.AuthenticationState) error {
	if auth == nil {
		return fmt.Errorf("%w: nil authentication", ErrStorageFailure)
	}
	data, err := s.backend.Get(itemKey(appServiceName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	var e entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return fmt.Errorf("%w: invalid credentials: %w", ErrStorageFailure, err)
	}
	if e.Token == "" || e.TokenSecret == "" {
		return fmt.Errorf("%w: incomplete credentials", ErrStorageFailure)
	}
	auth.SetTokens(e.Token, e.TokenSecret)
	return nil
}

// RemoveE is Remove with error detail.
func (s *Store) RemoveE(appServiceName string) error {
	if err := s.backend.Delete(itemKey(appServiceName)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}
