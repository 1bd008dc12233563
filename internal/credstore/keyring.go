package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name under which items are stored in the
// system keychain.
const KeyringService = "oauth1"

// KeyringBackend stores secrets in the OS credential vault.
type KeyringBackend struct {
	service string
}

// NewKeyringBackend returns a backend using the given keychain service name.
func NewKeyringBackend(service string) *KeyringBackend {
	if service == "" {
		service = KeyringService
	}
	return &KeyringBackend{service: service}
}

func (k *KeyringBackend) Get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (k *KeyringBackend) Set(key, value string) error {
	return keyring.Set(k.service, key, value)
}

func (k *KeyringBackend) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// KeyringAvailable probes the keychain with a throwaway item.
func KeyringAvailable(service string) bool {
	testKey := "oauth1::probe"
	if err := keyring.Set(service, testKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(service, testKey) // Best-effort cleanup
	return true
}

// NewDefaultBackend prefers the system keychain and falls back to a 0600
// file under fallbackDir. OAUTH1_NO_KEYRING or noKeyring forces the file.
func NewDefaultBackend(fallbackDir string, noKeyring bool, logger *slog.Logger) Backend {
	if noKeyring || os.Getenv("OAUTH1_NO_KEYRING") != "" {
		return NewFileBackend(fallbackDir)
	}
	if KeyringAvailable(KeyringService) {
		return NewKeyringBackend(KeyringService)
	}
	fb := NewFileBackend(fallbackDir)
	if logger != nil {
		logger.Warn("system keyring unavailable, credentials stored in plaintext", "path", fb.Path())
	} else {
		fmt.Fprintf(os.Stderr, "warning: system keyring unavailable, credentials stored in plaintext at %s\n", fb.Path())
	}
	return fb
}

// MigrateToKeyring copies every file entry into the keychain and removes the
// plaintext file once all copies succeeded.
func MigrateToKeyring(file *FileBackend, kr *KeyringBackend) (int, error) {
	var all map[string]string
	err := file.withLock(func() error {
		var err error
		all, err = file.loadAll()
		return err
	})
	if err != nil {
		return 0, err
	}
	n := 0
	for key, value := range all {
		if err := kr.Set(key, value); err != nil {
			return n, fmt.Errorf("failed to migrate %s: %w", key, err)
		}
		n++
	}
	_ = os.Remove(file.Path()) // Best-effort cleanup
	return n, nil
}
