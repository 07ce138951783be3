package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "agentdesk"
	// APIKeyName is both the keyring entry and the environment override for
	// the completion backend key.
	APIKeyName = "AGENTDESK_API_KEY"
)

// ErrNotFound indicates that a requested secret was not found in a backend.
var ErrNotFound = errors.New("secret not found")

// Backend stores a single secret value.
type Backend interface {
	Name() string
	Get() (string, error)
	Set(value string) error
	Delete() error
}

// KeyringBackend keeps the secret in the system keyring.
type KeyringBackend struct {
	Service string
	Key     string
}

// NewKeyringBackend returns the keyring backend for the API key.
func NewKeyringBackend() *KeyringBackend {
	return &KeyringBackend{Service: serviceName, Key: APIKeyName}
}

func (k *KeyringBackend) Name() string { return "keyring" }

func (k *KeyringBackend) Get() (string, error) {
	secret, err := keyring.Get(k.Service, k.Key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read secret %q: %w", k.Key, err)
	}
	return secret, nil
}

func (k *KeyringBackend) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("secret %q cannot be empty", k.Key)
	}
	if err := keyring.Set(k.Service, k.Key, trimmed); err != nil {
		return fmt.Errorf("store secret %q: %w", k.Key, err)
	}
	return nil
}

func (k *KeyringBackend) Delete() error {
	if err := keyring.Delete(k.Service, k.Key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete secret %q: %w", k.Key, err)
	}
	return nil
}
