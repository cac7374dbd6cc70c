package passphrase

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const (
	// KeyringService is the service name agevault registers with the OS keyring.
	KeyringService = "agevault"

	// KeyringKey is the item key holding the vault passphrase.
	KeyringKey = "vault-passphrase"
)

// KeyringSource stores the passphrase in an OS keyring. Locking is
// in-process only; keyring backends offer no cross-process lock.
type KeyringSource struct {
	ring keyring.Keyring
	key  string
	mu   sync.Mutex
}

// OpenKeyringSource opens the platform keyring under KeyringService.
func OpenKeyringSource() (*KeyringSource, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: KeyringService,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open keyring: %w", ErrUnavailable, err)
	}
	return NewKeyringSource(ring, KeyringKey), nil
}

// NewKeyringSource wraps an already opened keyring.
func NewKeyringSource(ring keyring.Keyring, key string) *KeyringSource {
	return &KeyringSource{ring: ring, key: key}
}

// Location describes the keyring item.
func (s *KeyringSource) Location() string {
	return "keyring:" + KeyringService + "/" + s.key
}

func (s *KeyringSource) Lock() error   { s.mu.Lock(); return nil }
func (s *KeyringSource) Unlock() error { s.mu.Unlock(); return nil }

// Read fetches the keyring item unchanged. A blank item is ErrCorrupt.
func (s *KeyringSource) Read() (string, bool, error) {
	item, err := s.ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to read keyring: %w", ErrUnavailable, err)
	}

	value := string(item.Data)
	if strings.TrimSpace(value) == "" {
		return "", false, fmt.Errorf("%w: %s", ErrCorrupt, s.Location())
	}
	return value, true, nil
}

// Create stores value as a keyring item.
func (s *KeyringSource) Create(value string) error {
	err := s.ring.Set(keyring.Item{
		Key:         s.key,
		Data:        []byte(value),
		Label:       "agevault vault passphrase",
		Description: "Protects the agevault key storage",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to store in keyring: %w", ErrUnavailable, err)
	}
	return nil
}
