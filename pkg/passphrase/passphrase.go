// Package passphrase manages the machine-local passphrase that protects the
// key storage.
//
// The first call to Manager.GetOrCreate generates 32 random bytes, encodes
// them as unpadded base64url and persists the result through a Source. Later
// calls, in this process or another one, return the stored value unchanged.
//
// The default FileSource keeps the passphrase in plaintext beside the key
// storage, readable only by the owner. Anyone who can read both files can
// open the vault. KeyringSource moves the value into the OS keyring instead.
package passphrase

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/forest6511/agevault/pkg/crypto"
)

// TokenBytes is the amount of randomness in a generated passphrase.
const TokenBytes = 32

var (
	// ErrUnavailable indicates the passphrase could not be read or persisted.
	ErrUnavailable = errors.New("passphrase: storage unavailable")

	// ErrCorrupt indicates a stored passphrase that is empty.
	ErrCorrupt = errors.New("passphrase: stored value is empty")
)

// Passphrase is a secret value. It formats as [REDACTED] so it cannot leak
// through logs or %v verbs; use Reveal or Bytes to get the value.
type Passphrase string

const redacted = "[REDACTED]"

func (p Passphrase) String() string   { return redacted }
func (p Passphrase) GoString() string { return redacted }

// Reveal returns the passphrase value.
func (p Passphrase) Reveal() string { return string(p) }

// Bytes returns the passphrase as a new byte slice the caller may wipe.
func (p Passphrase) Bytes() []byte { return []byte(p) }

// Source is a place a passphrase can be stored.
type Source interface {
	// Read returns the stored value. ok is false if nothing is stored yet.
	Read() (value string, ok bool, err error)

	// Create stores value. It is only called when Read reported nothing.
	Create(value string) error

	// Lock serializes GetOrCreate across processes where the source
	// supports it.
	Lock() error
	Unlock() error

	// Location describes where the value lives, for display.
	Location() string
}

// Manager hands out the passphrase, creating it on first use.
type Manager struct {
	src Source
	log *logrus.Logger
	mu  sync.Mutex
}

// NewManager creates a Manager backed by src. A nil logger discards output.
func NewManager(src Source, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Manager{src: src, log: log}
}

// Location describes where the passphrase is stored.
func (m *Manager) Location() string {
	return m.src.Location()
}

// GetOrCreate returns the stored passphrase, generating and persisting one
// if none exists. Concurrent callers observe the same value and the value
// is written exactly once.
func (m *Manager) GetOrCreate() (Passphrase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.src.Lock(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		if err := m.src.Unlock(); err != nil {
			m.log.WithError(err).Warn("failed to release passphrase lock")
		}
	}()

	value, ok, err := m.src.Read()
	if err != nil {
		return "", err
	}
	if ok {
		return Passphrase(value), nil
	}

	value, err = crypto.RandomToken(TokenBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := m.src.Create(value); err != nil {
		return "", err
	}

	m.log.WithField("location", m.src.Location()).Info("generated new vault passphrase")
	return Passphrase(value), nil
}

// Exists reports whether a passphrase has been stored.
func (m *Manager) Exists() (bool, error) {
	_, ok, err := m.src.Read()
	if errors.Is(err, ErrCorrupt) {
		return true, nil
	}
	return ok, err
}
