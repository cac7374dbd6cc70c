package passphrase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/forest6511/agevault/pkg/vault"
)

// DefaultFileName is the passphrase file name inside the agevault directory.
const DefaultFileName = "passphrase"

// DefaultFilePath returns <agevault dir>/passphrase.
func DefaultFilePath() (string, error) {
	dir, err := vault.DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// FileSource stores the passphrase as the sole content of a 0600 file.
// Creation is serialized across processes with an advisory lock on
// <path>.lock.
type FileSource struct {
	path string
	lock *flock.Flock
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Location returns the passphrase file path.
func (s *FileSource) Location() string { return s.path }

// Lock takes the cross-process lock, creating the directory if needed.
func (s *FileSource) Lock() error {
	if err := os.MkdirAll(filepath.Dir(s.path), vault.DirMode); err != nil {
		return err
	}
	return s.lock.Lock()
}

// Unlock releases the cross-process lock.
func (s *FileSource) Unlock() error {
	return s.lock.Unlock()
}

// Read returns the file content without its line ending. Any other
// whitespace is part of the passphrase. A blank file is ErrCorrupt.
func (s *FileSource) Read() (string, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	value := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
	if strings.TrimSpace(value) == "" {
		return "", false, fmt.Errorf("%w: %s", ErrCorrupt, s.path)
	}
	return value, true, nil
}

// Create writes value atomically with mode 0600.
func (s *FileSource) Create(value string) error {
	if err := vault.WriteFileAtomic(s.path, []byte(value), vault.FileMode, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
