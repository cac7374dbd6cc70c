package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// HomeEnv overrides the agevault data directory.
	HomeEnv = "AGEVAULT_HOME"

	DefaultDirName  = "agevault"
	DefaultFileName = "keys.enc"

	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only

	MinDiskSpaceBytes  = 1024 * 1024 // 1 MB minimum free space
	DiskWarningPercent = 90          // Warn when disk is 90% full
)

// DefaultDir returns $AGEVAULT_HOME, or <UserConfigDir>/agevault.
func DefaultDir() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("vault: failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, DefaultDirName), nil
}

// DefaultPath returns the default key storage file path.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultFileName), nil
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Path is used whenever a method receives an empty path. Empty means
	// DefaultPath.
	Path string

	// Logger receives Info and Warn events. Nil discards them.
	Logger *logrus.Logger
}

// Store loads and saves sealed record sets. It performs no locking;
// concurrent writers race and the last rename wins.
type Store struct {
	path string
	log  *logrus.Logger

	// beforeRename is called between the durable temp write and the rename.
	beforeRename func(tmpPath string) error
}

// NewStore creates a Store.
func NewStore(opts StoreOptions) *Store {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Store{path: opts.Path, log: log}
}

// Resolve returns path, or the store default when path is empty.
func (s *Store) Resolve(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if s.path != "" {
		return s.path, nil
	}
	return DefaultPath()
}

// Exists reports whether a key storage file exists at path.
func (s *Store) Exists(path string) (bool, error) {
	p, err := s.Resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("vault: failed to stat key storage: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("vault: %s is a directory", p)
	}
	return true, nil
}

// Load reads and decrypts the key storage at path.
func (s *Store) Load(path string, passphrase []byte) ([]KeyRecord, error) {
	p, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read key storage: %w", err)
	}
	s.warnPermissions(p)

	records, err := OpenBytes(passphrase, data)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"path": p, "records": len(records)}).Debug("key storage loaded")
	return records, nil
}

// Save seals records and atomically replaces the key storage at path.
// On any failure the previous file is left untouched.
func (s *Store) Save(path string, passphrase []byte, records []KeyRecord) error {
	p, err := s.Resolve(path)
	if err != nil {
		return err
	}

	data, err := SealBytes(passphrase, records)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(p), DirMode); err != nil {
		return fmt.Errorf("vault: failed to create directory: %w", err)
	}
	if err := s.checkDiskSpaceForWrite(filepath.Dir(p), len(data)); err != nil {
		return err
	}

	if err := WriteFileAtomic(p, data, FileMode, s.beforeRename); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"path": p, "records": len(records)}).Info("key storage saved")
	return nil
}

// Status describes a key storage file without decrypting it.
type Status struct {
	Path             string    `json:"path"`
	Exists           bool      `json:"exists"`
	Size             int64     `json:"size,omitempty"`
	ModTime          time.Time `json:"mod_time,omitempty"`
	Version          uint32    `json:"version,omitempty"`
	FormatValid      bool      `json:"format_valid"`
	PermissionsValid bool      `json:"permissions_valid"`
	Errors           []string  `json:"errors,omitempty"`
}

// Stat checks the file framing and permissions. It needs no passphrase, so
// it cannot tell whether the ciphertext is intact.
func (s *Store) Stat(path string) (*Status, error) {
	p, err := s.Resolve(path)
	if err != nil {
		return nil, err
	}
	st := &Status{Path: p, PermissionsValid: true}

	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vault: failed to stat key storage: %w", err)
	}
	st.Exists = true
	st.Size = info.Size()
	st.ModTime = info.ModTime()

	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			st.PermissionsValid = false
			st.Errors = append(st.Errors, fmt.Sprintf("key storage has insecure permissions: %04o (expected 0600)", perm))
		}
		if dirInfo, err := os.Stat(filepath.Dir(p)); err == nil {
			if perm := dirInfo.Mode().Perm(); perm&0077 != 0 {
				st.PermissionsValid = false
				st.Errors = append(st.Errors, fmt.Sprintf("key storage directory has insecure permissions: %04o (expected 0700)", perm))
			}
		}
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to read key storage: %w", err)
	}
	f, err := UnmarshalFile(data)
	if err != nil {
		st.Errors = append(st.Errors, err.Error())
		return st, nil
	}
	st.Version = f.Version
	st.FormatValid = true
	return st, nil
}

func (s *Store) warnPermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		s.log.WithField("path", path).Warnf("key storage has insecure permissions %04o (expected 0600)", perm)
	}
}

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// CheckDiskSpace returns disk space information for dir.
func CheckDiskSpace(dir string) (*DiskSpaceInfo, error) {
	return diskSpace(dir)
}

func (s *Store) checkDiskSpaceForWrite(dir string, dataSize int) error {
	info, err := diskSpace(dir)
	if err != nil {
		// Unknown free space does not block the write
		s.log.WithError(err).Warn("failed to check disk space")
		return nil
	}

	// Need at least MinDiskSpaceBytes or 2x the data size, whichever is larger
	required := uint64(MinDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d KB available, need at least %d KB",
			ErrInsufficientDisk,
			info.Available/1024,
			required/1024)
	}

	if info.UsedPct >= DiskWarningPercent {
		s.log.Warnf("disk is %d%% full, consider freeing space", info.UsedPct)
	}
	return nil
}
