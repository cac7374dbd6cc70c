// Package exchange moves key records between machines as portable
// encrypted bundles.
//
// A bundle uses the same file format as the key storage but is keyed by a
// passphrase the user chooses, so it can be carried to a machine that does
// not share the local auto-generated passphrase. Import never writes to the
// key storage; callers merge and persist the result themselves.
package exchange

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/forest6511/agevault/pkg/crypto"
	"github.com/forest6511/agevault/pkg/vault"
)

// FileExtension is appended to export paths that have no extension.
const FileExtension = ".agekeys"

// ExportPath returns dest with FileExtension added when it has none.
func ExportPath(dest string) string {
	if filepath.Ext(dest) == "" {
		return dest + FileExtension
	}
	return dest
}

// Export seals records under passphrase and writes them to dest with mode
// 0600. It returns the path actually written.
func Export(passphrase string, records []vault.KeyRecord, dest string) (string, error) {
	check, err := ValidatePassphrase(passphrase)
	if err != nil {
		return "", err
	}
	if dest == "" {
		return "", errors.New("exchange: destination path is required")
	}

	key := []byte(check.Normalized)
	defer crypto.SecureWipe(key)

	data, err := vault.SealBytes(key, records)
	if err != nil {
		return "", err
	}

	path := ExportPath(dest)
	if err := vault.WriteFileAtomic(path, data, vault.FileMode, nil); err != nil {
		return "", fmt.Errorf("exchange: failed to write export: %w", err)
	}
	return path, nil
}

// Import reads and opens the bundle at src. A wrong passphrase or a
// damaged file yields vault.ErrUnlockFailed.
func Import(passphrase string, src string) ([]vault.KeyRecord, error) {
	check, err := ValidatePassphrase(passphrase)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrExportNotFound, src)
	}
	if err != nil {
		return nil, fmt.Errorf("exchange: failed to read export: %w", err)
	}

	key := []byte(check.Normalized)
	defer crypto.SecureWipe(key)

	return vault.OpenBytes(key, data)
}

// ImportInto imports src and merges it into existing by id.
func ImportInto(existing []vault.KeyRecord, passphrase, src string) ([]vault.KeyRecord, vault.MergeReport, error) {
	incoming, err := Import(passphrase, src)
	if err != nil {
		return nil, vault.MergeReport{}, err
	}
	merged, report := vault.Merge(existing, incoming)
	return merged, report, nil
}
