//go:build windows

package config

import (
	"errors"
	"fmt"
	"os"
)

// openConfigFile has no O_NOFOLLOW on Windows; Lstat stands in for it.
func openConfigFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrConfigSymlink
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op; ACLs govern access.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
