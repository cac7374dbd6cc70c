//go:build !windows

package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openConfigFile opens the file with O_NOFOLLOW to reject symlinks
func openConfigFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrConfigSymlink
		}
		return nil, fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	return f, nil
}

// checkFileSecurity rejects files others can write or that belong to
// another user.
func checkFileSecurity(info os.FileInfo) error {
	if perm := info.Mode().Perm(); perm&0022 != 0 {
		return fmt.Errorf("%w: %o", ErrConfigInsecure, perm)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Uid != uint32(os.Getuid()) {
		return ErrConfigNotOwnedByUser
	}
	return nil
}
