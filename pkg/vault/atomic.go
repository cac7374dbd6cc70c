package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces path with data. The data is written to a temp
// file in the same directory, synced, given perm, and renamed over path, so
// readers observe either the old content or the new content in full.
// beforeRename, if non-nil, runs after the temp file is durable and before
// the rename; an error from it aborts the write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, beforeRename func(tmpPath string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("vault: failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("vault: failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("vault: failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("vault: failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("vault: failed to set permissions: %w", err)
	}

	if beforeRename != nil {
		if err = beforeRename(tmpPath); err != nil {
			return err
		}
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vault: failed to replace %s: %w", filepath.Base(path), err)
	}

	// The rename is done; a failed directory sync only weakens durability.
	_ = syncDir(dir)
	return nil
}
