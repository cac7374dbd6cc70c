package age

import (
	"os"
	"path/filepath"
	"runtime"
)

// Binary names.
const (
	AgeBinary    = "age"
	KeygenBinary = "age-keygen"
)

// DefaultBinDir returns <executable dir>/resources/binaries, where
// packaged builds ship the engine.
func DefaultBinDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "resources", "binaries")
}

// resolve finds a binary: explicit path, then <bindir>/<name>, then
// <bindir>/<goos>/<name>, then PATH.
func (b *Bridge) resolve(name string) (string, error) {
	explicit := b.opts.AgePath
	if name == KeygenBinary {
		explicit = b.opts.KeygenPath
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	file := name
	if runtime.GOOS == "windows" {
		file += ".exe"
	}
	if dir := b.binDir(); dir != "" {
		for _, p := range []string{
			filepath.Join(dir, file),
			filepath.Join(dir, runtime.GOOS, file),
		} {
			if isRegularFile(p) {
				return p, nil
			}
		}
	}

	return b.lookPath(name)
}

func (b *Bridge) binDir() string {
	if b.opts.BinDir != "" {
		return b.opts.BinDir
	}
	return DefaultBinDir()
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Locate reports where each engine binary resolves to. Unresolvable
// binaries map to an empty string.
func (b *Bridge) Locate() map[string]string {
	out := make(map[string]string, 2)
	for _, name := range []string{AgeBinary, KeygenBinary} {
		p, err := b.resolve(name)
		if err != nil {
			p = ""
		}
		out[name] = p
	}
	return out
}
