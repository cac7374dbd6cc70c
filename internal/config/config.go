// Package config loads the optional agevault YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/agevault/pkg/audit"
	"github.com/forest6511/agevault/pkg/passphrase"
	"github.com/forest6511/agevault/pkg/vault"
)

// FileName is the configuration file inside the agevault home.
const FileName = "config.yaml"

// Version is the only supported configuration version.
const Version = 1

// Passphrase backends
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
)

// ErrConfigSymlink is returned when the configuration file is a symlink
var ErrConfigSymlink = errors.New("config: file is a symlink")

// ErrConfigInsecure is returned when others can write the configuration
// file. It names commands agevault may run, so this is fatal.
var ErrConfigInsecure = errors.New("config: file is writable by group or others")

// ErrConfigNotOwnedByUser is returned when the file belongs to another user
var ErrConfigNotOwnedByUser = errors.New("config: file not owned by current user")

// Engine locates the age binaries.
type Engine struct {
	Age    string `yaml:"age"`
	Keygen string `yaml:"age_keygen"`
	BinDir string `yaml:"bin_dir"`
}

// Provisioning controls installing age when it is missing.
type Provisioning struct {
	Enabled  *bool               `yaml:"enabled"`
	Commands map[string][]string `yaml:"commands"`
}

// Config is the on-disk configuration. Empty fields fall back to defaults.
type Config struct {
	Version           int          `yaml:"version"`
	Vault             string       `yaml:"vault_path"`
	Passphrase        string       `yaml:"passphrase_path"`
	PassphraseBackend string       `yaml:"passphrase_backend"`
	Level             string       `yaml:"log_level"`
	Engine            Engine       `yaml:"engine"`
	Provisioning      Provisioning `yaml:"provisioning"`

	home string
}

// Home returns the agevault home directory ($AGEVAULT_HOME or
// <UserConfigDir>/agevault).
func Home() (string, error) {
	return vault.DefaultDir()
}

// DefaultPath returns <home>/config.yaml.
func DefaultPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := Home()
	return &Config{
		Version:           Version,
		PassphraseBackend: BackendFile,
		Level:             logrus.WarnLevel.String(),
		home:              home,
	}
}

// Load reads the configuration at path (empty = DefaultPath). A missing
// file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	f, err := openConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	// fstat the opened descriptor, not the path
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config: %s is a directory", path)
	}
	if err := checkFileSecurity(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(content, filepath.Dir(path))
}

// Parse decodes YAML content. Relative paths are resolved against dir.
func Parse(content []byte, dir string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}

	if cfg.Version != Version {
		return nil, fmt.Errorf("config: unsupported version: %d", cfg.Version)
	}

	switch cfg.PassphraseBackend {
	case "":
		cfg.PassphraseBackend = BackendFile
	case BackendFile, BackendKeyring:
	default:
		return nil, fmt.Errorf("config: unknown passphrase_backend %q", cfg.PassphraseBackend)
	}

	if cfg.Level == "" {
		cfg.Level = logrus.WarnLevel.String()
	}
	if _, err := logrus.ParseLevel(cfg.Level); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	for goos, cmd := range cfg.Provisioning.Commands {
		if len(cmd) == 0 || strings.TrimSpace(cmd[0]) == "" {
			return nil, fmt.Errorf("config: empty provisioning command for %s", goos)
		}
	}

	for _, p := range []*string{&cfg.Vault, &cfg.Passphrase, &cfg.Engine.Age, &cfg.Engine.Keygen, &cfg.Engine.BinDir} {
		*p = resolvePath(*p, dir)
	}
	return cfg, nil
}

func resolvePath(p, dir string) string {
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "~"+string(filepath.Separator)) || p == "~" {
		if userHome, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(userHome, p[1:])
		}
	}
	if !filepath.IsAbs(p) && dir != "" {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}

// VaultPath returns the key storage file.
func (c *Config) VaultPath() string {
	if c.Vault != "" {
		return c.Vault
	}
	return filepath.Join(c.home, vault.DefaultFileName)
}

// PassphrasePath returns the auto-generated passphrase file.
func (c *Config) PassphrasePath() string {
	if c.Passphrase != "" {
		return c.Passphrase
	}
	return filepath.Join(c.home, passphrase.DefaultFileName)
}

// AuditDir returns the audit log directory, next to the vault file.
func (c *Config) AuditDir() string {
	return filepath.Join(filepath.Dir(c.VaultPath()), audit.DirName)
}

// LogLevel returns the configured level, Warn when unset.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}

// ProvisioningEnabled reports whether a missing engine may be installed.
func (c *Config) ProvisioningEnabled() bool {
	return c.Provisioning.Enabled == nil || *c.Provisioning.Enabled
}

// ProvisionCommand returns the configured install command for goos, or nil
// to use the built-in default.
func (c *Config) ProvisionCommand(goos string) []string {
	return c.Provisioning.Commands[goos]
}
