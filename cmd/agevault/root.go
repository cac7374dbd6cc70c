package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/agevault/internal/config"
	"github.com/forest6511/agevault/internal/ui"
	"github.com/forest6511/agevault/pkg/age"
	"github.com/forest6511/agevault/pkg/audit"
	"github.com/forest6511/agevault/pkg/passphrase"
	"github.com/forest6511/agevault/pkg/vault"
)

// Global flags
var (
	configPath  string
	vaultFlag   string
	verboseFlag bool
	debugFlag   bool
	assumeYes   bool
)

// app holds the components built for one invocation.
var app *session

type session struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *vault.Store
	pass   *passphrase.Manager
	bridge *age.Bridge
	audit  *audit.Logger

	// secret caches the passphrase once unlocked.
	secret *passphrase.Passphrase
}

var rootCmd = &cobra.Command{
	Use:   "agevault",
	Short: "agevault keeps age keys in encrypted local storage",
	Long: `agevault stores age key pairs in a passphrase-encrypted file and
drives the age tool to encrypt and decrypt files with them.

The storage passphrase is generated on first use and kept next to the
key storage (or in the OS keyring when configured).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and builds the session.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return nil
		}
		s, err := newSession()
		if err != nil {
			return err
		}
		app = s
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default <home>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Key storage file (overrides configuration)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log informational messages")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Log debug messages, including engine command lines")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to confirmation prompts")
}

func newSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if vaultFlag != "" {
		cfg.Vault = vaultFlag
	}

	log := newLogger(cfg.LogLevel())

	var src passphrase.Source
	switch cfg.PassphraseBackend {
	case config.BackendKeyring:
		ks, err := passphrase.OpenKeyringSource()
		if err != nil {
			return nil, err
		}
		src = ks
	default:
		src = passphrase.NewFileSource(cfg.PassphrasePath())
	}

	s := &session{
		cfg:   cfg,
		log:   log,
		store: vault.NewStore(vault.StoreOptions{Path: cfg.VaultPath(), Logger: log}),
		pass:  passphrase.NewManager(src, log),
		audit: audit.NewLogger(cfg.AuditDir()),
	}
	s.bridge = age.New(age.Options{
		AgePath:             cfg.Engine.Age,
		KeygenPath:          cfg.Engine.Keygen,
		BinDir:              cfg.Engine.BinDir,
		Confirm:             confirmInstall,
		ProvisionCommand:    cfg.ProvisionCommand(runtime.GOOS),
		DisableProvisioning: !cfg.ProvisioningEnabled(),
		OnProvision:         s.recordProvision,
		Logger:              log,
	})
	return s, nil
}

func newLogger(level logrus.Level) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case debugFlag:
		log.SetLevel(logrus.DebugLevel)
	case verboseFlag:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(level)
	}
	return log
}

func quiet() bool {
	return verboseFlag || debugFlag
}

// unlock returns the storage passphrase, creating it on first use, and
// keys the audit log with it.
func (s *session) unlock() (passphrase.Passphrase, error) {
	if s.secret != nil {
		return *s.secret, nil
	}
	existed, err := s.pass.Exists()
	if err != nil {
		return "", err
	}
	p, err := s.pass.GetOrCreate()
	if err != nil {
		return "", err
	}
	s.secret = &p
	if err := s.audit.SetHMACKey(p.Bytes()); err != nil {
		s.log.WithError(err).Warn("audit log disabled")
	}
	if !existed {
		s.record(audit.OpPassphraseCreate, "", nil, nil)
	}
	return p, nil
}

// loadRecords unlocks and loads the key storage. A missing storage file is
// an empty record set.
func (s *session) loadRecords() ([]vault.KeyRecord, error) {
	p, err := s.unlock()
	if err != nil {
		return nil, err
	}

	sp := ui.StartSpinner("Unlocking key storage...", quiet())
	records, err := s.store.Load("", p.Bytes())
	if errors.Is(err, vault.ErrVaultNotFound) {
		sp.Stop("")
		return []vault.KeyRecord{}, nil
	}
	if err != nil {
		sp.Failed("Unable to unlock key storage")
		s.record(audit.OpVaultLoad, "", err, nil)
		return nil, err
	}
	sp.Stop("")
	s.record(audit.OpVaultLoad, "", nil, map[string]interface{}{"records": len(records)})
	return records, nil
}

// saveRecords seals and atomically replaces the key storage.
func (s *session) saveRecords(records []vault.KeyRecord) error {
	p, err := s.unlock()
	if err != nil {
		return err
	}

	sp := ui.StartSpinner("Saving key storage...", quiet())
	err = s.store.Save("", p.Bytes(), records)
	if err != nil {
		sp.Failed("Failed to save key storage")
	} else {
		sp.Stop("")
	}
	s.record(audit.OpVaultSave, "", err, map[string]interface{}{"records": len(records)})
	return err
}

// record appends an audit event. Audit failures never fail the command.
func (s *session) record(op, keyID string, opErr error, ctx map[string]interface{}) {
	if s.secret == nil {
		return
	}
	var err error
	if opErr != nil {
		err = s.audit.Log(op, audit.SourceCLI, audit.ResultError, keyID, &audit.ErrorInfo{
			Code:    errorCode(opErr),
			Message: opErr.Error(),
		}, ctx)
	} else {
		err = s.audit.Log(op, audit.SourceCLI, audit.ResultSuccess, keyID, nil, ctx)
	}
	if err != nil {
		s.log.WithError(err).WithField("op", op).Warn("failed to write audit event")
	}
}

func (s *session) recordProvision(command []string, err error) {
	s.record(audit.OpEngineProvision, "", err, map[string]interface{}{"cmd": strings.Join(command, " ")})
}

// errorCode maps an error onto a short audit code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, vault.ErrUnlockFailed):
		return "unlock_failed"
	case errors.Is(err, vault.ErrVaultNotFound), errors.Is(err, vault.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, age.ErrToolMissing):
		return "tool_missing"
	case errors.Is(err, age.ErrOperationFailed):
		return "engine_failed"
	case errors.Is(err, vault.ErrInsufficientDisk):
		return "disk_full"
	default:
		return "error"
	}
}

// confirmInstall asks before running the engine install command.
func confirmInstall(command []string) bool {
	return confirm(fmt.Sprintf("Install age with %q?", strings.Join(command, " ")))
}

// confirm asks a yes/no question on stderr. Without a terminal the answer
// is no unless --yes was given.
func confirm(question string) bool {
	if assumeYes {
		return true
	}
	if !isTerminal(int(os.Stdin.Fd())) {
		return false
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	answer, err := readLine()
	if err != nil {
		return false
	}
	return parseYes(answer)
}

func parseYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// readPassphrase reads a passphrase without echo, or from the first line
// of file when one is given.
func readPassphrase(prompt, file string, confirmEntry bool) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return strings.TrimSuffix(line, "\r"), nil
	}

	if !isTerminal(int(os.Stdin.Fd())) {
		return readLine()
	}

	fmt.Fprint(os.Stderr, prompt+": ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if !confirmEntry {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm "+strings.ToLower(prompt[:1])+prompt[1:]+": ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

func readLine() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// parseDuration extends time.ParseDuration with d, w, m and y units.
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	switch unit {
	case 'd', 'w', 'm', 'y':
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
			return 0, fmt.Errorf("invalid duration value: %s", valueStr)
		}
	}

	switch unit {
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
