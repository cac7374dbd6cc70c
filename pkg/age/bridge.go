// Package age drives the age and age-keygen command-line tools.
//
// The bridge performs no cryptography itself. Every operation starts a
// subprocess with an explicit argument vector (never a shell), and every
// failure is classified as either a missing tool or a failed run. When the
// tool is missing and the caller confirms, the bridge installs it with the
// platform package manager and retries the operation once.
package age

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options configures a Bridge. The zero value resolves binaries from the
// bundled directory or PATH and never installs anything.
type Options struct {
	AgePath    string // explicit age binary
	KeygenPath string // explicit age-keygen binary
	BinDir     string // bundled binaries; default DefaultBinDir()

	// Confirm is asked before running ProvisionCommand. Nil disables
	// provisioning.
	Confirm func(command []string) bool

	// ProvisionCommand overrides DefaultProvisionCommand(runtime.GOOS).
	ProvisionCommand    []string
	DisableProvisioning bool

	// OnProvision is called after an install attempt with its outcome.
	OnProvision func(command []string, err error)

	// Env is appended to the process environment of every subprocess.
	Env []string

	Logger *logrus.Logger
}

// Bridge runs engine operations. It is safe for concurrent use.
type Bridge struct {
	opts     Options
	log      *logrus.Logger
	lookPath func(string) (string, error)

	provisionOnce sync.Once
	provisionRan  bool
	provisionErr  error
}

// New creates a Bridge.
func New(opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Bridge{opts: opts, log: log, lookPath: exec.LookPath}
}

func (b *Bridge) environ() []string {
	if len(b.opts.Env) == 0 {
		return nil
	}
	return append(os.Environ(), b.opts.Env...)
}

// run executes name with args and classifies the outcome.
func (b *Bridge) run(ctx context.Context, op, name string, args []string, stdin io.Reader) ([]byte, error) {
	path, err := b.resolve(name)
	if err != nil {
		return nil, &OperationError{Op: op, Kind: KindToolMissing, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = b.environ()
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.log.WithFields(logrus.Fields{
		"op":   op,
		"cmd":  path,
		"args": args,
	}).Debug("running engine")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			return stdout.Bytes(), &OperationError{
				Op:     op,
				Kind:   KindFailed,
				Stderr: strings.TrimSpace(stderr.String()),
				Err:    err,
			}
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			return nil, &OperationError{Op: op, Kind: KindToolMissing, Err: err}
		default:
			return nil, &OperationError{Op: op, Kind: KindFailed, Err: err}
		}
	}
	return stdout.Bytes(), nil
}

// Version returns the output of age --version.
func (b *Bridge) Version(ctx context.Context) (string, error) {
	return withProvisioning(ctx, b, func() (string, error) {
		out, err := b.run(ctx, "version", AgeBinary, []string{"--version"}, nil)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(out)), nil
	})
}
