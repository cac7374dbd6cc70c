package age

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultProvisionCommand returns the install command for goos, or nil
// when there is no known package manager.
func DefaultProvisionCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"brew", "install", "age"}
	case "linux":
		return []string{"sudo", "apt-get", "install", "-y", "age"}
	case "windows":
		return []string{"winget", "install", "--id", "FiloSottile.age", "-e"}
	default:
		return nil
	}
}

func (b *Bridge) provisionCommand() []string {
	if len(b.opts.ProvisionCommand) > 0 {
		return b.opts.ProvisionCommand
	}
	return DefaultProvisionCommand(runtime.GOOS)
}

// provision runs the install command at most once per Bridge. It reports
// whether an install ran and, if so, whether it failed.
func (b *Bridge) provision(ctx context.Context) (ran bool, err error) {
	b.provisionOnce.Do(func() {
		b.provisionRan, b.provisionErr = b.runProvision(ctx)
	})
	return b.provisionRan, b.provisionErr
}

func (b *Bridge) runProvision(ctx context.Context) (bool, error) {
	if b.opts.DisableProvisioning || b.opts.Confirm == nil {
		return false, nil
	}
	command := b.provisionCommand()
	if len(command) == 0 {
		b.log.WithField("os", runtime.GOOS).Debug("no install command for this platform")
		return false, nil
	}
	if !b.opts.Confirm(command) {
		b.log.Info("engine install declined")
		return false, nil
	}

	b.log.WithField("cmd", strings.Join(command, " ")).Info("installing encryption engine")

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Env = b.environ()
	cmd.Stdin = os.Stdin
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		err = fmt.Errorf("%s: %w: %s", command[0], err, strings.TrimSpace(output.String()))
		b.log.WithError(err).Warn("engine install failed")
	}
	if b.opts.OnProvision != nil {
		b.opts.OnProvision(command, err)
	}
	return true, err
}

// withProvisioning runs fn and, if it reports a missing tool, offers to
// install the engine and runs fn exactly once more.
func withProvisioning[T any](ctx context.Context, b *Bridge, fn func() (T, error)) (T, error) {
	result, err := fn()
	if !errors.Is(err, ErrToolMissing) {
		return result, err
	}

	ran, perr := b.provision(ctx)
	if !ran {
		return result, err
	}
	if perr != nil {
		var opErr *OperationError
		if errors.As(err, &opErr) {
			annotated := *opErr
			annotated.Provision = perr
			return result, &annotated
		}
		return result, err
	}

	b.log.WithFields(logrus.Fields{"retry": 1}).Debug("retrying after engine install")
	return fn()
}
