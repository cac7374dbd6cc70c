package age

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// KeyPair is a freshly generated age identity.
type KeyPair struct {
	PublicKey  string  `json:"publicKey"`
	PrivateKey string  `json:"privateKey"`
	Comment    *string `json:"comment,omitempty"`
}

const (
	publicKeyPrefix = "# public key: "
	secretKeyPrefix = "AGE-SECRET-KEY-"
	createdMarker   = "# created:"
)

// GenerateKeyPair runs age-keygen and parses the new key pair from its
// output. A non-empty comment replaces the "created:" comment age-keygen
// writes.
func (b *Bridge) GenerateKeyPair(ctx context.Context, comment *string) (KeyPair, error) {
	return withProvisioning(ctx, b, func() (KeyPair, error) {
		out, err := b.run(ctx, "generate", KeygenBinary, nil, nil)
		if err != nil {
			return KeyPair{}, err
		}
		kp, err := parseKeygenOutput(out)
		if err != nil {
			return KeyPair{}, &OperationError{Op: "generate", Kind: KindFailed, Err: err}
		}
		if comment != nil {
			if c := strings.TrimSpace(*comment); c != "" {
				kp.Comment = &c
			}
		}
		b.log.WithField("public_key", kp.PublicKey).Info("generated key pair")
		return kp, nil
	})
}

func parseKeygenOutput(out []byte) (KeyPair, error) {
	var kp KeyPair
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case kp.PublicKey == "" && strings.HasPrefix(line, publicKeyPrefix):
			kp.PublicKey = strings.TrimSpace(strings.TrimPrefix(line, publicKeyPrefix))
		case kp.PrivateKey == "" && strings.HasPrefix(line, secretKeyPrefix):
			kp.PrivateKey = line
		case kp.Comment == nil && strings.Contains(line, createdMarker):
			c := strings.TrimSpace(strings.TrimLeft(line, "#"))
			kp.Comment = &c
		}
	}
	if err := scanner.Err(); err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrUnparsableOutput, err)
	}
	if kp.PublicKey == "" {
		return KeyPair{}, fmt.Errorf("%w: no public key", ErrUnparsableOutput)
	}
	if kp.PrivateKey == "" {
		return KeyPair{}, fmt.Errorf("%w: no private key", ErrUnparsableOutput)
	}
	return kp, nil
}

// DeriveRecipient returns the public recipient for an identity, given
// either the path to an identity file or inline key material. An existing
// file wins over the inline reading. Inline material is passed on stdin.
func (b *Bridge) DeriveRecipient(ctx context.Context, identity string) (string, error) {
	trimmed := strings.TrimSpace(identity)
	var (
		args  []string
		stdin string
	)
	switch {
	case isIdentityFile(trimmed):
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		args = []string{"-y", "--", abs}
	case isInlineIdentity(trimmed):
		stdin = trimmed + "\n"
		args = []string{"-y"}
	default:
		return "", ErrInvalidIdentity
	}

	return withProvisioning(ctx, b, func() (string, error) {
		var in io.Reader
		if stdin != "" {
			in = strings.NewReader(stdin)
		}
		out, err := b.run(ctx, "recipient", KeygenBinary, args, in)
		if err != nil {
			return "", err
		}
		recipient := firstLine(out)
		if recipient == "" {
			return "", &OperationError{Op: "recipient", Kind: KindFailed, Err: ErrUnparsableOutput}
		}
		return recipient, nil
	})
}

func firstLine(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}
