package age

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// EncryptionResult describes a completed EncryptFile.
type EncryptionResult struct {
	InputFile      string   `json:"inputFile"`
	OutputFile     string   `json:"outputFile"`
	Recipients     []string `json:"publicKeys"`
	RecipientCount int      `json:"recipientCount"`
	Armor          bool     `json:"armor"`
}

// DecryptionResult describes a completed DecryptFile. Identity is the
// identity file path, or a placeholder when inline material was used.
type DecryptionResult struct {
	InputFile  string `json:"inputFile"`
	OutputFile string `json:"outputFile"`
	Identity   string `json:"identity"`
}

// InlineIdentityLabel replaces inline key material in results and logs.
const InlineIdentityLabel = "[inline identity]"

// EncryptFile encrypts input to output for every recipient. With armor the
// output is PEM-style ASCII.
func (b *Bridge) EncryptFile(ctx context.Context, input, output string, recipients []string, armor bool) (EncryptionResult, error) {
	absIn, absOut, err := checkPaths(input, output)
	if err != nil {
		return EncryptionResult{}, err
	}
	cleaned, err := checkRecipients(recipients)
	if err != nil {
		return EncryptionResult{}, err
	}

	args := make([]string, 0, 4+2*len(cleaned)+2)
	if armor {
		args = append(args, "--armor")
	}
	args = append(args, "-o", absOut)
	for _, r := range cleaned {
		args = append(args, "-r", r)
	}
	args = append(args, "--", absIn)

	return withProvisioning(ctx, b, func() (EncryptionResult, error) {
		if _, err := b.run(ctx, "encrypt", AgeBinary, args, nil); err != nil {
			return EncryptionResult{}, err
		}
		return EncryptionResult{
			InputFile:      absIn,
			OutputFile:     absOut,
			Recipients:     cleaned,
			RecipientCount: len(cleaned),
			Armor:          armor,
		}, nil
	})
}

// DecryptFile decrypts input to output. identity is the path of an
// identity file or inline key material (AGE-SECRET-KEY-..., -----BEGIN...,
// ssh-...). An existing file wins over the inline reading. Inline material
// is written to a private temp file for the run.
func (b *Bridge) DecryptFile(ctx context.Context, input, output, identity string) (DecryptionResult, error) {
	absIn, absOut, err := checkPaths(input, output)
	if err != nil {
		return DecryptionResult{}, err
	}

	trimmed := strings.TrimSpace(identity)
	result := DecryptionResult{InputFile: absIn, OutputFile: absOut}

	var identityPath string
	switch {
	case isIdentityFile(trimmed):
		identityPath, err = filepath.Abs(trimmed)
		if err != nil {
			return DecryptionResult{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		result.Identity = identityPath
	case isInlineIdentity(trimmed):
		path, cleanup, err := writeTempIdentity(trimmed)
		if err != nil {
			return DecryptionResult{}, err
		}
		defer cleanup()
		identityPath = path
		result.Identity = InlineIdentityLabel
	default:
		return DecryptionResult{}, ErrInvalidIdentity
	}

	args := []string{"-d", "-i", identityPath, "-o", absOut, "--", absIn}
	return withProvisioning(ctx, b, func() (DecryptionResult, error) {
		if _, err := b.run(ctx, "decrypt", AgeBinary, args, nil); err != nil {
			return DecryptionResult{}, err
		}
		return result, nil
	})
}

// isIdentityFile reports whether s names an existing regular file. Multi-line
// input is always key material.
func isIdentityFile(s string) bool {
	return s != "" && !strings.ContainsAny(s, "\r\n") && isRegularFile(s)
}

func isInlineIdentity(s string) bool {
	return strings.HasPrefix(s, "AGE-SECRET-KEY-") ||
		strings.HasPrefix(s, "-----BEGIN") ||
		strings.HasPrefix(s, "ssh-")
}

// writeTempIdentity writes material to a 0600 file inside a fresh 0700
// directory. cleanup overwrites and removes both.
func writeTempIdentity(material string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "agevault-identity-*")
	if err != nil {
		return "", nil, fmt.Errorf("age: failed to create identity directory: %w", err)
	}
	cleanup = func() {
		if f, err := os.OpenFile(path, os.O_WRONLY, 0); err == nil {
			_, _ = f.Write(make([]byte, len(material)+1))
			_ = f.Close()
		}
		_ = os.RemoveAll(dir)
	}

	path = filepath.Join(dir, "identity.txt")
	if err := os.WriteFile(path, []byte(material+"\n"), 0600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("age: failed to write identity file: %w", err)
	}
	return path, cleanup, nil
}

// checkPaths rejects empty paths and a missing input, and returns absolute
// forms so no path can be read as a flag.
func checkPaths(input, output string) (string, string, error) {
	if strings.TrimSpace(input) == "" {
		return "", "", fmt.Errorf("%w: input path is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(output) == "" {
		return "", "", fmt.Errorf("%w: output path is empty", ErrInvalidArgument)
	}

	absIn, err := filepath.Abs(input)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	absOut, err := filepath.Abs(output)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if absIn == absOut {
		return "", "", fmt.Errorf("%w: input and output are the same file", ErrInvalidArgument)
	}

	info, err := os.Stat(absIn)
	if errors.Is(err, os.ErrNotExist) {
		return "", "", fmt.Errorf("%w: input file not found: %s", ErrInvalidArgument, input)
	}
	if err != nil {
		return "", "", fmt.Errorf("age: failed to stat input: %w", err)
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("%w: input is a directory: %s", ErrInvalidArgument, input)
	}
	return absIn, absOut, nil
}

func checkRecipients(recipients []string) ([]string, error) {
	cleaned := make([]string, 0, len(recipients))
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.IndexFunc(r, unicode.IsControl) >= 0 {
			return nil, fmt.Errorf("%w: recipient contains control characters", ErrInvalidArgument)
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) == 0 {
		return nil, ErrNoRecipients
	}
	return cleaned, nil
}
