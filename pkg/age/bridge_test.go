package age

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	writeScript(t, bin, KeygenBinary, fakeKeygen)
	b, _ := testBridge(t, bin, Options{})

	kp, err := b.GenerateKeyPair(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if kp.PublicKey != "age1fakepublickey" {
		t.Errorf("PublicKey = %q", kp.PublicKey)
	}
	if kp.PrivateKey != "AGE-SECRET-KEY-1FAKESECRETKEY" {
		t.Errorf("PrivateKey = %q", kp.PrivateKey)
	}
	if kp.Comment == nil || *kp.Comment != "created: 2024-01-01T00:00:00Z" {
		t.Errorf("Comment = %v", kp.Comment)
	}

	comment := "work laptop"
	kp, err = b.GenerateKeyPair(context.Background(), &comment)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if kp.Comment == nil || *kp.Comment != "work laptop" {
		t.Errorf("supplied comment not used: %v", kp.Comment)
	}
}

func TestGenerateKeyPairUnparsableOutput(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	writeScript(t, bin, KeygenBinary, "#!/bin/sh\necho hello\n")
	b, _ := testBridge(t, bin, Options{})

	_, err := b.GenerateKeyPair(context.Background(), nil)
	if !errors.Is(err, ErrUnparsableOutput) {
		t.Errorf("expected ErrUnparsableOutput, got %v", err)
	}
	if !errors.Is(err, ErrOperationFailed) {
		t.Errorf("expected ErrOperationFailed classification, got %v", err)
	}
}

func TestClassification(t *testing.T) {
	skipOnWindows(t)

	t.Run("missing binary", func(t *testing.T) {
		b, _ := testBridge(t, t.TempDir(), Options{})
		_, err := b.GenerateKeyPair(context.Background(), nil)
		if !errors.Is(err, ErrToolMissing) {
			t.Fatalf("expected ErrToolMissing, got %v", err)
		}
		if errors.Is(err, ErrOperationFailed) {
			t.Error("missing binary must not classify as a failed run")
		}
		var opErr *OperationError
		if !errors.As(err, &opErr) || opErr.Kind != KindToolMissing || opErr.Op != "generate" {
			t.Errorf("unexpected error %#v", err)
		}
	})

	t.Run("explicit path missing", func(t *testing.T) {
		b, _ := testBridge(t, t.TempDir(), Options{AgePath: filepath.Join(t.TempDir(), "nope")})
		in := writeInput(t, t.TempDir(), "in.txt", "data")
		_, err := b.EncryptFile(context.Background(), in, in+".age", []string{"age1x"}, false)
		if !errors.Is(err, ErrToolMissing) {
			t.Errorf("expected ErrToolMissing, got %v", err)
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		bin := t.TempDir()
		writeScript(t, bin, KeygenBinary, failingTool)
		b, _ := testBridge(t, bin, Options{})

		_, err := b.GenerateKeyPair(context.Background(), nil)
		if !errors.Is(err, ErrOperationFailed) {
			t.Fatalf("expected ErrOperationFailed, got %v", err)
		}
		if errors.Is(err, ErrToolMissing) {
			t.Error("failed run must not classify as missing tool")
		}
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			t.Fatalf("expected *OperationError, got %T", err)
		}
		if opErr.Stderr != "boom: something went wrong" {
			t.Errorf("Stderr = %q", opErr.Stderr)
		}
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("message should carry stderr: %v", err)
		}
	})
}

func TestResolveBundledLayouts(t *testing.T) {
	skipOnWindows(t)

	flat := t.TempDir()
	writeScript(t, flat, AgeBinary, fakeAge)
	b, _ := testBridge(t, flat, Options{})
	if got := b.Locate()[AgeBinary]; got != filepath.Join(flat, AgeBinary) {
		t.Errorf("flat layout resolved to %q", got)
	}

	nested := t.TempDir()
	goosDir := filepath.Join(nested, runtime.GOOS)
	if err := os.MkdirAll(goosDir, 0700); err != nil {
		t.Fatal(err)
	}
	writeScript(t, goosDir, AgeBinary, fakeAge)
	b, _ = testBridge(t, nested, Options{})
	if got := b.Locate()[AgeBinary]; got != filepath.Join(goosDir, AgeBinary) {
		t.Errorf("per-OS layout resolved to %q", got)
	}
	if got := b.Locate()[KeygenBinary]; got != "" {
		t.Errorf("missing age-keygen resolved to %q", got)
	}

	explicit := writeScript(t, t.TempDir(), "my-age", fakeAge)
	b, _ = testBridge(t, flat, Options{AgePath: explicit})
	if got := b.Locate()[AgeBinary]; got != explicit {
		t.Errorf("explicit path resolved to %q", got)
	}
}

func TestParseKeygenOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    KeyPair
		wantErr bool
	}{
		{
			name:   "standard output",
			output: "# created: 2024-05-01T10:00:00+02:00\n# public key: age1abc\nAGE-SECRET-KEY-1XYZ\n",
			want:   KeyPair{PublicKey: "age1abc", PrivateKey: "AGE-SECRET-KEY-1XYZ", Comment: strPtr("created: 2024-05-01T10:00:00+02:00")},
		},
		{
			name:   "no created line",
			output: "# public key: age1abc\r\nAGE-SECRET-KEY-1XYZ\r\n",
			want:   KeyPair{PublicKey: "age1abc", PrivateKey: "AGE-SECRET-KEY-1XYZ"},
		},
		{
			name:    "missing private key",
			output:  "# public key: age1abc\n",
			wantErr: true,
		},
		{
			name:    "missing public key",
			output:  "AGE-SECRET-KEY-1XYZ\n",
			wantErr: true,
		},
		{
			name:    "empty",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeygenOutput([]byte(tt.output))
			if tt.wantErr {
				if !errors.Is(err, ErrUnparsableOutput) {
					t.Errorf("expected ErrUnparsableOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDeriveRecipient(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	writeScript(t, bin, KeygenBinary, fakeKeygen)
	b, _ := testBridge(t, bin, Options{})

	got, err := b.DeriveRecipient(context.Background(), "AGE-SECRET-KEY-1FAKESECRETKEY")
	if err != nil {
		t.Fatalf("DeriveRecipient inline failed: %v", err)
	}
	if got != "age1derivedrecipient" {
		t.Errorf("recipient = %q", got)
	}

	idFile := writeInput(t, t.TempDir(), "key.txt", "AGE-SECRET-KEY-1FAKESECRETKEY\n")
	if got, err := b.DeriveRecipient(context.Background(), idFile); err != nil || got != "age1derivedrecipient" {
		t.Errorf("DeriveRecipient file = %q, %v", got, err)
	}

	if _, err := b.DeriveRecipient(context.Background(), "not a key"); !errors.Is(err, ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestDeriveRecipientPrefersExistingFile(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	writeScript(t, bin, KeygenBinary, `#!/bin/sh
if [ "$2" = "--" ]; then echo "age1fromfile"; else echo "age1fromstdin"; fi
`)
	b, _ := testBridge(t, bin, Options{})

	work := t.TempDir()
	chdir(t, work)
	writeInput(t, work, "ssh-work.key", "AGE-SECRET-KEY-1FAKESECRETKEY\n")

	got, err := b.DeriveRecipient(context.Background(), "ssh-work.key")
	if err != nil {
		t.Fatalf("DeriveRecipient failed: %v", err)
	}
	if got != "age1fromfile" {
		t.Errorf("recipient = %q, want the file to be read", got)
	}

	got, err = b.DeriveRecipient(context.Background(), "AGE-SECRET-KEY-1NOTAFILE")
	if err != nil {
		t.Fatalf("DeriveRecipient inline failed: %v", err)
	}
	if got != "age1fromstdin" {
		t.Errorf("recipient = %q, want inline material on stdin", got)
	}
}

func TestVersion(t *testing.T) {
	skipOnWindows(t)
	bin := t.TempDir()
	writeScript(t, bin, AgeBinary, "#!/bin/sh\necho v1.2.1\n")
	b, _ := testBridge(t, bin, Options{})

	v, err := b.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != "v1.2.1" {
		t.Errorf("Version = %q", v)
	}
}

func strPtr(s string) *string { return &s }
