package exchange

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/forest6511/agevault/pkg/vault"
)

func strPtr(s string) *string { return &s }

func testRecords() []vault.KeyRecord {
	return []vault.KeyRecord{
		{ID: "k1", Name: "laptop", PublicKey: "age1laptop", PrivateKey: strPtr("AGE-SECRET-KEY-1LAPTOP"), CreatedAt: 1700000000},
		{ID: "k2", Name: "alice", PublicKey: "age1alice", Comment: strPtr("colleague"), CreatedAt: 1700000100},
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "keys")

	path, err := Export("export-pass", testRecords(), dest)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if path != dest+FileExtension {
		t.Errorf("path = %s, want %s", path, dest+FileExtension)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != vault.FileMode {
			t.Errorf("export mode = %04o, want %04o", perm, vault.FileMode)
		}
	}

	got, err := Import("export-pass", path)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !reflect.DeepEqual(got, testRecords()) {
		t.Errorf("imported %+v, want %+v", got, testRecords())
	}
}

func TestExportKeepsExplicitExtension(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "keys.bak")
	path, err := Export("export-pass", nil, dest)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if path != dest {
		t.Errorf("path = %s, want %s", path, dest)
	}
}

func TestImportWrongPassphrase(t *testing.T) {
	path, err := Export("right-pass", testRecords(), filepath.Join(t.TempDir(), "keys"))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	_, err = Import("wrong-pass", path)
	if !errors.Is(err, vault.ErrUnlockFailed) {
		t.Errorf("expected vault.ErrUnlockFailed, got %v", err)
	}
}

func TestImportNotFound(t *testing.T) {
	_, err := Import("some-pass", filepath.Join(t.TempDir(), "missing.agekeys"))
	if !errors.Is(err, ErrExportNotFound) {
		t.Errorf("expected ErrExportNotFound, got %v", err)
	}
}

func TestPassphraseCheckedBeforeCrypto(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name       string
		passphrase string
		err        error
	}{
		{"empty", "", ErrPassphraseEmpty},
		{"three chars", "abc", ErrPassphraseTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(dir, tt.name)
			if _, err := Export(tt.passphrase, testRecords(), dest); !errors.Is(err, tt.err) {
				t.Errorf("Export: expected %v, got %v", tt.err, err)
			}
			if _, err := os.Stat(dest + FileExtension); !os.IsNotExist(err) {
				t.Error("Export wrote a file despite an invalid passphrase")
			}
			// The file does not exist either; the passphrase error wins.
			if _, err := Import(tt.passphrase, dest); !errors.Is(err, tt.err) {
				t.Errorf("Import: expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestImportNormalizesPassphrase(t *testing.T) {
	composed := "caf\u00e9-pass"    // é as one code point
	decomposed := "cafe\u0301-pass" // e + combining acute

	path, err := Export(composed, testRecords(), filepath.Join(t.TempDir(), "keys"))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if _, err := Import(decomposed, path); err != nil {
		t.Errorf("Import with decomposed form failed: %v", err)
	}
}

func TestImportIntoMerges(t *testing.T) {
	exported := testRecords()
	path, err := Export("merge-pass", exported, filepath.Join(t.TempDir(), "keys"))
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	existing := []vault.KeyRecord{
		exported[0],
		{ID: "k0", Name: "server", PublicKey: "age1server"},
	}

	merged, report, err := ImportInto(existing, "merge-pass", path)
	if err != nil {
		t.Fatalf("ImportInto failed: %v", err)
	}
	if report.Added != 1 || report.Duplicates != 1 {
		t.Errorf("report = %+v, want 1 new and 1 duplicate", report)
	}
	if got := vault.IDs(merged); !reflect.DeepEqual(got, []string{"k1", "k0", "k2"}) {
		t.Errorf("merged ids = %v", got)
	}
}
