package age

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeAge copies the input to -o and records its argv, one per line, in
// $AGE_ARGS. With -i it also copies the identity file to $AGE_IDENTITY_COPY.
const fakeAge = `#!/bin/sh
printf '%s\n' "$@" > "$AGE_ARGS"
out=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -i) cp "$2" "$AGE_IDENTITY_COPY"; shift 2 ;;
    --) in="$2"; break ;;
    *) shift ;;
  esac
done
cat "$in" > "$out"
`

const fakeKeygen = `#!/bin/sh
if [ "$1" = "-y" ]; then
  echo "age1derivedrecipient"
  exit 0
fi
echo "# created: 2024-01-01T00:00:00Z"
echo "# public key: age1fakepublickey"
echo "AGE-SECRET-KEY-1FAKESECRETKEY"
`

const failingTool = `#!/bin/sh
echo "boom: something went wrong" >&2
exit 1
`

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts require a POSIX shell")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}

// testBridge returns a bridge whose binaries come only from dir and whose
// PATH lookup always fails.
func testBridge(t *testing.T, dir string, opts Options) (*Bridge, string) {
	t.Helper()
	argsFile := filepath.Join(t.TempDir(), "args")
	opts.BinDir = dir
	opts.Env = append(opts.Env,
		"AGE_ARGS="+argsFile,
		"AGE_IDENTITY_COPY="+filepath.Join(t.TempDir(), "identity-copy"),
	)
	b := New(opts)
	b.lookPath = func(name string) (string, error) {
		return "", errors.New("not in PATH: " + name)
	}
	return b, argsFile
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("engine was not run: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir changes the working directory to dir for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
