package ui

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestFormatterWithColor(t *testing.T) {
	// Setenv registers the restore; then clear it for this test.
	t.Setenv("NO_COLOR", "")
	if err := os.Unsetenv("NO_COLOR"); err != nil {
		t.Fatal(err)
	}
	saved := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = saved }()

	result := Code.Sprint("agevault key list")
	if strings.Contains(result, "`") {
		t.Errorf("Code.Sprint should not contain backticks when color is enabled, got: %s", result)
	}
	if !strings.Contains(result, "\x1b[") {
		t.Errorf("expected ANSI escape codes, got: %s", result)
	}
}

func TestFormatterWithNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	tests := []struct {
		name      string
		formatter Formatter
		expected  string
	}{
		{"Code", Code, "`agevault`"},
		{"Highlight", Highlight, "'work'"},
		{"Muted", Muted, "(id)"},
		{"Path", Path, "agevault"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := strings.Trim(tt.expected, "`'()")
			if got := tt.formatter.Sprint(in); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}

	if got := OK("saved"); got != "✓ saved" {
		t.Errorf("OK = %q", got)
	}
	if got := Highlight.Sprintf("%s-%d", "k", 1); got != "'k-1'" {
		t.Errorf("Sprintf = %q", got)
	}
}

func TestEnsureNewline(t *testing.T) {
	tests := map[string]string{"": "\n", "a": "a\n", "a\n": "a\n"}
	for in, want := range tests {
		if got := EnsureNewline(in); got != want {
			t.Errorf("EnsureNewline(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisabledSpinnerPrintsFinalMessage(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer

	sp := newSpinner(&buf, "deriving key", false)
	sp.Failed("wrong passphrase")

	if got := buf.String(); got != "✗ wrong passphrase\n" {
		t.Errorf("output = %q", got)
	}
}
