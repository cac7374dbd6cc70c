// Package ui formats CLI status output.
//
// Formatters colorize with fatih/color and fall back to plain decorations
// when NO_COLOR is set or the terminal has no color support. Long-running
// steps (key derivation, engine subprocesses) show a spinner on stderr.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter applies semantic formatting to text.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments and returns the resulting string.
func (f Formatter) Sprint(a ...interface{}) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// Sprintf formats according to a format specifier and returns the resulting string.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

func noColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	return color.NoColor
}

var (
	// Code formats runnable commands.
	Code = Formatter{color.New(color.FgYellow), "`", "`"}

	// Path formats file paths.
	Path = Formatter{color.New(color.FgYellow), "", ""}

	// Success, Error and Warning format status markers.
	Success = Formatter{color.New(color.FgGreen), "", ""}
	Error   = Formatter{color.New(color.FgRed), "", ""}
	Warning = Formatter{color.New(color.FgYellow), "", ""}

	// Info formats hints.
	Info = Formatter{color.New(color.FgCyan), "", ""}

	// Highlight formats user values such as key names.
	Highlight = Formatter{color.New(color.FgCyan, color.Bold), "'", "'"}

	// Muted formats secondary details such as ids.
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)

// Status line markers.
func OK(msg string) string   { return Success.Sprint("✓") + " " + msg }
func Fail(msg string) string { return Error.Sprint("✗") + " " + msg }
func Warn(msg string) string { return Warning.Sprint("!") + " " + msg }
func Hint(msg string) string { return Info.Sprint("→") + " " + msg }

// EnsureNewline ensures the string ends with a newline character.
func EnsureNewline(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\n' {
		return s + "\n"
	}
	return s
}
