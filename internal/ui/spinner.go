package ui

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// Spinner wraps briandowns/spinner. A disabled Spinner only prints its
// final message.
type Spinner struct {
	s       *spinner.Spinner
	w       io.Writer
	enabled bool
}

// StartSpinner starts a spinner on stderr unless quiet is set or stderr is
// not a terminal.
func StartSpinner(message string, quiet bool) *Spinner {
	enabled := !quiet && term.IsTerminal(int(os.Stderr.Fd()))
	return newSpinner(os.Stderr, message, enabled)
}

func newSpinner(w io.Writer, message string, enabled bool) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	// Ignore color errors - continue without colored spinner if it fails.
	_ = s.Color("cyan")

	sp := &Spinner{s: s, w: w, enabled: enabled}
	if enabled {
		s.Start()
	}
	return sp
}

// Stop halts the spinner and prints msg, if any, on its own line.
func (sp *Spinner) Stop(msg string) {
	if sp.enabled {
		sp.s.Stop()
	}
	if msg != "" {
		_, _ = io.WriteString(sp.w, EnsureNewline(msg))
	}
}

// Succeed stops with a success marker.
func (sp *Spinner) Succeed(msg string) { sp.Stop(OK(msg)) }

// Failed stops with a failure marker.
func (sp *Spinner) Failed(msg string) { sp.Stop(Fail(msg)) }
