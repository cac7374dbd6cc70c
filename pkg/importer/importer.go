// Package importer turns age identity files and recipients files into key
// records.
//
// Identity files are the format written by age-keygen: a "# created:"
// comment, a "# public key:" comment and the AGE-SECRET-KEY- line.
// Recipients files hold one public key per line with optional "#"
// comments, as accepted by age -R.
package importer

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/agevault/pkg/vault"
)

// Source is the input file format.
type Source string

const (
	SourceIdentity   Source = "identity"
	SourceRecipients Source = "recipients"
)

// MaxNameLength is the maximum record name length in runes.
const MaxNameLength = 128

// ErrNoKeys indicates the input contained nothing importable.
var ErrNoKeys = errors.New("importer: no keys found")

// ImportResult contains the results of a parse.
type ImportResult struct {
	// Records are ready to merge into the key storage.
	Records []vault.KeyRecord

	// Warnings are non-fatal issues encountered during parsing.
	Warnings []string

	// Skipped are lines that could not be imported.
	Skipped []SkippedItem
}

// SkippedItem is a line that was not imported. Reason never contains key
// material.
type SkippedItem struct {
	Line   int
	Reason string
}

// ParseOptions contains options for parsing.
type ParseOptions struct {
	// Name is used for records that carry no name of their own, usually
	// the file's base name.
	Name string

	// DeriveRecipient computes a missing public key from an identity.
	DeriveRecipient func(identity string) (string, error)
}

// Parser parses one input format.
type Parser interface {
	Parse(data []byte, opts ParseOptions) (*ImportResult, error)
	Source() Source
}

// GetParser returns a parser for the given source.
func GetParser(source Source) (Parser, error) {
	switch source {
	case SourceIdentity:
		return &IdentityParser{}, nil
	case SourceRecipients:
		return &RecipientsParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", source)
	}
}

// ValidSources returns a list of valid source names.
func ValidSources() []string {
	return []string{
		string(SourceIdentity),
		string(SourceRecipients),
	}
}

// DetectSource guesses the format: anything holding a secret key is an
// identity file.
func DetectSource(data []byte) Source {
	if bytes.Contains(data, []byte(secretKeyPrefix)) {
		return SourceIdentity
	}
	return SourceRecipients
}

// ParseIdentities parses an identity file, naming records after name.
func ParseIdentities(data []byte, name string) ([]vault.KeyRecord, error) {
	res, err := (&IdentityParser{}).Parse(data, ParseOptions{Name: name})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// ParseRecipients parses a recipients file, naming uncommented entries
// after name.
func ParseRecipients(data []byte, name string) ([]vault.KeyRecord, error) {
	res, err := (&RecipientsParser{}).Parse(data, ParseOptions{Name: name})
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// SanitizeName normalizes a record name.
//  1. Normalize Unicode (NFC)
//  2. Drop control characters and collapse whitespace
//  3. Truncate to MaxNameLength runes
func SanitizeName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	name = strings.Join(strings.Fields(name), " ")

	if runes := []rune(name); len(runes) > MaxNameLength {
		name = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return name
}

// DeduplicateNames makes names unique by appending suffixes (_1, _2, etc.).
func DeduplicateNames(records []vault.KeyRecord) {
	seen := make(map[string]int)

	for i := range records {
		base := records[i].Name
		count := seen[strings.ToLower(base)]
		if count > 0 {
			records[i].Name = fmt.Sprintf("%s_%d", base, count)
		}
		seen[strings.ToLower(base)] = count + 1
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = SanitizeName(v); v != "" {
			return v
		}
	}
	return ""
}

func finish(res *ImportResult) (*ImportResult, error) {
	if len(res.Records) == 0 {
		if len(res.Skipped) > 0 {
			return nil, fmt.Errorf("%w: %d line(s) skipped, first at line %d: %s",
				ErrNoKeys, len(res.Skipped), res.Skipped[0].Line, res.Skipped[0].Reason)
		}
		return nil, ErrNoKeys
	}
	DeduplicateNames(res.Records)
	return res, nil
}
