// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest6511/agevault/pkg/vault"
)

// ErrNoMatch is returned when a glob selects no records.
var ErrNoMatch = errors.New("no keys match pattern")

// IsRawRecipient reports whether s is a recipient string rather than a
// reference to a stored key.
func IsRawRecipient(s string) bool {
	return strings.HasPrefix(s, "age1") || strings.HasPrefix(s, "ssh-")
}

// ExpandPattern selects records by pattern.
// If the pattern contains glob characters (*?[), it matches record names
// and ids. Otherwise it resolves an id or a unique name.
func ExpandPattern(pattern string, records []vault.KeyRecord) ([]vault.KeyRecord, error) {
	// Validate pattern syntax
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	if !strings.ContainsAny(pattern, "*?[") {
		r, err := vault.Lookup(records, pattern)
		if err != nil {
			return nil, err
		}
		return []vault.KeyRecord{r}, nil
	}

	var matches []vault.KeyRecord
	for _, r := range records {
		byName, _ := filepath.Match(pattern, r.Name)
		byID, _ := filepath.Match(pattern, r.ID)
		if byName || byID {
			matches = append(matches, r)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("%w '%s'", ErrNoMatch, pattern)
	}
	return matches, nil
}

// ExpandPatterns expands multiple patterns.
// Returns unique records preserving order of first match.
func ExpandPatterns(patterns []string, records []vault.KeyRecord) ([]vault.KeyRecord, error) {
	seen := make(map[string]bool)
	var result []vault.KeyRecord

	for _, pattern := range patterns {
		matches, err := ExpandPattern(pattern, records)
		if err != nil {
			return nil, err
		}
		for _, r := range matches {
			if !seen[r.ID] {
				seen[r.ID] = true
				result = append(result, r)
			}
		}
	}

	return result, nil
}

// Recipients turns --to values into recipient strings. Raw age1/ssh
// recipients pass through; anything else selects stored keys.
func Recipients(specs []string, records []vault.KeyRecord) ([]string, error) {
	var patterns, raw []string
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if IsRawRecipient(s) {
			raw = append(raw, s)
		} else if s != "" {
			patterns = append(patterns, s)
		}
	}

	selected, err := ExpandPatterns(patterns, records)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var result []string
	for _, r := range append(raw, recipientsOf(selected)...) {
		if !seen[r] {
			seen[r] = true
			result = append(result, r)
		}
	}
	return result, nil
}

func recipientsOf(records []vault.KeyRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Recipient())
	}
	return out
}

// SortRecords returns a copy sorted by name, then creation time.
func SortRecords(records []vault.KeyRecord) []vault.KeyRecord {
	sorted := make([]vault.KeyRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})
	return sorted
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
