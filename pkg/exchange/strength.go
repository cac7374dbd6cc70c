package exchange

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MinPassphraseLength is the minimum export passphrase length in runes.
	MinPassphraseLength = 4

	// MaxPassphraseLength bounds the passphrase in runes.
	MaxPassphraseLength = 1024
)

// Strength grades an export passphrase.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthFair
	StrengthGood
	StrengthStrong
)

// String returns a human-readable representation of the strength.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// PassphraseCheck is the result of ValidatePassphrase.
type PassphraseCheck struct {
	// Normalized is the NFC form actually used for key derivation.
	Normalized string
	Strength   Strength
	// Warnings are advisory only.
	Warnings []string
}

// ValidatePassphrase normalizes p to NFC and enforces the length policy.
// Only length is a hard requirement; composition produces warnings.
func ValidatePassphrase(p string) (*PassphraseCheck, error) {
	normalized := norm.NFC.String(p)
	length := utf8.RuneCountInString(normalized)

	switch {
	case length == 0:
		return nil, ErrPassphraseEmpty
	case length < MinPassphraseLength:
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrPassphraseTooShort, MinPassphraseLength)
	case length > MaxPassphraseLength:
		return nil, fmt.Errorf("%w: must be at most %d characters", ErrPassphraseTooLong, MaxPassphraseLength)
	}

	var hasUpper, hasLower, hasDigit, hasOther bool
	for _, r := range normalized {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasOther = true
		}
	}
	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasOther} {
		if ok {
			complexity++
		}
	}

	check := &PassphraseCheck{Normalized: normalized}
	if length < 12 {
		check.Warnings = append(check.Warnings, "Longer passphrases (12+ characters) are more secure")
	}
	if complexity < 2 {
		check.Warnings = append(check.Warnings, "Consider mixing letters, numbers and symbols")
	}

	switch {
	case complexity >= 3 && length >= 16, length >= 24:
		check.Strength = StrengthStrong
	case complexity >= 2 && length >= 12:
		check.Strength = StrengthGood
	case complexity >= 2 || length >= 12:
		check.Strength = StrengthFair
	default:
		check.Strength = StrengthWeak
	}
	return check, nil
}
