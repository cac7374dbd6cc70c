package exchange

import (
	"errors"
	"testing"
)

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantErr    error
		strength   Strength
	}{
		{"empty", "", ErrPassphraseEmpty, 0},
		{"too short", "abc", ErrPassphraseTooShort, 0},
		{"minimum length", "abcd", nil, StrengthWeak},
		{"four runes multibyte", "日本語字", nil, StrengthWeak},
		{"mixed short", "Abcd12", nil, StrengthFair},
		{"good", "Correct-horse1", nil, StrengthGood},
		{"strong", "Correct-Horse-Battery-9", nil, StrengthStrong},
		{"long lowercase", "correcthorsebatterystaplex", nil, StrengthStrong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := ValidatePassphrase(tt.passphrase)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if check.Strength != tt.strength {
				t.Errorf("strength = %v, want %v", check.Strength, tt.strength)
			}
		})
	}
}

func TestValidatePassphraseCountsRunesAfterNormalization(t *testing.T) {
	// "e" + combining acute is two code points before NFC and one after.
	check, err := ValidatePassphrase("abe\u0301")
	if err == nil {
		t.Fatalf("expected too short after normalization, got %+v", check)
	}
	if !errors.Is(err, ErrPassphraseTooShort) {
		t.Errorf("expected ErrPassphraseTooShort, got %v", err)
	}
}

func TestValidatePassphraseWarnings(t *testing.T) {
	check, err := ValidatePassphrase("abcdefgh")
	if err != nil {
		t.Fatal(err)
	}
	if len(check.Warnings) != 2 {
		t.Errorf("warnings = %v, want length and composition warnings", check.Warnings)
	}
}
