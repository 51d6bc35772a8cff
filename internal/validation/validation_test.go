package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateCity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "simple city",
			input: "Paris",
			want:  "Paris",
		},
		{
			name:  "trims surrounding whitespace",
			input: "  New York  ",
			want:  "New York",
		},
		{
			name:  "case preserved",
			input: "paris",
			want:  "paris",
		},
		{
			name:  "unicode letters",
			input: "Zürich",
			want:  "Zürich",
		},
		{
			name:  "apostrophe and hyphen",
			input: "Saint-Martin-d'Hères",
			want:  "Saint-Martin-d'Hères",
		},
		{
			name:  "coordinate query",
			input: "48.85,2.35",
			want:  "48.85,2.35",
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: ErrCityEmpty,
		},
		{
			name:    "whitespace only",
			input:   "   ",
			wantErr: ErrCityEmpty,
		},
		{
			name:    "too long",
			input:   strings.Repeat("a", 101),
			wantErr: ErrCityTooLong,
		},
		{
			name:    "angle brackets rejected",
			input:   "<script>",
			wantErr: ErrCityInvalidChars,
		},
		{
			name:    "slash rejected",
			input:   "Paris/France",
			wantErr: ErrCityInvalidChars,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateCity(tt.input, 1, 100)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ValidateCity(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCity(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ValidateCity(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCity_MinLength(t *testing.T) {
	if _, err := ValidateCity("ab", 3, 100); !errors.Is(err, ErrCityTooShort) {
		t.Errorf("ValidateCity() error = %v, want %v", err, ErrCityTooShort)
	}
	if got, err := ValidateCity("abc", 3, 100); err != nil || got != "abc" {
		t.Errorf("ValidateCity() = %q, %v; want abc, nil", got, err)
	}
}

func TestValidateCity_LengthCountsRunes(t *testing.T) {
	// Four runes, more than four bytes.
	if _, err := ValidateCity("Köln", 1, 4); err != nil {
		t.Errorf("ValidateCity() unexpected error: %v (length must be counted in runes)", err)
	}
}
