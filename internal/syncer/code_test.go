package syncer

import "testing"

func TestNormalizeCodeIdempotent(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"noel-2024", "NOEL-2024"},
		{"  XMAS  ", "XMAS"},
		{"Abc-123", "ABC-123"},
		{"ALREADY-UPPER", "ALREADY-UPPER"},
	}
	for _, tt := range tests {
		got := NormalizeCode(tt.raw)
		if got != tt.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tt.raw, got, tt.want)
		}
		if again := NormalizeCode(got); again != got {
			t.Errorf("NormalizeCode not idempotent: %q -> %q", got, again)
		}
	}
}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		ok   bool
	}{
		{"minimum length", "ABC", true},
		{"maximum length", "ABCDEFGHIJ1234567890", true},
		{"digits and hyphens", "NOEL-2024", true},
		{"too short", "AB", false},
		{"too long", "ABCDEFGHIJ1234567890X", false},
		{"lowercase rejected", "abc", false},
		{"space rejected", "AB C", false},
		{"underscore rejected", "AB_C", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCode(tt.code)
			if tt.ok && err != nil {
				t.Errorf("ValidateCode(%q) = %v, want nil", tt.code, err)
			}
			if !tt.ok && err != ErrInvalidCodeFormat {
				t.Errorf("ValidateCode(%q) = %v, want ErrInvalidCodeFormat", tt.code, err)
			}
		})
	}
}
