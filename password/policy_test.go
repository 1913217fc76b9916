package password

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckPolicy(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Abcd1234!", true},
		{"exactly 8", "Abc123!x", true},
		{"exactly 64", "Aa1!" + strings.Repeat("x", 60), true},
		{"too short", "Ab1!xyz", false},
		{"too long", "Aa1!" + strings.Repeat("x", 61), false},
		{"no lower", "ABCD1234!", false},
		{"no upper", "abcd1234!", false},
		{"no digit", "Abcdefgh!", false},
		{"no symbol", "Abcd12345", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckPolicy(tc.password)
			if tc.ok && err != nil {
				t.Fatalf("expected %q to pass, got %v", tc.password, err)
			}
			if !tc.ok && !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("expected ErrWeakPassword for %q, got %v", tc.password, err)
			}
		})
	}
}
