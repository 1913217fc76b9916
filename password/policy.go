package password

import (
	"errors"
	"unicode"
	"unicode/utf8"
)

const (
	MinLength = 8
	MaxLength = 64
)

// ErrWeakPassword is returned when a password violates the policy.
var ErrWeakPassword = errors.New("password does not meet policy")

// CheckPolicy enforces length 8..64 (in characters) and at least one lowercase
// letter, uppercase letter, digit and symbol.
func CheckPolicy(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinLength || n > MaxLength {
		return ErrWeakPassword
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return ErrWeakPassword
	}
	return nil
}
