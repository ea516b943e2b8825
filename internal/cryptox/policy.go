package cryptox

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/Anthony-Michael/replyrocket-auth/internal/common"
)

const (
	MinPasswordLength = 8
	// MaxPasswordLength bounds hashing cost per request.
	MaxPasswordLength = 128
)

// PolicyError names the first password rule that failed. It matches
// common.ErrorInvalidInput and its message is safe to show to users.
type PolicyError struct {
	Rule string
}

func (e *PolicyError) Error() string {
	switch e.Rule {
	case "length":
		return fmt.Sprintf("password must be at least %d characters long", MinPasswordLength)
	case "max_length":
		return fmt.Sprintf("password must be at most %d characters long", MaxPasswordLength)
	case "upper":
		return "password must contain at least one uppercase letter"
	case "lower":
		return "password must contain at least one lowercase letter"
	case "digit":
		return "password must contain at least one digit"
	case "special":
		return "password must contain at least one special character"
	}
	return "password does not meet the strength policy"
}

func (e *PolicyError) Unwrap() error { return common.ErrorInvalidInput }

// ValidatePasswordStrength enforces length and character-class rules.
func ValidatePasswordStrength(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return &PolicyError{Rule: "length"}
	}
	if n > MaxPasswordLength {
		return &PolicyError{Rule: "max_length"}
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}

	switch {
	case !upper:
		return &PolicyError{Rule: "upper"}
	case !lower:
		return &PolicyError{Rule: "lower"}
	case !digit:
		return &PolicyError{Rule: "digit"}
	case !special:
		return &PolicyError{Rule: "special"}
	}
	return nil
}
