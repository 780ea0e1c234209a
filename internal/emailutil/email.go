package emailutil

import (
	"regexp"
	"strings"
	"unicode"
)

// Validation messages reported next to the email field.
const (
	MsgBlank    = "can't be blank"
	MsgTooShort = "must be at least 6 characters"
	MsgInvalid  = "must be a valid email address"
)

// MinLength is the shortest email accepted by the session store.
const MinLength = 6

// local@domain.tld with no whitespace or extra "@" in any part
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Normalize normalizes an email address for consistent comparison
// by converting to lowercase and trimming whitespace
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StripSpaces removes every whitespace rune, including ones embedded in the
// middle of the address.
func StripSpaces(email string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, email)
}

// IsValid reports whether email matches the local@domain.tld shape.
func IsValid(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidationError returns the field message for email, or "" when valid.
// Checks run in order: blank, length, shape.
func ValidationError(email string) string {
	switch {
	case len(email) == 0:
		return MsgBlank
	case len(email) < MinLength:
		return MsgTooShort
	case !IsValid(email):
		return MsgInvalid
	}
	return ""
}
