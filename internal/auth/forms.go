package auth

import (
	"errors"
	"strings"

	"github.com/dgellow/medfix/internal/emailutil"
)

// MinPasswordLength is the shortest password the forms accept.
const MinPasswordLength = 6

// Field errors shown next to the sign-in, sign-up and reset forms.
var (
	ErrEmailRequired          = errors.New("Email is required")
	ErrEmailInvalid           = errors.New("Please enter a valid email")
	ErrPasswordRequired       = errors.New("Password is required")
	ErrPasswordTooShort       = errors.New("Password must be at least 6 characters")
	ErrConfirmPasswordMissing = errors.New("Please confirm your password")
	ErrPasswordsMustMatch     = errors.New("Passwords must match")
)

// ValidateEmail checks the email field.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	if !emailutil.IsValid(email) {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword checks the password field.
func ValidatePassword(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if len([]rune(password)) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// ValidateConfirmPassword checks the confirmation field against password.
func ValidateConfirmPassword(password, confirm string) error {
	if confirm == "" {
		return ErrConfirmPasswordMissing
	}
	if confirm != password {
		return ErrPasswordsMustMatch
	}
	return nil
}

// FieldErrors maps a form field name to its first error.
type FieldErrors map[string]string

func (fe FieldErrors) add(field string, err error) {
	if err != nil {
		fe[field] = err.Error()
	}
}

// SignInForm is the sign-in screen's input.
type SignInForm struct {
	Email    string
	Password string
}

// Validate returns the failing fields, or nil when the form can be submitted.
func (f SignInForm) Validate() FieldErrors {
	fe := FieldErrors{}
	fe.add("email", ValidateEmail(f.Email))
	fe.add("password", ValidatePassword(f.Password))
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// SignUpForm is the sign-up screen's input.
type SignUpForm struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// Validate returns the failing fields, or nil when the form can be submitted.
func (f SignUpForm) Validate() FieldErrors {
	fe := FieldErrors{}
	fe.add("email", ValidateEmail(f.Email))
	fe.add("password", ValidatePassword(f.Password))
	fe.add("confirmPassword", ValidateConfirmPassword(f.Password, f.ConfirmPassword))
	if len(fe) == 0 {
		return nil
	}
	return fe
}
