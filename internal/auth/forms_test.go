package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  error
	}{
		{"", ErrEmailRequired},
		{"   ", ErrEmailRequired},
		{"john", ErrEmailInvalid},
		{"john@example", ErrEmailInvalid},
		{"jo hn@example.com", ErrEmailInvalid},
		{"john@example.com", nil},
		{" john@example.com ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateEmail(tt.email))
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.Equal(t, ErrPasswordRequired, ValidatePassword(""))
	assert.Equal(t, ErrPasswordTooShort, ValidatePassword("12345"))
	assert.NoError(t, ValidatePassword("123456"))
}

func TestValidateConfirmPassword(t *testing.T) {
	assert.Equal(t, ErrConfirmPasswordMissing, ValidateConfirmPassword("secret1", ""))
	assert.Equal(t, ErrPasswordsMustMatch, ValidateConfirmPassword("secret1", "secret2"))
	assert.NoError(t, ValidateConfirmPassword("secret1", "secret1"))
}

func TestSignInFormValidate(t *testing.T) {
	assert.Nil(t, SignInForm{Email: "a@example.com", Password: "secret1"}.Validate())

	fe := SignInForm{Email: "nope", Password: "1"}.Validate()
	assert.Equal(t, FieldErrors{
		"email":    "Please enter a valid email",
		"password": "Password must be at least 6 characters",
	}, fe)
}

func TestSignUpFormValidate(t *testing.T) {
	assert.Nil(t, SignUpForm{Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1"}.Validate())

	fe := SignUpForm{Email: "", Password: "secret1", ConfirmPassword: "secret2"}.Validate()
	assert.Equal(t, FieldErrors{
		"email":           "Email is required",
		"confirmPassword": "Passwords must match",
	}, fe)
}
