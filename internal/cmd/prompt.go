package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/dgellow/medfix/internal/auth"
	"github.com/dgellow/medfix/internal/profile"
	"github.com/dgellow/medfix/internal/role"
)

// interactive reports whether missing flags may be asked for on the terminal.
var interactive = func() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func emailInput(email *string) *huh.Input {
	return huh.NewInput().
		Title("Email").
		Placeholder("you@hospital.org").
		Value(email).
		Validate(auth.ValidateEmail)
}

func passwordInput(title string, value *string, validate func(string) error) *huh.Input {
	return huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(value).
		Validate(validate)
}

// runForm shows the fields that are still empty. Nothing is shown when every
// field was given as a flag or stdin is not a terminal.
func runForm(fields ...huh.Field) error {
	if len(fields) == 0 || !interactive() {
		return nil
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("aborted")
		}
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

func promptSignIn(form *auth.SignInForm) error {
	var fields []huh.Field
	if form.Email == "" {
		fields = append(fields, emailInput(&form.Email))
	}
	if form.Password == "" {
		fields = append(fields, passwordInput("Password", &form.Password, auth.ValidatePassword))
	}
	return runForm(fields...)
}

func promptSignUp(form *auth.SignUpForm) error {
	var fields []huh.Field
	if form.Email == "" {
		fields = append(fields, emailInput(&form.Email))
	}
	if form.Password == "" {
		fields = append(fields, passwordInput("Password", &form.Password, auth.ValidatePassword))
	}
	if form.ConfirmPassword == "" {
		fields = append(fields, passwordInput("Confirm password", &form.ConfirmPassword, func(s string) error {
			return auth.ValidateConfirmPassword(form.Password, s)
		}))
	}
	return runForm(fields...)
}

func promptEmail(email *string) error {
	if *email != "" {
		return nil
	}
	return runForm(emailInput(email))
}

func promptProfile(name *string, selected *string) error {
	var fields []huh.Field
	if *name == "" {
		fields = append(fields, huh.NewInput().
			Title("Full name").
			Value(name).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New(profile.MsgNameRequired)
				}
				return nil
			}))
	}
	if *selected == "" {
		fields = append(fields, huh.NewSelect[string]().
			Title("Role").
			Options(
				huh.NewOption("Doctor", string(role.Doctor)),
				huh.NewOption("Engineer", string(role.Engineer)),
			).
			Value(selected))
	}
	return runForm(fields...)
}

func promptRequest(device, description *string) error {
	var fields []huh.Field
	if *device == "" {
		fields = append(fields, huh.NewInput().Title("Device name").Value(device))
	}
	if *description == "" {
		fields = append(fields, huh.NewText().Title("Describe the fault").Value(description))
	}
	return runForm(fields...)
}

// fieldError turns form validation errors into one error, in form order.
func fieldError(fe auth.FieldErrors, order ...string) error {
	if len(fe) == 0 {
		return nil
	}
	var msgs []string
	for _, field := range order {
		if msg, ok := fe[field]; ok {
			msgs = append(msgs, field+": "+msg)
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
