package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"boardauth/internal/models"
)

const (
	MinPasswordLength = 6
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
	MaxNameLength    = 60
)

// SignupInput is the body of a signup request.
type SignupInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"name"`
}

func (in *SignupInput) normalize() {
	in.Email = models.NormalizeEmail(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
}

func (in SignupInput) Validate() error {
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required),
		validation.Field(&in.DisplayName, validation.Required, validation.RuneLength(1, MaxNameLength)),
	); err != nil {
		return withMessage(ErrInvalidInput, err.Error())
	}
	return validatePasswordLength(in.Password)
}

// ResetPasswordInput is the body of a reset-password request.
type ResetPasswordInput struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Validate checks presence only. The password length is checked after the
// token, so an unusable token always reports ErrTokenInvalid.
func (in ResetPasswordInput) Validate() error {
	if in.Token == "" || in.Password == "" {
		return withMessage(ErrInvalidInput, "token and password are required")
	}
	return nil
}

// ChangePasswordInput is the body of a change-password request.
type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (in ChangePasswordInput) Validate() error {
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.CurrentPassword, validation.Required),
		validation.Field(&in.NewPassword, validation.Required),
	); err != nil {
		return withMessage(ErrInvalidInput, "current and new password are required")
	}
	return validatePasswordLength(in.NewPassword)
}

// ProfileInput is the body of a profile update.
type ProfileInput struct {
	DisplayName string `json:"name"`
}

func (in *ProfileInput) normalize() {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
}

func (in ProfileInput) Validate() error {
	if in.DisplayName == "" {
		return withMessage(ErrInvalidInput, "name is required")
	}
	if err := validation.Validate(in.DisplayName, validation.RuneLength(1, MaxNameLength)); err != nil {
		return withMessage(ErrInvalidInput, "name must be at most 60 characters")
	}
	return nil
}

func validatePasswordLength(pw string) error {
	if err := validation.Validate(pw, validation.RuneLength(MinPasswordLength, 0)); err != nil {
		return ErrPasswordTooShort
	}
	if err := validation.Validate(pw, validation.Length(0, MaxPasswordBytes)); err != nil {
		return withMessage(ErrInvalidInput, "password must be at most 72 bytes")
	}
	return nil
}
