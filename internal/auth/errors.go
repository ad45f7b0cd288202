package auth

import "errors"

// Error taxonomy. Flows return these (possibly wrapped with a more specific
// user-facing message); the transport maps each to a status code.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateEmail     = errors.New("this email address is already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address has not been verified, please check your inbox")
	ErrTokenInvalid       = errors.New("token is invalid or expired")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrNotFound           = errors.New("user not found")
	ErrUnauthorized       = errors.New("authentication required")
	ErrInternal           = errors.New("internal server error")
)

// flowError carries a specific message while still matching its kind with errors.Is.
type flowError struct {
	kind error
	msg  string
}

func (e *flowError) Error() string { return e.msg }
func (e *flowError) Unwrap() error { return e.kind }

func withMessage(kind error, msg string) error {
	return &flowError{kind: kind, msg: msg}
}
