package service

import (
	"errors"
	"fmt"
)

// Categorías de error. Los handlers traducen cada una a un status HTTP.
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("forbidden")
	ErrUpstream       = errors.New("upstream failure")
)

var (
	ErrInvalidInput        = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrVerificationInvalid = fmt.Errorf("%w: verification token invalid or expired", ErrValidation)
	ErrAlreadyVerified     = fmt.Errorf("%w: email already verified", ErrValidation)
	ErrOTPInvalid          = fmt.Errorf("%w: otp invalid or expired", ErrValidation)
	ErrResetTokenInvalid   = fmt.Errorf("%w: reset code invalid or expired", ErrValidation)
	ErrUserNotFound        = fmt.Errorf("%w: user", ErrNotFound)
	ErrEmailTaken          = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid credentials", ErrAuthentication)
	ErrSessionInvalid      = fmt.Errorf("%w: session invalid", ErrAuthentication)
	ErrAccountInactive     = fmt.Errorf("%w: account inactive", ErrAuthorization)
	ErrEmailSendFailure    = fmt.Errorf("%w: email send failed", ErrUpstream)
	ErrRateLimited         = errors.New("rate limited")
)

// InputError describe un campo inválido. errors.Is(err, ErrInvalidInput) es true.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

func invalidInput(field, reason string) error {
	return &InputError{Field: field, Reason: reason}
}

// upstream envuelve fallas del store o del transporte sin exponer el error
// original fuera del servicio.
func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
