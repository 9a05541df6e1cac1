// Package common provides shared constants, types, and utilities
// used across the VPN State application.
package common

import "errors"

// Sentinel errors for VPN State operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Service errors.
	ErrServiceStopped = errors.New("state service stopped")
	ErrNoDaemon       = errors.New("no daemon configured")
	ErrDaemonFailed   = errors.New("daemon failed to start")
	ErrTimeout        = errors.New("operation timed out")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad  = errors.New("failed to load configuration")
	ErrConfigSave  = errors.New("failed to save configuration")
	ErrUnknownName = errors.New("unknown name")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
