// Package errors defines the structured error taxonomy used across the
// provisioner. Every failure crossing an engine boundary is classified into
// one of the types below; raw provider errors and secret material never
// appear in externally visible messages.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrValidation is returned when required input is missing or malformed.
	// Never retried.
	ErrValidation = "validation"

	// ErrCsrfOrExpired is returned when a flow state lookup misses. Callers
	// cannot distinguish an unknown nonce from an expired one.
	ErrCsrfOrExpired = "csrf_or_expired"

	// ErrUpstreamAuth is returned when an external provider rejected
	// credentials.
	ErrUpstreamAuth = "upstream_auth"

	// ErrTokenExchange is returned when an authorization code exchange is
	// rejected by the provider.
	ErrTokenExchange = "token_exchange"

	// ErrTrustRegistration is returned when uploading certificate material to
	// an identity provider fails.
	ErrTrustRegistration = "trust_registration"

	// ErrStorage is returned when the secret, state, or blob store is
	// unavailable or refuses a write. Retryable by the operator, not
	// automatically.
	ErrStorage = "storage"

	// ErrPlatform is returned when the downstream indexing platform fails or
	// rejects a data source operation.
	ErrPlatform = "platform"

	// ErrSecretConflict is returned when a credential create targets a name
	// that already exists with an incompatible connector type.
	ErrSecretConflict = "secret_conflict"

	// ErrCredentialNotReady is returned when a data source handoff is
	// attempted before the credential is verified.
	ErrCredentialNotReady = "credential_not_ready"

	// ErrCryptoGeneration is returned when key or certificate generation
	// fails. Fatal, non-retryable.
	ErrCryptoGeneration = "crypto_generation"

	// ErrInternal is returned when there is an internal error.
	ErrInternal = "internal"
)

// Error represents a classified error in the provisioner.
type Error struct {
	// Type is the error type.
	Type string

	// Message is the error message.
	Message string

	// ProviderCode is the machine-readable error code supplied by an external
	// provider (e.g. "invalid_grant"), when one exists.
	ProviderCode string

	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error.
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, cause error) *Error {
	return NewError(ErrValidation, message, cause)
}

// NewCsrfOrExpiredError creates the generic "invalid or expired request"
// error. The message is fixed so callers cannot tell which condition held.
func NewCsrfOrExpiredError() *Error {
	return NewError(ErrCsrfOrExpired, "the request is invalid or has expired", nil)
}

// NewUpstreamAuthError creates a new upstream authentication error. The
// provider code and message must not contain secret values.
func NewUpstreamAuthError(message, providerCode string, cause error) *Error {
	return &Error{Type: ErrUpstreamAuth, Message: message, ProviderCode: providerCode, Cause: cause}
}

// NewTokenExchangeError creates a new token exchange error carrying the
// provider's error code.
func NewTokenExchangeError(message, providerCode string, cause error) *Error {
	return &Error{Type: ErrTokenExchange, Message: message, ProviderCode: providerCode, Cause: cause}
}

// NewTrustRegistrationError creates a new trust registration error.
func NewTrustRegistrationError(message string, cause error) *Error {
	return NewError(ErrTrustRegistration, message, cause)
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, cause error) *Error {
	return NewError(ErrStorage, message, cause)
}

// NewPlatformError creates a new platform error.
func NewPlatformError(message string, cause error) *Error {
	return NewError(ErrPlatform, message, cause)
}

// NewSecretConflictError creates a new secret conflict error.
func NewSecretConflictError(message string) *Error {
	return NewError(ErrSecretConflict, message, nil)
}

// NewCredentialNotReadyError creates a new credential not ready error.
func NewCredentialNotReadyError(message string) *Error {
	return NewError(ErrCredentialNotReady, message, nil)
}

// NewCryptoGenerationError creates a new crypto generation error.
func NewCryptoGenerationError(message string, cause error) *Error {
	return NewError(ErrCryptoGeneration, message, cause)
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsType checks whether err is an *Error of the given type.
func IsType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return IsType(err, ErrValidation)
}

// IsCsrfOrExpired checks if the error is a CSRF-or-expired error.
func IsCsrfOrExpired(err error) bool {
	return IsType(err, ErrCsrfOrExpired)
}

// IsUpstreamAuth checks if the error is an upstream authentication error.
func IsUpstreamAuth(err error) bool {
	return IsType(err, ErrUpstreamAuth)
}

// IsTokenExchange checks if the error is a token exchange error.
func IsTokenExchange(err error) bool {
	return IsType(err, ErrTokenExchange)
}

// IsTrustRegistration checks if the error is a trust registration error.
func IsTrustRegistration(err error) bool {
	return IsType(err, ErrTrustRegistration)
}

// IsStorage checks if the error is a storage error.
func IsStorage(err error) bool {
	return IsType(err, ErrStorage)
}

// IsPlatform checks if the error is a platform error.
func IsPlatform(err error) bool {
	return IsType(err, ErrPlatform)
}

// IsSecretConflict checks if the error is a secret conflict error.
func IsSecretConflict(err error) bool {
	return IsType(err, ErrSecretConflict)
}

// IsCredentialNotReady checks if the error is a credential not ready error.
func IsCredentialNotReady(err error) bool {
	return IsType(err, ErrCredentialNotReady)
}

// IsCryptoGeneration checks if the error is a crypto generation error.
func IsCryptoGeneration(err error) bool {
	return IsType(err, ErrCryptoGeneration)
}

// ProviderCode extracts the provider error code from a classified error, or
// returns the empty string.
func ProviderCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ProviderCode
	}
	return ""
}
