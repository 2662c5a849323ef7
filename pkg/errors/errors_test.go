package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrValidation,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "validation: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrStorage,
				Message: "test message",
				Cause:   nil,
			},
			want: "storage: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrInternal,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}
}

func TestCsrfOrExpiredIsIndistinguishable(t *testing.T) {
	// The message must be identical regardless of which condition produced
	// it, so callers cannot probe nonce validity windows.
	missing := NewCsrfOrExpiredError()
	expired := NewCsrfOrExpiredError()
	if missing.Error() != expired.Error() {
		t.Errorf("messages differ: %q vs %q", missing.Error(), expired.Error())
	}
	if !IsCsrfOrExpired(missing) {
		t.Error("IsCsrfOrExpired() = false, want true")
	}
}

func TestProviderCode(t *testing.T) {
	err := NewTokenExchangeError("code exchange rejected", "invalid_grant", nil)
	if got := ProviderCode(err); got != "invalid_grant" {
		t.Errorf("ProviderCode() = %v, want invalid_grant", got)
	}

	wrapped := fmt.Errorf("handling callback: %w", err)
	if !IsTokenExchange(wrapped) {
		t.Error("IsTokenExchange() on wrapped error = false, want true")
	}
	if got := ProviderCode(wrapped); got != "invalid_grant" {
		t.Errorf("ProviderCode() on wrapped = %v, want invalid_grant", got)
	}

	if got := ProviderCode(errors.New("plain")); got != "" {
		t.Errorf("ProviderCode() on plain error = %v, want empty", got)
	}
}

func TestIsTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
		want bool
	}{
		{"validation", NewValidationError("missing field", nil), IsValidation, true},
		{"storage", NewStorageError("secret store unavailable", nil), IsStorage, true},
		{"platform", NewPlatformError("data source create failed", nil), IsPlatform, true},
		{"conflict", NewSecretConflictError("connector type mismatch"), IsSecretConflict, true},
		{"not ready", NewCredentialNotReadyError("credential is pending"), IsCredentialNotReady, true},
		{"crypto", NewCryptoGenerationError("key generation failed", nil), IsCryptoGeneration, true},
		{"trust", NewTrustRegistrationError("upload rejected", nil), IsTrustRegistration, true},
		{"upstream", NewUpstreamAuthError("rejected", "invalid_client", nil), IsUpstreamAuth, true},
		{"mismatch", NewValidationError("missing field", nil), IsStorage, false},
		{"plain error", errors.New("plain"), IsValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}
