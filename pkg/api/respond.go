package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/secrets"
)

// maxRequestBody bounds request bodies; every payload here is small JSON.
const maxRequestBody = 1 << 20

// errorResponse is the wire shape of every failure.
type errorResponse struct {
	Error        string `json:"error"`
	Type         string `json:"type,omitempty"`
	ProviderCode string `json:"providerCode,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errors.NewValidationError("invalid request body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Classified
// messages are already free of secret material; anything unclassified is
// replaced wholesale.
func writeError(w http.ResponseWriter, err error) {
	var classified *errors.Error
	if !stderrors.As(err, &classified) {
		logger.Errorf("unclassified error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal error",
			Type:  errors.ErrInternal,
		})
		return
	}

	resp := errorResponse{
		Error:        classified.Message,
		Type:         classified.Type,
		ProviderCode: classified.ProviderCode,
	}
	writeJSON(w, statusForType(classified, err), resp)
}

func statusForType(classified *errors.Error, err error) int {
	switch classified.Type {
	case errors.ErrValidation, errors.ErrCsrfOrExpired:
		return http.StatusBadRequest
	case errors.ErrUpstreamAuth, errors.ErrTokenExchange, errors.ErrTrustRegistration, errors.ErrPlatform:
		return http.StatusBadGateway
	case errors.ErrSecretConflict, errors.ErrCredentialNotReady:
		return http.StatusConflict
	case errors.ErrStorage:
		if stderrors.Is(err, secrets.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
