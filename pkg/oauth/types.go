// Package oauth implements the two token-acquisition engines: the
// interactive authorization-code flow with CSRF-protected callbacks, and
// the non-interactive direct exchange used by password and
// client-credentials grants. Engines are provider-agnostic; connectors
// supply endpoints and field mappings.
package oauth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Phase tracks where a flow is in its lifecycle. Failure phases are
// terminal; a failed flow restarts from Initiate.
type Phase string

// Flow phases.
const (
	PhaseInit                Phase = "INIT"
	PhaseAuthPending         Phase = "AUTH_PENDING"
	PhaseCodeReceived        Phase = "CODE_RECEIVED"
	PhaseTokenAcquired       Phase = "TOKEN_ACQUIRED"
	PhaseCsrfMismatch        Phase = "CSRF_MISMATCH"
	PhaseExpired             Phase = "EXPIRED"
	PhaseTokenExchangeFailed Phase = "TOKEN_EXCHANGE_FAILED"
)

// tokenResponse is the provider's answer to a token request. Providers
// disagree on number encodings, so expires_in accepts both forms.
type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    json.Number `json:"expires_in"`
	Scope        string      `json:"scope"`

	// Salesforce extras.
	InstanceURL string `json:"instance_url"`
	ID          string `json:"id"`

	// RFC 6749 error fields.
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

const maxTokenResponseSize = 1 << 20

func decodeTokenResponse(resp *http.Response) (*tokenResponse, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	var token tokenResponse
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &token, nil
}
