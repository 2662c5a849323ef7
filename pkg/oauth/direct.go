package oauth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
)

// Grant types accepted by the direct-exchange engine.
const (
	GrantPassword          = "password"
	GrantClientCredentials = "client_credentials"
)

// maxExchangeAttempts bounds retries of a single exchange. Only transport
// failures are retried; any answer from the provider is final.
const maxExchangeAttempts = 3

// ExchangeInputs describe one direct token exchange.
type ExchangeInputs struct {
	TokenEndpoint string
	GrantType     string

	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// SecurityToken is appended to the password when set (Salesforce-style
	// password grants).
	SecurityToken string

	Scope string
}

// TokenResult is a successful direct exchange.
type TokenResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string

	// InstanceURL and IdentityURL are populated when the provider reports
	// them (Salesforce does).
	InstanceURL string
	IdentityURL string

	ExpiresAt time.Time
}

// DirectExchangeEngine performs non-interactive token exchanges for
// password and client-credentials grants.
type DirectExchangeEngine struct {
	httpClient *http.Client
}

// NewDirectExchangeEngine creates an engine using the given HTTP client.
func NewDirectExchangeEngine(httpClient *http.Client) *DirectExchangeEngine {
	return &DirectExchangeEngine{httpClient: httpClient}
}

// ExchangeCredentials trades stored credentials for an access token.
// Transport failures are retried with exponential backoff up to
// maxExchangeAttempts; a provider rejection is surfaced immediately as
// UpstreamAuthError carrying the provider's error code and description,
// never the submitted secrets.
func (e *DirectExchangeEngine) ExchangeCredentials(ctx context.Context, inputs ExchangeInputs) (*TokenResult, error) {
	if err := inputs.validate(); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", inputs.GrantType)
	form.Set("client_id", inputs.ClientID)
	form.Set("client_secret", inputs.ClientSecret)
	if inputs.GrantType == GrantPassword {
		form.Set("username", inputs.Username)
		form.Set("password", inputs.Password+inputs.SecurityToken)
	}
	if inputs.Scope != "" {
		form.Set("scope", inputs.Scope)
	}

	return e.postWithRetry(ctx, inputs.TokenEndpoint, form)
}

// TestAuthentication validates stored credentials without writing anything:
// it acquires a token and, when the provider reports an identity URL,
// probes it with the fresh token. Safe to retry.
func (e *DirectExchangeEngine) TestAuthentication(ctx context.Context, inputs ExchangeInputs) error {
	result, err := e.ExchangeCredentials(ctx, inputs)
	if err != nil {
		return err
	}
	if result.IdentityURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, result.IdentityURL, nil)
	if err != nil {
		return errors.NewInternalError("failed to build identity probe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamAuthError("failed to reach the identity endpoint", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.NewUpstreamAuthError(
			fmt.Sprintf("identity probe rejected with status %d", resp.StatusCode), "", nil)
	}
	return nil
}

func (inputs ExchangeInputs) validate() error {
	if inputs.TokenEndpoint == "" {
		return errors.NewValidationError("token endpoint is required", nil)
	}
	switch inputs.GrantType {
	case GrantPassword:
		if inputs.Username == "" || inputs.Password == "" {
			return errors.NewValidationError("username and password are required for the password grant", nil)
		}
	case GrantClientCredentials:
		if inputs.ClientID == "" || inputs.ClientSecret == "" {
			return errors.NewValidationError("client credentials are required", nil)
		}
	default:
		return errors.NewValidationError(fmt.Sprintf("unsupported grant type %q", inputs.GrantType), nil)
	}
	return nil
}

func (e *DirectExchangeEngine) postWithRetry(ctx context.Context, endpoint string, form url.Values) (*TokenResult, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	attempt := 0
	operation := func() (*TokenResult, error) {
		attempt++
		result, err := e.post(ctx, endpoint, form)
		if err != nil {
			if errors.IsUpstreamAuth(err) {
				// The provider answered; retrying cannot change its mind.
				return nil, backoff.Permanent(err)
			}
			logger.Warnw("token exchange transport failure",
				"endpoint", endpoint,
				"attempt", attempt,
			)
			return nil, err
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxExchangeAttempts),
	)
	if err != nil {
		var classified *errors.Error
		if !stderrors.As(err, &classified) {
			// Retries exhausted without ever reaching the provider.
			return nil, errors.NewUpstreamAuthError("token endpoint unreachable", "", err)
		}
		return nil, err
	}
	return result, nil
}

func (e *DirectExchangeEngine) post(ctx context.Context, endpoint string, form url.Values) (*TokenResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.NewInternalError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	token, err := decodeTokenResponse(resp)
	if err != nil {
		return nil, errors.NewUpstreamAuthError("malformed token response", "", err)
	}

	if resp.StatusCode != http.StatusOK || token.ErrorCode != "" || token.AccessToken == "" {
		message := fmt.Sprintf("credential exchange rejected with status %d", resp.StatusCode)
		if token.ErrorDescription != "" {
			message = fmt.Sprintf("%s: %s", message, token.ErrorDescription)
		}
		return nil, errors.NewUpstreamAuthError(message, token.ErrorCode, nil)
	}

	result := &TokenResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		InstanceURL:  token.InstanceURL,
		IdentityURL:  token.ID,
	}
	if seconds, err := token.ExpiresIn.Int64(); err == nil && seconds > 0 {
		result.ExpiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
	}
	return result, nil
}
