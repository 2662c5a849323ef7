package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/flowstate"
	"github.com/indexhub/provisioner/pkg/logger"
)

// nonceSize is the number of random bytes behind each CSRF nonce.
const nonceSize = 32

// AuthCodeEngine drives the OAuth 2.0 authorization-code flow. It holds no
// per-provider knowledge; the flow context carries the endpoints and the
// name of the credential record that stores the client secret.
type AuthCodeEngine struct {
	states     flowstate.Store
	creds      *credentials.Manager
	httpClient *http.Client
	stateTTL   time.Duration
}

// AuthCodeOption configures an AuthCodeEngine.
type AuthCodeOption func(*AuthCodeEngine)

// WithStateTTL overrides the pending-flow lifetime.
func WithStateTTL(ttl time.Duration) AuthCodeOption {
	return func(e *AuthCodeEngine) { e.stateTTL = ttl }
}

// NewAuthCodeEngine creates an engine over the given state store and
// credential manager.
func NewAuthCodeEngine(
	states flowstate.Store, creds *credentials.Manager, httpClient *http.Client, opts ...AuthCodeOption,
) *AuthCodeEngine {
	e := &AuthCodeEngine{
		states:     states,
		creds:      creds,
		httpClient: httpClient,
		stateTTL:   flowstate.DefaultTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initiation is the result of starting a flow.
type Initiation struct {
	Nonce            string
	AuthorizationURL string
	Phase            Phase
}

// Callback is the result of a verified provider callback.
type Callback struct {
	Code    string
	Context flowstate.Context
	Phase   Phase
}

// Initiate binds a fresh nonce to the flow context and returns the
// authorization URL the user must visit. No network call is made.
func (e *AuthCodeEngine) Initiate(ctx context.Context, flowCtx flowstate.Context) (*Initiation, error) {
	if flowCtx.AuthorizationEndpoint == "" {
		return nil, errors.NewValidationError("authorization endpoint is required", nil)
	}
	if flowCtx.ClientID == "" {
		return nil, errors.NewValidationError("client id is required", nil)
	}
	if flowCtx.RedirectURI == "" {
		return nil, errors.NewValidationError("redirect URI is required", nil)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, errors.NewCryptoGenerationError("failed to generate flow nonce", err)
	}

	if err := e.states.Put(ctx, nonce, flowCtx, e.stateTTL); err != nil {
		return nil, errors.NewStorageError("failed to persist flow state", err)
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", flowCtx.ClientID)
	query.Set("redirect_uri", flowCtx.RedirectURI)
	if flowCtx.Scope != "" {
		query.Set("scope", flowCtx.Scope)
	}
	query.Set("state", nonce)

	separator := "?"
	if strings.Contains(flowCtx.AuthorizationEndpoint, "?") {
		separator = "&"
	}

	logger.Infow("authorization flow initiated",
		"connector_type", flowCtx.ConnectorType,
		"client_id", flowCtx.ClientID,
	)

	return &Initiation{
		Nonce:            nonce,
		AuthorizationURL: flowCtx.AuthorizationEndpoint + separator + query.Encode(),
		Phase:            PhaseAuthPending,
	}, nil
}

// HandleCallback consumes the nonce carried in state and returns the code
// together with the original flow context. The state entry is removed
// before any further processing, so a duplicate or replayed callback fails
// the same way an expired one does.
func (e *AuthCodeEngine) HandleCallback(ctx context.Context, code, state string) (*Callback, error) {
	if code == "" || state == "" {
		return nil, errors.NewValidationError("code and state are required", nil)
	}

	flowCtx, err := e.states.GetAndDelete(ctx, state)
	if err != nil {
		// Unknown and expired are indistinguishable on purpose.
		return nil, errors.NewCsrfOrExpiredError()
	}

	return &Callback{Code: code, Context: flowCtx, Phase: PhaseCodeReceived}, nil
}

// ExchangeCode trades the authorization code for tokens and persists them
// into the credential record named by the flow context. A provider
// rejection leaves the record PENDING; the flow restarts from Initiate.
func (e *AuthCodeEngine) ExchangeCode(
	ctx context.Context, code string, flowCtx flowstate.Context,
) (*credentials.Record, error) {
	if flowCtx.TokenEndpoint == "" {
		return nil, errors.NewValidationError("token endpoint is required", nil)
	}
	if flowCtx.ClientSecretRef == "" {
		return nil, errors.NewValidationError("flow context carries no credential record", nil)
	}

	record, err := e.creds.Read(ctx, flowCtx.ClientSecretRef, credentials.WithUnredacted())
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", flowCtx.ClientID)
	form.Set("client_secret", record.Fields["clientSecret"])
	form.Set("redirect_uri", flowCtx.RedirectURI)
	if flowCtx.Scope != "" {
		form.Set("scope", flowCtx.Scope)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, flowCtx.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.NewInternalError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTokenExchangeError("failed to reach the token endpoint", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	token, err := decodeTokenResponse(resp)
	if err != nil {
		return nil, errors.NewTokenExchangeError("malformed token response", "", err)
	}

	if resp.StatusCode != http.StatusOK || token.ErrorCode != "" || token.AccessToken == "" {
		code := token.ErrorCode
		logger.Warnw("authorization code exchange rejected",
			"connector_type", flowCtx.ConnectorType,
			"status", resp.StatusCode,
			"provider_code", code,
		)
		return nil, errors.NewTokenExchangeError(
			fmt.Sprintf("token endpoint rejected the exchange with status %d", resp.StatusCode), code, nil)
	}

	fields := map[string]string{
		"accessToken":  token.AccessToken,
		"refreshToken": token.RefreshToken,
	}
	if seconds, err := token.ExpiresIn.Int64(); err == nil && seconds > 0 {
		fields["expiresAt"] = time.Now().Add(time.Duration(seconds) * time.Second).UTC().Format(time.RFC3339)
	}

	updated, err := e.creds.Upsert(ctx, flowCtx.ClientSecretRef, record.ConnectorType, fields)
	if err != nil {
		return nil, err
	}

	logger.Infow("authorization flow completed",
		"connector_type", flowCtx.ConnectorType,
		"secret_name", updated.SecretName,
		"status", updated.Status,
	)
	return updated, nil
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
