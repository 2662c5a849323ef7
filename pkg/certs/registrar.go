package certs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/indexhub/provisioner/pkg/errors"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com"
	defaultLoginBaseURL = "https://login.microsoftonline.com"
)

// ApplicationRef identifies the directory application receiving the
// certificate.
type ApplicationRef struct {
	TenantID string
	ObjectID string
}

// AdminCredentials are the client credentials used to obtain a Graph token
// for the registration call.
type AdminCredentials struct {
	ClientID     string
	ClientSecret string
}

// Registrar uploads public certificates to Microsoft Graph applications.
// Registration is not idempotent on the provider side, so failures are
// surfaced as TrustRegistrationError and never retried automatically.
type Registrar struct {
	httpClient   *http.Client
	graphBaseURL string
	loginBaseURL string
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithGraphBaseURL overrides the Graph API base URL.
func WithGraphBaseURL(u string) RegistrarOption {
	return func(r *Registrar) { r.graphBaseURL = u }
}

// WithLoginBaseURL overrides the token endpoint base URL.
func WithLoginBaseURL(u string) RegistrarOption {
	return func(r *Registrar) { r.loginBaseURL = u }
}

// NewRegistrar creates a Registrar using the given HTTP client.
func NewRegistrar(httpClient *http.Client, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		httpClient:   httpClient,
		graphBaseURL: defaultGraphBaseURL,
		loginBaseURL: defaultLoginBaseURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type keyCredential struct {
	Type          string `json:"type"`
	Usage         string `json:"usage"`
	Key           string `json:"key"`
	DisplayName   string `json:"displayName"`
	StartDateTime string `json:"startDateTime"`
	EndDateTime   string `json:"endDateTime"`
}

type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Register uploads certPEM as a key credential on the application and
// returns the display name assigned to the credential.
func (r *Registrar) Register(ctx context.Context, app ApplicationRef, certPEM []byte, admin AdminCredentials) (string, error) {
	if app.TenantID == "" || app.ObjectID == "" {
		return "", errors.NewValidationError("application tenant and object id are required", nil)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", errors.NewValidationError("certificate material is not PEM encoded", nil)
	}

	token, err := r.acquireToken(ctx, app.TenantID, admin)
	if err != nil {
		return "", err
	}

	displayName := fmt.Sprintf("Certificate-%d", time.Now().Unix())
	cred := keyCredential{
		Type:          "AsymmetricX509Cert",
		Usage:         "Verify",
		Key:           base64.StdEncoding.EncodeToString(block.Bytes),
		DisplayName:   displayName,
		StartDateTime: time.Now().UTC().Format(time.RFC3339),
		EndDateTime:   time.Now().UTC().Add(DefaultValidity).Format(time.RFC3339),
	}
	body, err := json.Marshal(map[string]any{"keyCredentials": []keyCredential{cred}})
	if err != nil {
		return "", errors.NewInternalError("failed to encode key credential", err)
	}

	url := fmt.Sprintf("%s/v1.0/applications/%s", r.graphBaseURL, app.ObjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternalError("failed to build registration request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", errors.NewTrustRegistrationError("failed to reach the identity provider", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var graphErr graphErrorResponse
		_ = json.Unmarshal(data, &graphErr)
		msg := fmt.Sprintf("certificate registration rejected with status %d", resp.StatusCode)
		if graphErr.Error.Code != "" {
			msg = fmt.Sprintf("%s: %s: %s", msg, graphErr.Error.Code, graphErr.Error.Message)
		}
		return "", errors.NewTrustRegistrationError(msg, nil)
	}

	return displayName, nil
}

// acquireToken obtains an app-only Graph token via the client credentials
// grant.
func (r *Registrar) acquireToken(ctx context.Context, tenantID string, admin AdminCredentials) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     admin.ClientID,
		ClientSecret: admin.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", r.loginBaseURL, tenantID),
		Scopes:       []string{r.graphBaseURL + "/.default"},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	token, err := cfg.Token(ctx)
	if err != nil {
		return "", errors.NewTrustRegistrationError("failed to acquire an identity provider token", err)
	}
	return token.AccessToken, nil
}
