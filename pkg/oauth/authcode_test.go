package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/flowstate"
	"github.com/indexhub/provisioner/pkg/secrets"
)

type authCodeFixture struct {
	engine *AuthCodeEngine
	states *flowstate.MemoryStore
	creds  *credentials.Manager
}

func newAuthCodeFixture(t *testing.T, client *http.Client) *authCodeFixture {
	t.Helper()
	states := flowstate.NewMemoryStore()
	creds := credentials.NewManager(secrets.NewMemoryStore())
	if client == nil {
		client = http.DefaultClient
	}
	return &authCodeFixture{
		engine: NewAuthCodeEngine(states, creds, client),
		states: states,
		creds:  creds,
	}
}

func zendeskFlowContext(secretName, tokenEndpoint string) flowstate.Context {
	return flowstate.Context{
		ConnectorType:         string(credentials.ConnectorZendesk),
		RedirectURI:           "https://api.example.com/zendesk/oauth/callback?env=prod",
		ClientID:              "amazon-q-business-1750882988",
		ClientSecretRef:       secretName,
		Scope:                 "read write",
		AuthorizationEndpoint: "https://example.zendesk.com/oauth/authorizations/new",
		TokenEndpoint:         tokenEndpoint,
	}
}

func TestInitiateBuildsAuthorizationURL(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)

	init, err := fx.engine.Initiate(context.Background(), zendeskFlowContext("ref", "https://t.example.com/token"))
	require.NoError(t, err)
	assert.Equal(t, PhaseAuthPending, init.Phase)

	parsed, err := url.Parse(init.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, "https", parsed.Scheme)
	assert.Equal(t, "example.zendesk.com", parsed.Host)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "amazon-q-business-1750882988", query.Get("client_id"))
	assert.Equal(t, "https://api.example.com/zendesk/oauth/callback?env=prod", query.Get("redirect_uri"))
	assert.Equal(t, "read write", query.Get("scope"))
	assert.Equal(t, init.Nonce, query.Get("state"))

	// The raw URL carries the redirect URI and scope percent-encoded.
	assert.Contains(t, init.AuthorizationURL, "redirect_uri=https%3A%2F%2F")
	assert.Contains(t, init.AuthorizationURL, "scope=read+write")
}

func TestInitiateNoncesAreUniqueAndUnpadded(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)
	seen := make(map[string]bool)

	for range 16 {
		init, err := fx.engine.Initiate(context.Background(), zendeskFlowContext("ref", "https://t.example.com/token"))
		require.NoError(t, err)
		assert.False(t, seen[init.Nonce], "nonce reuse")
		seen[init.Nonce] = true
		assert.Len(t, init.Nonce, 43) // 32 bytes, base64url without padding
		assert.NotContains(t, init.Nonce, "=")
	}
}

func TestInitiateValidatesFlowContext(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)

	flowCtx := zendeskFlowContext("ref", "https://t.example.com/token")
	flowCtx.AuthorizationEndpoint = ""
	_, err := fx.engine.Initiate(context.Background(), flowCtx)
	assert.True(t, errors.IsValidation(err))
}

func TestHandleCallbackConsumesNonceOnce(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)
	ctx := context.Background()

	init, err := fx.engine.Initiate(ctx, zendeskFlowContext("ref", "https://t.example.com/token"))
	require.NoError(t, err)

	cb, err := fx.engine.HandleCallback(ctx, "auth-code-1", init.Nonce)
	require.NoError(t, err)
	assert.Equal(t, "auth-code-1", cb.Code)
	assert.Equal(t, PhaseCodeReceived, cb.Phase)
	assert.Equal(t, "ref", cb.Context.ClientSecretRef)

	// Replays look exactly like expired flows.
	_, err = fx.engine.HandleCallback(ctx, "auth-code-1", init.Nonce)
	assert.True(t, errors.IsCsrfOrExpired(err))
}

func TestHandleCallbackUnknownState(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)
	_, err := fx.engine.HandleCallback(context.Background(), "code", "forged-state")
	assert.True(t, errors.IsCsrfOrExpired(err))
}

func TestHandleCallbackConcurrentDuplicates(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)
	ctx := context.Background()

	init, err := fx.engine.Initiate(ctx, zendeskFlowContext("ref", "https://t.example.com/token"))
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.engine.HandleCallback(ctx, "code", init.Nonce)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.IsCsrfOrExpired(err))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one duplicate callback may win")
}

func TestExchangeCodePersistsTokens(t *testing.T) {
	var gotForm url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","refresh_token":"ref-456","token_type":"bearer","expires_in":3600}`))
	}))
	defer server.Close()

	fx := newAuthCodeFixture(t, server.Client())
	ctx := context.Background()

	// The connector seeds the record before the flow starts.
	record, err := fx.creds.Upsert(ctx, "", credentials.ConnectorZendesk, map[string]string{
		"clientSecret": "zendesk-client-secret",
		"hostUrl":      "https://example.zendesk.com",
	})
	require.NoError(t, err)
	require.Equal(t, credentials.StatusPending, record.Status)

	flowCtx := zendeskFlowContext(record.SecretName, server.URL)
	updated, err := fx.engine.ExchangeCode(ctx, "auth-code-1", flowCtx)
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code-1", gotForm.Get("code"))
	assert.Equal(t, "zendesk-client-secret", gotForm.Get("client_secret"))
	assert.Equal(t, flowCtx.RedirectURI, gotForm.Get("redirect_uri"))

	// Token present plus hostUrl makes the Zendesk record verified.
	assert.Equal(t, credentials.StatusVerified, updated.Status)

	stored, err := fx.creds.Read(ctx, record.SecretName, credentials.WithUnredacted())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", stored.Fields["accessToken"])
	assert.Equal(t, "ref-456", stored.Fields["refreshToken"])
	assert.NotEmpty(t, stored.Fields["expiresAt"])
}

func TestExchangeCodeProviderRejectionLeavesRecordPending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"authorization code expired"}`))
	}))
	defer server.Close()

	fx := newAuthCodeFixture(t, server.Client())
	ctx := context.Background()

	record, err := fx.creds.Upsert(ctx, "", credentials.ConnectorZendesk, map[string]string{
		"clientSecret": "zendesk-client-secret",
		"hostUrl":      "https://example.zendesk.com",
	})
	require.NoError(t, err)

	_, err = fx.engine.ExchangeCode(ctx, "stale-code", zendeskFlowContext(record.SecretName, server.URL))
	require.Error(t, err)
	assert.True(t, errors.IsTokenExchange(err))
	assert.Equal(t, "invalid_grant", errors.ProviderCode(err))
	assert.NotContains(t, err.Error(), "zendesk-client-secret")

	stored, err := fx.creds.Read(ctx, record.SecretName)
	require.NoError(t, err)
	assert.Equal(t, credentials.StatusPending, stored.Status)
	assert.Empty(t, stored.Fields["accessToken"])
}

func TestExchangeCodeRequiresCredentialRef(t *testing.T) {
	fx := newAuthCodeFixture(t, nil)
	flowCtx := zendeskFlowContext("", "https://t.example.com/token")
	_, err := fx.engine.ExchangeCode(context.Background(), "code", flowCtx)
	assert.True(t, errors.IsValidation(err))
}

func TestExchangeCodeSkipsEmptyScope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.False(t, r.PostForm.Has("scope"))
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	}))
	defer server.Close()

	fx := newAuthCodeFixture(t, server.Client())
	ctx := context.Background()

	record, err := fx.creds.Upsert(ctx, "", credentials.ConnectorZendesk, map[string]string{
		"clientSecret": "s",
	})
	require.NoError(t, err)

	flowCtx := zendeskFlowContext(record.SecretName, server.URL)
	flowCtx.Scope = ""
	_, err = fx.engine.ExchangeCode(ctx, "code", flowCtx)
	require.NoError(t, err)
}
