package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexhub/provisioner/pkg/certs"
	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/flowstate"
	"github.com/indexhub/provisioner/pkg/oauth"
	"github.com/indexhub/provisioner/pkg/secrets"
)

type apiFixture struct {
	router   http.Handler
	creds    *credentials.Manager
	upstream *httptest.Server
}

// newAPIFixture wires the full route tree against in-memory backends and a
// single stub standing in for every upstream provider.
func newAPIFixture(t *testing.T, upstream http.Handler) *apiFixture {
	t.Helper()

	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	creds := credentials.NewManager(secrets.NewMemoryStore())
	authCode := oauth.NewAuthCodeEngine(flowstate.NewMemoryStore(), creds, server.Client())
	direct := oauth.NewDirectExchangeEngine(server.Client())
	dataSources := datasource.NewService(datasource.NewMemoryPlatform(), creds)
	storage := certs.NewStorage(certs.NewMemoryBlobStore())
	registrar := certs.NewRegistrar(server.Client(),
		certs.WithGraphBaseURL(server.URL),
		certs.WithLoginBaseURL(server.URL))

	deps := Deps{
		Zendesk: connectors.NewZendesk(authCode, creds, dataSources, server.Client(),
			"https://api.example.com/",
			connectors.WithZendeskHost(func(string) string { return server.URL })),
		ServiceNow: connectors.NewServiceNow(creds, dataSources, server.Client(),
			connectors.WithServiceNowHost(func(string) string { return server.URL })),
		Salesforce: connectors.NewSalesforce(creds, direct, dataSources, server.Client(),
			connectors.WithSalesforceLoginURL(server.URL+"/services/Soap/c/60.0")),
		SharePoint: connectors.NewSharePoint(creds, storage, registrar, dataSources, server.Client(),
			"cert-bucket",
			connectors.WithSharePointGraphBaseURL(server.URL),
			connectors.WithSharePointLoginBaseURL(server.URL)),
		Credentials: creds,
	}

	return &apiFixture{router: NewRouter(deps), creds: creds, upstream: server}
}

func (fx *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthcheck(t *testing.T) {
	fx := newAPIFixture(t, http.NewServeMux())
	rec := fx.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestZendeskFlowOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/tokens", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"zd-token","refresh_token":"zd-refresh","expires_in":86400}`))
	})

	fx := newAPIFixture(t, mux)

	rec := fx.do(t, http.MethodPost, "/v1/zendesk/flows",
		`{"subdomain":"example","clientId":"amazon-q-business-1750882988","clientSecret":"client-secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	secretName := body["secretName"].(string)
	assert.Equal(t, "qbusiness-zendesk-secret-example-1750882988", secretName)

	parsed, err := url.Parse(body["authorizationUrl"].(string))
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	rec = fx.do(t, http.MethodGet, "/zendesk-oauth-callback?code=auth-code-1&state="+url.QueryEscape(state), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(credentials.StatusVerified), decodeBody(t, rec)["status"])

	// The stored record is readable, redacted.
	rec = fx.do(t, http.MethodGet, "/v1/credentials/"+secretName, "")
	require.Equal(t, http.StatusOK, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	assert.Equal(t, credentials.Mask, fields["accessToken"])
	assert.NotContains(t, rec.Body.String(), "zd-token")
}

func TestZendeskCallbackReplayIsBadRequest(t *testing.T) {
	fx := newAPIFixture(t, http.NewServeMux())

	rec := fx.do(t, http.MethodGet, "/zendesk-oauth-callback?code=c&state=unknown", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "csrf_or_expired", body["type"])
	assert.Equal(t, "the request is invalid or has expired", body["error"])
}

func TestServiceNowProvisionAndDataSourceOverHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/now/table/oauth_entity", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":{"sys_id":"sys-123"}}`))
	})

	fx := newAPIFixture(t, mux)

	rec := fx.do(t, http.MethodPost, "/v1/servicenow/provision",
		`{"instance":"dev00001","username":"admin","password":"admin-password","appName":"connector","redirectUrl":"https://api.example.com/cb"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, string(credentials.StatusVerified), body["status"])
	secretName := body["secretName"].(string)

	// The admin password never leaves the server once stored.
	assert.NotContains(t, rec.Body.String(), "admin-password")

	rec = fx.do(t, http.MethodPost, "/v1/servicenow/data-sources",
		`{"applicationId":"app-1","indexId":"idx-1","displayName":"servicenow-dev00001",`+
			`"roleArn":"arn:aws:iam::123456789012:role/indexer","secretName":"`+secretName+`","instance":"dev00001"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody(t, rec)["dataSourceId"])
}

func TestSalesforceTestAuthenticationNotReadyIsConflict(t *testing.T) {
	fx := newAPIFixture(t, http.NewServeMux())

	// An incomplete record stays pending.
	_, err := fx.creds.Upsert(context.Background(), "sf-secret", credentials.ConnectorSalesforce,
		map[string]string{"username": "admin@example.com"})
	require.NoError(t, err)

	rec := fx.do(t, http.MethodPost, "/v1/salesforce/credentials/sf-secret/test", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "credential_not_ready", decodeBody(t, rec)["type"])
}

func TestUnknownCredentialIsNotFound(t *testing.T) {
	fx := newAPIFixture(t, http.NewServeMux())

	rec := fx.do(t, http.MethodGet, "/v1/credentials/no-such-secret", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "storage", decodeBody(t, rec)["type"])
}

func TestInvalidJSONBodyIsBadRequest(t *testing.T) {
	fx := newAPIFixture(t, http.NewServeMux())

	rec := fx.do(t, http.MethodPost, "/v1/zendesk/flows", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeBody(t, rec)["type"])
}

func TestUpstreamRejectionIsBadGateway(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/now/table/oauth_entity", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	fx := newAPIFixture(t, mux)

	rec := fx.do(t, http.MethodPost, "/v1/servicenow/oauth-apps",
		`{"instance":"dev00001","username":"admin","password":"wrong","appName":"connector"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_auth", decodeBody(t, rec)["type"])
}

func TestPlatformFailureIsBadGateway(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.NewPlatformError("failed to create data source", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrPlatform, resp.Type)
}
