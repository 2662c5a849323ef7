package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/flowstate"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/networking"
	"github.com/indexhub/provisioner/pkg/oauth"
)

// zendeskCallbackPath is appended to the redirect base URL.
const zendeskCallbackPath = "zendesk-oauth-callback"

// Zendesk provisions the Zendesk connector: an optional OAuth client
// registration through the Zendesk API, the interactive authorization-code
// flow, and the final data source handoff.
type Zendesk struct {
	authCode    *oauth.AuthCodeEngine
	creds       *credentials.Manager
	dataSources *datasource.Service
	httpClient  *http.Client

	// redirectBase is the public base URL the provider redirects back to,
	// with a trailing slash.
	redirectBase string

	hostFor func(subdomain string) string
}

// ZendeskOption configures a Zendesk connector.
type ZendeskOption func(*Zendesk)

// WithZendeskHost overrides how a subdomain is resolved to a base URL.
// Tests point this at a local server.
func WithZendeskHost(hostFor func(subdomain string) string) ZendeskOption {
	return func(z *Zendesk) { z.hostFor = hostFor }
}

// NewZendesk creates the Zendesk connector.
func NewZendesk(
	authCode *oauth.AuthCodeEngine,
	creds *credentials.Manager,
	dataSources *datasource.Service,
	httpClient *http.Client,
	redirectBase string,
	opts ...ZendeskOption,
) *Zendesk {
	z := &Zendesk{
		authCode:     authCode,
		creds:        creds,
		dataSources:  dataSources,
		httpClient:   httpClient,
		redirectBase: redirectBase,
		hostFor: func(subdomain string) string {
			return fmt.Sprintf("https://%s.zendesk.com", subdomain)
		},
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Type returns the connector type.
func (*Zendesk) Type() credentials.ConnectorType {
	return credentials.ConnectorZendesk
}

// CreateOAuthClientRequest registers an OAuth client in the tenant on the
// admin's behalf.
type CreateOAuthClientRequest struct {
	Subdomain  string
	AdminEmail string
	APIToken   string
	AppName    string
}

// OAuthClient is a provider-side OAuth client registration.
type OAuthClient struct {
	AppName      string
	Identifier   string
	ClientSecret string
	RedirectURI  string
}

// CreateOAuthClient creates a confidential OAuth client via the Zendesk
// API, authenticated with the admin's email and API token.
func (z *Zendesk) CreateOAuthClient(ctx context.Context, req CreateOAuthClientRequest) (*OAuthClient, error) {
	if req.Subdomain == "" || req.AdminEmail == "" || req.APIToken == "" {
		return nil, errors.NewValidationError("subdomain, admin email, and API token are required", nil)
	}

	redirectURI := z.redirectBase + zendeskCallbackPath
	identifier := fmt.Sprintf("amazon-q-business-%d", time.Now().Unix())

	payload := map[string]any{
		"client": map[string]any{
			"name":         req.AppName,
			"identifier":   identifier,
			"redirect_uri": redirectURI,
			"description":  "Connector for integrating Zendesk with the indexing platform",
			"scopes":       []string{"read", "write"},
			"kind":         "confidential",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode client payload", err)
	}

	apiURL := z.hostFor(req.Subdomain) + "/api/v2/oauth/clients.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build client request", err)
	}
	httpReq.SetBasicAuth(req.AdminEmail+"/token", req.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := z.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewUpstreamAuthError("failed to reach the Zendesk API", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, errors.NewUpstreamAuthError(
			fmt.Sprintf("Zendesk client creation rejected with status %d", resp.StatusCode), "",
			networking.NewHTTPError(resp.StatusCode, apiURL, "client creation rejected"))
	}

	var created struct {
		Client struct {
			Identifier string `json:"identifier"`
			Secret     string `json:"secret"`
		} `json:"client"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&created); err != nil {
		return nil, errors.NewUpstreamAuthError("malformed Zendesk client response", "", err)
	}

	logger.Infow("zendesk oauth client created",
		"subdomain", req.Subdomain,
		"client_id", created.Client.Identifier,
	)

	return &OAuthClient{
		AppName:      req.AppName,
		Identifier:   created.Client.Identifier,
		ClientSecret: created.Client.Secret,
		RedirectURI:  redirectURI,
	}, nil
}

// ZendeskInitiateRequest starts the interactive flow for a tenant.
type ZendeskInitiateRequest struct {
	Subdomain    string
	ClientID     string
	ClientSecret string
}

// ZendeskInitiation is the started flow plus the credential record backing
// it.
type ZendeskInitiation struct {
	AuthorizationURL string
	SecretName       string
}

// InitiateFlow seeds the credential record for the tenant and starts the
// authorization-code flow. The record name is deterministic per
// subdomain and client, so a restarted flow converges on the same secret.
func (z *Zendesk) InitiateFlow(ctx context.Context, req ZendeskInitiateRequest) (*ZendeskInitiation, error) {
	if req.Subdomain == "" || req.ClientID == "" || req.ClientSecret == "" {
		return nil, errors.NewValidationError("subdomain, client id, and client secret are required", nil)
	}

	host := z.hostFor(req.Subdomain)
	secretName := zendeskSecretName(req.Subdomain, req.ClientID)

	record, err := z.creds.Upsert(ctx, secretName, credentials.ConnectorZendesk, map[string]string{
		"clientSecret": req.ClientSecret,
		"hostUrl":      host + "/",
	})
	if err != nil {
		return nil, err
	}

	init, err := z.authCode.Initiate(ctx, flowstate.Context{
		ConnectorType:         string(credentials.ConnectorZendesk),
		RedirectURI:           z.redirectBase + zendeskCallbackPath,
		ClientID:              req.ClientID,
		ClientSecretRef:       record.SecretName,
		Scope:                 "read write",
		AuthorizationEndpoint: host + "/oauth/authorizations/new",
		TokenEndpoint:         host + "/oauth/tokens",
	})
	if err != nil {
		return nil, err
	}

	return &ZendeskInitiation{
		AuthorizationURL: init.AuthorizationURL,
		SecretName:       record.SecretName,
	}, nil
}

// CompleteFlow handles the provider callback and exchanges the code. On
// success the credential record holds the access token and is VERIFIED.
func (z *Zendesk) CompleteFlow(ctx context.Context, code, state string) (*credentials.Record, error) {
	callback, err := z.authCode.HandleCallback(ctx, code, state)
	if err != nil {
		return nil, err
	}
	return z.authCode.ExchangeCode(ctx, callback.Code, callback.Context)
}

// ZendeskDataSourceRequest creates the data source for a verified tenant.
type ZendeskDataSourceRequest struct {
	ApplicationID  string
	IndexID        string
	DisplayName    string
	RoleARN        string
	SecretName     string
	RunInitialSync bool
}

// CreateDataSource hands the verified credential over to the platform.
func (z *Zendesk) CreateDataSource(ctx context.Context, req ZendeskDataSourceRequest) (*datasource.Result, error) {
	record, err := z.creds.Read(ctx, req.SecretName)
	if err != nil {
		return nil, err
	}

	secretARN, err := z.creds.ARN(ctx, req.SecretName)
	if err != nil {
		return nil, err
	}

	return z.dataSources.CreateDataSource(ctx, datasource.CreateRequest{
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
		RoleARN:       req.RoleARN,
		Configuration: zendeskConfiguration(secretARN, record.Fields["hostUrl"]),
	}, req.SecretName, datasource.SyncConfig{RunInitialSync: req.RunInitialSync})
}

// zendeskSecretName derives the deterministic record name for a tenant.
// The unique suffix is the trailing segment of the generated client id.
func zendeskSecretName(subdomain, clientID string) string {
	parts := strings.Split(clientID, "-")
	uniqueID := parts[len(parts)-1]
	return fmt.Sprintf("qbusiness-zendesk-secret-%s-%s", subdomain, uniqueID)
}

func zendeskConfiguration(secretARN, hostURL string) map[string]any {
	return map[string]any{
		"type":     "ZENDESK",
		"syncMode": "FULL_CRAWL",
		"connectionConfiguration": map[string]any{
			"repositoryEndpointMetadata": map[string]any{
				"hostUrl":  hostURL,
				"authType": "OAuth2",
			},
		},
		"secretArn":             secretARN,
		"enableIdentityCrawler": "true",
		"additionalProperties": map[string]any{
			"isCrawlTickets":          "true",
			"isCrawlTicketComments":   "true",
			"isCrawlArticles":         "true",
			"isCrawlArticleComments":  "false",
			"isCrawlCommunityTopics":  "true",
			"isCrawlCommunityPosts":   "true",
			"maxFileSizeInMegaBytes":  "50",
			"inclusionPatterns":       []string{},
			"exclusionPatterns":       []string{},
			"organizationNameFilter":  []string{},
			"crawlAttachments":        "true",
			"applyACLForTickets":      "true",
			"applyACLForArticles":     "true",
			"incrementalCrawlEnabled": "false",
		},
		"repositoryConfigurations": map[string]any{
			"ticket": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "subject"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "url"},
					{
						"indexFieldName":      "_created_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "created_at",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
				},
			},
			"article": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "title"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "html_url"},
					{
						"indexFieldName":      "_last_updated_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "updated_at",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
				},
			},
		},
	}
}

var _ Provisioner = (*Zendesk)(nil)
