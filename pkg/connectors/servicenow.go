package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/networking"
)

// ServiceNow provisions the ServiceNow connector: OAuth app registration
// through the Table API, credential storage, and the data source handoff.
type ServiceNow struct {
	creds       *credentials.Manager
	dataSources *datasource.Service
	httpClient  *http.Client

	hostFor func(instance string) string
}

// ServiceNowOption configures a ServiceNow connector.
type ServiceNowOption func(*ServiceNow)

// WithServiceNowHost overrides how an instance name is resolved to a base
// URL. Tests point this at a local server.
func WithServiceNowHost(hostFor func(instance string) string) ServiceNowOption {
	return func(s *ServiceNow) { s.hostFor = hostFor }
}

// NewServiceNow creates the ServiceNow connector.
func NewServiceNow(
	creds *credentials.Manager,
	dataSources *datasource.Service,
	httpClient *http.Client,
	opts ...ServiceNowOption,
) *ServiceNow {
	s := &ServiceNow{
		creds:       creds,
		dataSources: dataSources,
		httpClient:  httpClient,
		hostFor: func(instance string) string {
			return fmt.Sprintf("https://%s.service-now.com", instance)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Type returns the connector type.
func (*ServiceNow) Type() credentials.ConnectorType {
	return credentials.ConnectorServiceNow
}

// RegisterOAuthAppRequest creates an OAuth registration in the instance.
type RegisterOAuthAppRequest struct {
	Instance    string
	Username    string
	Password    string
	AppName     string
	RedirectURL string
}

// OAuthApp is a registered ServiceNow OAuth entity.
type OAuthApp struct {
	AppName      string
	ClientID     string
	ClientSecret string
	SysID        string
}

// RegisterOAuthApp inserts an oauth_entity row through the Table API using
// the admin's basic-auth credentials. Client id and secret are generated
// here rather than by the instance.
func (s *ServiceNow) RegisterOAuthApp(ctx context.Context, req RegisterOAuthAppRequest) (*OAuthApp, error) {
	if req.Instance == "" || req.Username == "" || req.Password == "" {
		return nil, errors.NewValidationError("instance, username, and password are required", nil)
	}

	clientID := uuid.NewString()
	clientSecret := uuid.NewString()
	appName := fmt.Sprintf("%s-%s", req.AppName, uuid.NewString())

	payload := map[string]any{
		"name":                   appName,
		"client_id":              clientID,
		"client_secret":          clientSecret,
		"redirect_url":           req.RedirectURL,
		"access_token_lifespan":  "3600",
		"refresh_token_lifespan": "8640000",
		"grant_types":            "authorization_code,refresh_token",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode oauth_entity payload", err)
	}

	apiURL := s.hostFor(req.Instance) + "/api/now/table/oauth_entity"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build oauth_entity request", err)
	}
	httpReq.SetBasicAuth(req.Username, req.Password)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewUpstreamAuthError("failed to reach the ServiceNow API", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, errors.NewUpstreamAuthError(
			fmt.Sprintf("ServiceNow app registration rejected with status %d", resp.StatusCode), "",
			networking.NewHTTPError(resp.StatusCode, apiURL, "registration rejected"))
	}

	var created struct {
		Result struct {
			SysID string `json:"sys_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&created); err != nil {
		return nil, errors.NewUpstreamAuthError("malformed ServiceNow response", "", err)
	}

	logger.Infow("servicenow oauth app registered",
		"instance", req.Instance,
		"app_name", appName,
		"sys_id", created.Result.SysID,
	)

	return &OAuthApp{
		AppName:      appName,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		SysID:        created.Result.SysID,
	}, nil
}

// ProvisionRequest registers the OAuth app and stores the full credential
// set in one step.
type ProvisionRequest struct {
	Instance    string
	Username    string
	Password    string
	AppName     string
	RedirectURL string
}

// ServiceNowProvisionResult is the registered app plus its credential
// record.
type ServiceNowProvisionResult struct {
	App        *OAuthApp
	SecretName string
	Status     credentials.Status
}

// Provision registers the OAuth app and persists the credential record.
// ServiceNow credentials carry everything the platform needs up front, so
// the record is VERIFIED immediately.
func (s *ServiceNow) Provision(ctx context.Context, req ProvisionRequest) (*ServiceNowProvisionResult, error) {
	app, err := s.RegisterOAuthApp(ctx, RegisterOAuthAppRequest(req))
	if err != nil {
		return nil, err
	}

	secretName := fmt.Sprintf("qbusiness-servicenow-secret-%s-%s", req.Instance, app.ClientID)
	record, err := s.creds.Upsert(ctx, secretName, credentials.ConnectorServiceNow, map[string]string{
		"username":     req.Username,
		"password":     req.Password,
		"clientId":     app.ClientID,
		"clientSecret": app.ClientSecret,
		"hostUrl":      s.hostFor(req.Instance),
	})
	if err != nil {
		return nil, err
	}

	return &ServiceNowProvisionResult{
		App:        app,
		SecretName: record.SecretName,
		Status:     record.Status,
	}, nil
}

// ServiceNowDataSourceRequest creates the data source for an instance.
type ServiceNowDataSourceRequest struct {
	ApplicationID  string
	IndexID        string
	DisplayName    string
	RoleARN        string
	SecretName     string
	Instance       string
	RunInitialSync bool
}

// CreateDataSource hands the verified credential over to the platform.
func (s *ServiceNow) CreateDataSource(ctx context.Context, req ServiceNowDataSourceRequest) (*datasource.Result, error) {
	secretARN, err := s.creds.ARN(ctx, req.SecretName)
	if err != nil {
		return nil, err
	}

	return s.dataSources.CreateDataSource(ctx, datasource.CreateRequest{
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
		RoleARN:       req.RoleARN,
		Configuration: servicenowConfiguration(secretARN, req.Instance),
	}, req.SecretName, datasource.SyncConfig{RunInitialSync: req.RunInitialSync})
}

func servicenowConfiguration(secretARN, instance string) map[string]any {
	return map[string]any{
		"type":     "SERVICENOW",
		"version":  "1.0.0",
		"syncMode": "FORCED_FULL_CRAWL",
		"connectionConfiguration": map[string]any{
			"repositoryEndpointMetadata": map[string]any{
				"hostUrl":                   fmt.Sprintf("%s.service-now.com", instance),
				"authType":                  "OAuth2",
				"servicenowInstanceVersion": "Others",
			},
		},
		"secretArn":             secretARN,
		"enableIdentityCrawler": "true",
		"crawlType":             "FULL_CRAWL",
		"additionalProperties": map[string]any{
			"maxFileSizeInMegaBytes":            "50",
			"isCrawlKnowledgeArticle":           "true",
			"isCrawlKnowledgeArticleAttachment": "true",
			"includePublicArticlesOnly":         "false",
			"knowledgeArticleFilter":            "active=true",
			"isCrawlServiceCatalog":             "true",
			"isCrawlServiceCatalogAttachment":   "true",
			"isCrawlActiveServiceCatalog":       "true",
			"isCrawlInactiveServiceCatalog":     "true",
			"isCrawlIncident":                   "false",
			"isCrawlIncidentAttachment":         "true",
			"applyACLForKnowledgeArticle":       "true",
			"applyACLForServiceCatalog":         "true",
			"applyACLForIncident":               "true",
			"incidentStateType":                 []string{"Open", "Open - Unassigned", "Resolved", "All"},
			"inclusionFileTypePatterns":         []string{},
			"exclusionFileTypePatterns":         []string{},
		},
		"repositoryConfigurations": map[string]any{
			"knowledgeArticle": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "short_description"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "displayUrl"},
					{
						"indexFieldName":      "_created_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "sys_created_on",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
					{
						"indexFieldName":      "_last_updated_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "sys_updated_on",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
					{"indexFieldName": "_authors", "indexFieldType": "STRING_LIST", "dataSourceFieldName": "sys_created_by"},
					{"indexFieldName": "_category", "indexFieldType": "STRING", "dataSourceFieldName": "kb_category_name"},
				},
			},
			"serviceCatalog": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "name"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "displayUrl"},
				},
			},
		},
	}
}

var _ Provisioner = (*ServiceNow)(nil)
