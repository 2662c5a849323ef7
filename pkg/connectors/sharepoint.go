package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/indexhub/provisioner/pkg/certs"
	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
)

const (
	// graphResourceAppID is the well-known application id of Microsoft
	// Graph.
	graphResourceAppID = "00000003-0000-0000-c000-000000000000"

	sharePointServicePrincipalFilter = "displayName eq 'Office 365 SharePoint Online'"
	graphServicePrincipalFilter      = "displayName eq 'Microsoft Graph'"
)

// SharePoint provisions the SharePoint Online connector: directory
// application registration, certificate trust material, and the data
// source handoff. Authentication to the tenant is certificate-based.
type SharePoint struct {
	creds       *credentials.Manager
	certStorage *certs.Storage
	registrar   *certs.Registrar
	dataSources *datasource.Service
	httpClient  *http.Client

	// certBucket is referenced by the data source configuration so the
	// platform can read the certificate the connector stored.
	certBucket string

	graphBaseURL string
	loginBaseURL string
}

// SharePointOption configures a SharePoint connector.
type SharePointOption func(*SharePoint)

// WithSharePointGraphBaseURL overrides the Graph API base URL.
func WithSharePointGraphBaseURL(u string) SharePointOption {
	return func(s *SharePoint) { s.graphBaseURL = u }
}

// WithSharePointLoginBaseURL overrides the token endpoint base URL.
func WithSharePointLoginBaseURL(u string) SharePointOption {
	return func(s *SharePoint) { s.loginBaseURL = u }
}

// NewSharePoint creates the SharePoint connector.
func NewSharePoint(
	creds *credentials.Manager,
	certStorage *certs.Storage,
	registrar *certs.Registrar,
	dataSources *datasource.Service,
	httpClient *http.Client,
	certBucket string,
	opts ...SharePointOption,
) *SharePoint {
	s := &SharePoint{
		creds:        creds,
		certStorage:  certStorage,
		registrar:    registrar,
		dataSources:  dataSources,
		httpClient:   httpClient,
		certBucket:   certBucket,
		graphBaseURL: "https://graph.microsoft.com",
		loginBaseURL: "https://login.microsoftonline.com",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Type returns the connector type.
func (*SharePoint) Type() credentials.ConnectorType {
	return credentials.ConnectorSharePoint
}

// AdminCredentials identify the admin application used for directory
// operations.
type AdminCredentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// CreateAzureAppRequest registers a new directory application.
type CreateAzureAppRequest struct {
	Admin        AdminCredentials
	AppName      string
	RedirectURIs []string
}

// AzureApp is a registered directory application. The assigned
// permissions still require admin consent before they take effect.
type AzureApp struct {
	ObjectID     string
	ClientID     string
	ClientSecret string
	DisplayName  string
	TenantID     string
	ConsentURL   string
}

// CreateAzureApp registers an application with the site and directory
// permissions the crawler needs, creates its service principal, and adds
// an initial client secret.
func (s *SharePoint) CreateAzureApp(ctx context.Context, req CreateAzureAppRequest) (*AzureApp, error) {
	if req.Admin.TenantID == "" || req.Admin.ClientID == "" || req.Admin.ClientSecret == "" {
		return nil, errors.NewValidationError("admin tenant id, client id, and client secret are required", nil)
	}
	if req.AppName == "" {
		return nil, errors.NewValidationError("application name is required", nil)
	}

	token, err := s.graphToken(ctx, req.Admin)
	if err != nil {
		return nil, err
	}

	graphSP, err := s.findServicePrincipal(ctx, token, graphServicePrincipalFilter)
	if err != nil {
		return nil, err
	}
	sharePointSP, err := s.findServicePrincipal(ctx, token, sharePointServicePrincipalFilter)
	if err != nil {
		return nil, err
	}

	sitesRoleID := findAppRole(graphSP.AppRoles, "Sites.FullControl.All")
	appRWRoleID := findAppRole(graphSP.AppRoles, "Application.ReadWrite.All")
	spSitesRoleID := findAppRole(sharePointSP.AppRoles, "Sites.FullControl.All")
	if sitesRoleID == "" {
		return nil, errors.NewTrustRegistrationError("Sites.FullControl.All role not found on Microsoft Graph", nil)
	}

	redirectURIs := req.RedirectURIs
	if redirectURIs == nil {
		redirectURIs = []string{}
	}

	appBody := map[string]any{
		"displayName": req.AppName,
		"web": map[string]any{
			"redirectUris": redirectURIs,
			"implicitGrantSettings": map[string]any{
				"enableAccessTokenIssuance": false,
				"enableIdTokenIssuance":     false,
			},
		},
		"requiredResourceAccess": []map[string]any{
			{
				"resourceAppId": graphResourceAppID,
				"resourceAccess": []map[string]any{
					{"id": sitesRoleID, "type": "Role"},
					{"id": appRWRoleID, "type": "Role"},
				},
			},
			{
				"resourceAppId": sharePointSP.AppID,
				"resourceAccess": []map[string]any{
					{"id": spSitesRoleID, "type": "Role"},
				},
			},
		},
	}

	var app struct {
		ID          string `json:"id"`
		AppID       string `json:"appId"`
		DisplayName string `json:"displayName"`
	}
	if err := s.graphCall(ctx, token, http.MethodPost, "/v1.0/applications", appBody, &app); err != nil {
		return nil, err
	}

	// The service principal makes the app usable inside the tenant.
	if err := s.graphCall(ctx, token, http.MethodPost, "/v1.0/servicePrincipals",
		map[string]any{"appId": app.AppID}, nil); err != nil {
		return nil, err
	}

	var secret struct {
		SecretText string `json:"secretText"`
		KeyID      string `json:"keyId"`
	}
	if err := s.graphCall(ctx, token, http.MethodPost,
		fmt.Sprintf("/v1.0/applications/%s/addPassword", app.ID),
		map[string]any{
			"passwordCredential": map[string]any{
				"displayName": "Default Client Secret",
				"endDateTime": time.Now().UTC().AddDate(1, 0, 0).Format(time.RFC3339),
			},
		}, &secret); err != nil {
		return nil, err
	}

	logger.Infow("azure application registered",
		"display_name", app.DisplayName,
		"client_id", app.AppID,
	)

	return &AzureApp{
		ObjectID:     app.ID,
		ClientID:     app.AppID,
		ClientSecret: secret.SecretText,
		DisplayName:  app.DisplayName,
		TenantID:     req.Admin.TenantID,
		ConsentURL: fmt.Sprintf(
			"https://entra.microsoft.com/#view/Microsoft_AAD_RegisteredApps/ApplicationMenuBlade/~/Overview/appId/%s/isMSAApp~/false",
			app.AppID),
	}, nil
}

// DeleteAzureApp removes the application from the directory.
func (s *SharePoint) DeleteAzureApp(ctx context.Context, admin AdminCredentials, objectID string) error {
	if objectID == "" {
		return errors.NewValidationError("application object id is required", nil)
	}
	token, err := s.graphToken(ctx, admin)
	if err != nil {
		return err
	}
	return s.graphCall(ctx, token, http.MethodDelete, "/v1.0/applications/"+objectID, nil, nil)
}

// ProvisionCertificateRequest builds and registers trust material for an
// application.
type ProvisionCertificateRequest struct {
	Admin    AdminCredentials
	ObjectID string
	ClientID string
	Subject  certs.Subject
}

// ProvisionedCertificate is the stored trust material.
type ProvisionedCertificate struct {
	CertificatePath string
	PrivateKeyPath  string
	Confirmation    string
}

// ProvisionCertificate generates a certificate, stores it under the
// application's client id, and uploads the public half to the directory
// application.
func (s *SharePoint) ProvisionCertificate(ctx context.Context, req ProvisionCertificateRequest) (*ProvisionedCertificate, error) {
	if req.ClientID == "" || req.ObjectID == "" {
		return nil, errors.NewValidationError("application client id and object id are required", nil)
	}

	material, err := certs.Generate(req.Subject, 0)
	if err != nil {
		return nil, err
	}

	ref, err := s.certStorage.Store(ctx, material, req.ClientID, "sharepoint")
	if err != nil {
		return nil, err
	}

	confirmation, err := s.registrar.Register(ctx,
		certs.ApplicationRef{TenantID: req.Admin.TenantID, ObjectID: req.ObjectID},
		material.CertificatePEM,
		certs.AdminCredentials{ClientID: req.Admin.ClientID, ClientSecret: req.Admin.ClientSecret})
	if err != nil {
		return nil, err
	}

	logger.Infow("certificate provisioned",
		"client_id", req.ClientID,
		"certificate_path", ref.CertificatePath,
	)

	return &ProvisionedCertificate{
		CertificatePath: ref.CertificatePath,
		PrivateKeyPath:  ref.PrivateKeyPath,
		Confirmation:    confirmation,
	}, nil
}

// SharePointDataSourceRequest creates the data source for a site.
type SharePointDataSourceRequest struct {
	ApplicationID  string
	IndexID        string
	DisplayName    string
	RoleARN        string
	SecretName     string
	TenantID       string
	SiteURL        string
	Domain         string
	ClientID       string
	RunInitialSync bool
}

// CreateDataSource reads the stored private key, persists the connector
// credential, and hands it over to the platform. The configuration points
// the platform at the stored public certificate.
func (s *SharePoint) CreateDataSource(ctx context.Context, req SharePointDataSourceRequest) (*datasource.Result, error) {
	if req.ClientID == "" {
		return nil, errors.NewValidationError("application client id is required", nil)
	}

	ref := certs.StoredRef{
		CertificatePath: fmt.Sprintf("%s/sharepoint.crt", req.ClientID),
		PrivateKeyPath:  fmt.Sprintf("%s/private.key", req.ClientID),
	}
	_, keyPEM, err := s.certStorage.Load(ctx, ref)
	if err != nil {
		return nil, err
	}

	record, err := s.creds.Upsert(ctx, req.SecretName, credentials.ConnectorSharePoint, map[string]string{
		"clientId":   req.ClientID,
		"privateKey": string(keyPEM),
		"authType":   "OAuth2Certificate",
	})
	if err != nil {
		return nil, err
	}

	secretARN, err := s.creds.ARN(ctx, record.SecretName)
	if err != nil {
		return nil, err
	}

	return s.dataSources.CreateDataSource(ctx, datasource.CreateRequest{
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
		RoleARN:       req.RoleARN,
		Configuration: sharepointConfiguration(
			secretARN, req.TenantID, req.SiteURL, req.Domain, s.certBucket, ref.CertificatePath),
	}, record.SecretName, datasource.SyncConfig{RunInitialSync: req.RunInitialSync})
}

// servicePrincipal is the subset of the Graph resource the connector
// reads.
type servicePrincipal struct {
	ID       string    `json:"id"`
	AppID    string    `json:"appId"`
	AppRoles []appRole `json:"appRoles"`
}

type appRole struct {
	ID                 string   `json:"id"`
	Value              string   `json:"value"`
	AllowedMemberTypes []string `json:"allowedMemberTypes"`
}

func (s *SharePoint) findServicePrincipal(ctx context.Context, token, filter string) (*servicePrincipal, error) {
	var response struct {
		Value []servicePrincipal `json:"value"`
	}
	path := "/v1.0/servicePrincipals?$filter=" + url.QueryEscape(filter)
	if err := s.graphCall(ctx, token, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Value) == 0 {
		return nil, errors.NewTrustRegistrationError(
			fmt.Sprintf("no service principal matches %q", filter), nil)
	}
	return &response.Value[0], nil
}

// findAppRole returns the id of the application-assignable role with the
// given value, or the empty string.
func findAppRole(roles []appRole, value string) string {
	for _, role := range roles {
		if role.Value != value {
			continue
		}
		for _, member := range role.AllowedMemberTypes {
			if member == "Application" {
				return role.ID
			}
		}
	}
	return ""
}

func (s *SharePoint) graphToken(ctx context.Context, admin AdminCredentials) (string, error) {
	cfg := clientcredentials.Config{
		ClientID:     admin.ClientID,
		ClientSecret: admin.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.loginBaseURL, admin.TenantID),
		Scopes:       []string{s.graphBaseURL + "/.default"},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := cfg.Token(ctx)
	if err != nil {
		return "", errors.NewUpstreamAuthError("failed to acquire a Graph token", "", err)
	}
	return token.AccessToken, nil
}

// graphCall issues one Graph request and decodes the response into out
// when it is non-nil.
func (s *SharePoint) graphCall(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to encode Graph request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.graphBaseURL+path, reader)
	if err != nil {
		return errors.NewInternalError("failed to build Graph request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.NewTrustRegistrationError("failed to reach the Graph API", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var graphErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &graphErr)
		msg := fmt.Sprintf("Graph request %s %s failed with status %d", method, path, resp.StatusCode)
		if graphErr.Error.Code != "" {
			msg = fmt.Sprintf("%s: %s: %s", msg, graphErr.Error.Code, graphErr.Error.Message)
		}
		return errors.NewTrustRegistrationError(msg, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return errors.NewTrustRegistrationError("malformed Graph response", err)
	}
	return nil
}

func sharepointConfiguration(secretARN, tenantID, siteURL, domain, bucket, certPath string) map[string]any {
	return map[string]any{
		"type":     "SHAREPOINT",
		"syncMode": "FORCED_FULL_CRAWL",
		"connectionConfiguration": map[string]any{
			"repositoryEndpointMetadata": map[string]any{
				"domain":   domain,
				"siteUrls": []string{siteURL},
				"tenantId": tenantID,
				"repositoryAdditionalProperties": map[string]any{
					"version":           "Online",
					"onPremVersion":     "",
					"authType":          "OAuth2Certificate",
					"s3bucketName":      bucket,
					"s3certificateName": certPath,
				},
			},
		},
		"secretArn":             secretARN,
		"enableIdentityCrawler": "true",
		"additionalProperties": map[string]any{
			"crawlFiles":               "true",
			"crawlPages":               "true",
			"crawlEvents":              "true",
			"crawlComments":            "true",
			"crawlLinks":               "true",
			"crawlAttachment":          "true",
			"crawlListData":            "true",
			"crawlAcl":                 "true",
			"isCrawlLocalGroupMapping": "true",
			"isCrawlAdGroupMapping":    "false",
			"fieldForUserId":           "uuid",
			"includeSupportedFileType": "false",
			"maxFileSizeInMegaBytes":   "5",
			"enableDeletionProtection": "false",
		},
		"repositoryConfigurations": map[string]any{
			"file": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "title"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "sourceUri"},
					{
						"indexFieldName":      "_last_updated_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "lastModifiedDateTime",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
					{"indexFieldName": "_authors", "indexFieldType": "STRING_LIST", "dataSourceFieldName": "author"},
				},
			},
			"page": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "title"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "sourceUri"},
					{
						"indexFieldName":      "_created_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "createdDateTime",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
				},
			},
			"event": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "title"},
					{"indexFieldName": "_source_uri", "indexFieldType": "STRING", "dataSourceFieldName": "sourceUri"},
					{"indexFieldName": "_category", "indexFieldType": "STRING", "dataSourceFieldName": "category"},
				},
			},
		},
	}
}

var _ Provisioner = (*SharePoint)(nil)
