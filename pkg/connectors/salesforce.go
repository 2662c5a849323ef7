package connectors

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/oauth"
)

const (
	defaultSalesforceLoginURL = "https://login.salesforce.com/services/Soap/c/60.0"

	salesforceProdTokenURL    = "https://login.salesforce.com/services/oauth2/token"
	salesforceSandboxTokenURL = "https://test.salesforce.com/services/oauth2/token"
)

// Salesforce provisions the Salesforce connector. Provisioning is a
// two-step handshake: the connected app is created first and the consumer
// key and secret arrive later, after the admin completes email
// verification in the Salesforce UI.
type Salesforce struct {
	creds       *credentials.Manager
	direct      *oauth.DirectExchangeEngine
	dataSources *datasource.Service
	httpClient  *http.Client

	loginURL string
}

// SalesforceOption configures a Salesforce connector.
type SalesforceOption func(*Salesforce)

// WithSalesforceLoginURL overrides the SOAP login endpoint. Tests point
// this at a local server.
func WithSalesforceLoginURL(u string) SalesforceOption {
	return func(s *Salesforce) { s.loginURL = u }
}

// NewSalesforce creates the Salesforce connector.
func NewSalesforce(
	creds *credentials.Manager,
	direct *oauth.DirectExchangeEngine,
	dataSources *datasource.Service,
	httpClient *http.Client,
	opts ...SalesforceOption,
) *Salesforce {
	s := &Salesforce{
		creds:       creds,
		direct:      direct,
		dataSources: dataSources,
		httpClient:  httpClient,
		loginURL:    defaultSalesforceLoginURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Type returns the connector type.
func (*Salesforce) Type() credentials.ConnectorType {
	return credentials.ConnectorSalesforce
}

// CreateConnectedAppRequest creates the connected app and seeds the
// credential record.
type CreateConnectedAppRequest struct {
	HostURL       string
	Username      string
	Password      string
	SecurityToken string
	AppName       string
	Description   string
	ContactEmail  string
}

// ConnectedApp is the created app plus the pending credential record.
type ConnectedApp struct {
	ConnectedAppID string
	AppUniqueName  string
	CallbackURL    string
	SecretName     string
	Status         credentials.Status
}

// CreateConnectedApp logs in via SOAP, creates the connected app through
// the Metadata API, and stores the initial credential record. The record
// stays PENDING until UpdateConsumerCredentials supplies the consumer key
// and secret.
func (s *Salesforce) CreateConnectedApp(ctx context.Context, req CreateConnectedAppRequest) (*ConnectedApp, error) {
	if req.HostURL == "" || req.Username == "" || req.Password == "" ||
		req.SecurityToken == "" || req.AppName == "" || req.ContactEmail == "" {
		return nil, errors.NewValidationError(
			"hostUrl, username, password, securityToken, connectedAppName, and contactEmail are required", nil)
	}
	if req.Description == "" {
		req.Description = "Salesforce connector for the indexing platform"
	}

	sessionID, serverURL, err := s.soapLogin(ctx, req.Username, req.Password, req.SecurityToken)
	if err != nil {
		return nil, err
	}
	instanceURL := strings.SplitN(serverURL, "/services/", 2)[0]

	appUniqueName := fmt.Sprintf("%s_%s", strings.ReplaceAll(req.AppName, " ", "_"), uuid.NewString()[:8])
	callbackURL := salesforceCallbackURL(instanceURL)

	appID, err := s.createConnectedApp(ctx, sessionID, instanceURL, connectedAppMetadata{
		fullName:     appUniqueName,
		label:        req.AppName,
		description:  req.Description,
		contactEmail: req.ContactEmail,
		callbackURL:  callbackURL,
	})
	if err != nil {
		return nil, err
	}

	record, err := s.creds.Upsert(ctx, "", credentials.ConnectorSalesforce, map[string]string{
		"hostUrl":           strings.TrimRight(req.HostURL, "/"),
		"username":          req.Username,
		"password":          req.Password,
		"securityToken":     req.SecurityToken,
		"authenticationUrl": callbackURL,
		"connectedAppName":  req.AppName,
		"appUniqueName":     appUniqueName,
		"consumerKey":       "",
		"consumerSecret":    "",
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("salesforce connected app created",
		"app_unique_name", appUniqueName,
		"secret_name", record.SecretName,
		"status", record.Status,
	)

	return &ConnectedApp{
		ConnectedAppID: appID,
		AppUniqueName:  appUniqueName,
		CallbackURL:    callbackURL,
		SecretName:     record.SecretName,
		Status:         record.Status,
	}, nil
}

// UpdateConsumerCredentials merges the consumer key and secret copied from
// the Salesforce UI into the record, advancing it to VERIFIED.
func (s *Salesforce) UpdateConsumerCredentials(
	ctx context.Context, secretName, consumerKey, consumerSecret string,
) (*credentials.Record, error) {
	if consumerKey == "" || consumerSecret == "" {
		return nil, errors.NewValidationError("consumer key and consumer secret are required", nil)
	}
	return s.creds.Upsert(ctx, secretName, credentials.ConnectorSalesforce, map[string]string{
		"consumerKey":    consumerKey,
		"consumerSecret": consumerSecret,
	})
}

// TestAuthentication validates the stored credentials with a password
// grant and an identity probe. Nothing is written.
func (s *Salesforce) TestAuthentication(ctx context.Context, secretName string) error {
	record, err := s.creds.Read(ctx, secretName, credentials.WithUnredacted())
	if err != nil {
		return err
	}
	if record.Status != credentials.StatusVerified {
		return errors.NewCredentialNotReadyError(fmt.Sprintf(
			"credential %s is %s, not %s", secretName, record.Status, credentials.StatusVerified))
	}

	return s.direct.TestAuthentication(ctx, oauth.ExchangeInputs{
		TokenEndpoint: record.Fields["authenticationUrl"],
		GrantType:     oauth.GrantPassword,
		ClientID:      record.Fields["consumerKey"],
		ClientSecret:  record.Fields["consumerSecret"],
		Username:      record.Fields["username"],
		Password:      record.Fields["password"],
		SecurityToken: record.Fields["securityToken"],
	})
}

// SalesforceDataSourceRequest creates the data source for an org.
type SalesforceDataSourceRequest struct {
	ApplicationID  string
	IndexID        string
	DisplayName    string
	RoleARN        string
	SecretName     string
	RunInitialSync bool
}

// CreateDataSource hands the verified credential over to the platform.
func (s *Salesforce) CreateDataSource(ctx context.Context, req SalesforceDataSourceRequest) (*datasource.Result, error) {
	record, err := s.creds.Read(ctx, req.SecretName)
	if err != nil {
		return nil, err
	}

	secretARN, err := s.creds.ARN(ctx, req.SecretName)
	if err != nil {
		return nil, err
	}

	return s.dataSources.CreateDataSource(ctx, datasource.CreateRequest{
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
		RoleARN:       req.RoleARN,
		Configuration: salesforceConfiguration(secretARN, record.Fields["hostUrl"]),
	}, req.SecretName, datasource.SyncConfig{RunInitialSync: req.RunInitialSync})
}

// soapLogin authenticates against the SOAP login endpoint and returns the
// session id and server URL from the response envelope.
func (s *Salesforce) soapLogin(ctx context.Context, username, password, securityToken string) (string, string, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
                  xmlns:urn="urn:enterprise.soap.sforce.com">
    <soapenv:Header/>
    <soapenv:Body>
        <urn:login>
            <urn:username>%s</urn:username>
            <urn:password>%s%s</urn:password>
        </urn:login>
    </soapenv:Body>
</soapenv:Envelope>`, xmlEscape(username), xmlEscape(password), xmlEscape(securityToken))

	respBody, err := s.soapPost(ctx, s.loginURL, "login", body)
	if err != nil {
		return "", "", err
	}

	values, err := extractXMLValues(respBody, "sessionId", "serverUrl", "faultstring")
	if err != nil {
		return "", "", errors.NewUpstreamAuthError("malformed SOAP login response", "", err)
	}
	if fault := values["faultstring"]; fault != "" {
		return "", "", errors.NewUpstreamAuthError(fmt.Sprintf("Salesforce login failed: %s", fault), "", nil)
	}
	if values["sessionId"] == "" || values["serverUrl"] == "" {
		return "", "", errors.NewUpstreamAuthError("SOAP login response carries no session", "", nil)
	}
	return values["sessionId"], values["serverUrl"], nil
}

type connectedAppMetadata struct {
	fullName     string
	label        string
	description  string
	contactEmail string
	callbackURL  string
}

// createConnectedApp issues the Metadata API create call. PKCE and refresh
// token secrets are mandatory on the resulting app.
func (s *Salesforce) createConnectedApp(
	ctx context.Context, sessionID, instanceURL string, app connectedAppMetadata,
) (string, error) {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
                  xmlns:met="http://soap.sforce.com/2006/04/metadata">
    <soapenv:Header>
        <met:SessionHeader>
            <met:sessionId>%s</met:sessionId>
        </met:SessionHeader>
    </soapenv:Header>
    <soapenv:Body>
        <met:create>
            <met:metadata xsi:type="met:ConnectedApp" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
                <met:fullName>%s</met:fullName>
                <met:label>%s</met:label>
                <met:description>%s</met:description>
                <met:contactEmail>%s</met:contactEmail>
                <met:oauthConfig>
                    <met:callbackUrl>%s</met:callbackUrl>
                    <met:scopes>Full</met:scopes>
                    <met:isIntrospectAllTokens>true</met:isIntrospectAllTokens>
                    <met:isPkceRequired>true</met:isPkceRequired>
                    <met:isSecretRequiredForRefreshToken>true</met:isSecretRequiredForRefreshToken>
                </met:oauthConfig>
            </met:metadata>
        </met:create>
    </soapenv:Body>
</soapenv:Envelope>`,
		xmlEscape(sessionID), xmlEscape(app.fullName), xmlEscape(app.label),
		xmlEscape(app.description), xmlEscape(app.contactEmail), xmlEscape(app.callbackURL))

	respBody, err := s.soapPost(ctx, instanceURL+"/services/Soap/m/60.0", "create", body)
	if err != nil {
		return "", err
	}

	values, err := extractXMLValues(respBody, "id", "faultstring")
	if err != nil {
		return "", errors.NewUpstreamAuthError("malformed Metadata API response", "", err)
	}
	if fault := values["faultstring"]; fault != "" {
		return "", errors.NewUpstreamAuthError(fmt.Sprintf("connected app creation failed: %s", fault), "", nil)
	}
	return values["id"], nil
}

func (s *Salesforce) soapPost(ctx context.Context, endpoint, action, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build SOAP request", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", action)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamAuthError("failed to reach Salesforce", "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewUpstreamAuthError("failed to read Salesforce response", "", err)
	}

	// SOAP faults come back with 500 and a fault element; let the caller
	// extract the fault string instead of failing on the status alone.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusInternalServerError {
		return nil, errors.NewUpstreamAuthError(
			fmt.Sprintf("Salesforce request rejected with status %d", resp.StatusCode), "", nil)
	}
	return data, nil
}

// salesforceCallbackURL picks the token endpoint matching the instance
// type. Sandboxes authenticate against test.salesforce.com.
func salesforceCallbackURL(instanceURL string) string {
	lower := strings.ToLower(instanceURL)
	if strings.Contains(lower, "test.salesforce.com") || strings.Contains(lower, "sandbox") {
		return salesforceSandboxTokenURL
	}
	return salesforceProdTokenURL
}

// extractXMLValues walks the document and returns the character data of
// the first element matching each local name.
func extractXMLValues(data []byte, names ...string) (map[string]string, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	values := make(map[string]string, len(names))
	decoder := xml.NewDecoder(bytes.NewReader(data))
	var current string
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if wanted[t.Name.Local] && values[t.Name.Local] == "" {
				current = t.Name.Local
			} else {
				current = ""
			}
		case xml.CharData:
			if current != "" {
				values[current] = string(t)
			}
		case xml.EndElement:
			current = ""
		}
	}
	return values, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func salesforceConfiguration(secretARN, hostURL string) map[string]any {
	return map[string]any{
		"type":     "SALESFORCE",
		"syncMode": "FORCED_FULL_CRAWL",
		"connectionConfiguration": map[string]any{
			"repositoryEndpointMetadata": map[string]any{
				"hostUrl": hostURL,
			},
		},
		"secretArn":             secretARN,
		"enableIdentityCrawler": "true",
		"additionalProperties": map[string]any{
			"maxFileSizeInMegaBytes":            "50",
			"isCrawlAcl":                        "true",
			"crawlSharedDocuments":              "true",
			"crawlAttachments":                  "true",
			"isCrawlKnowledgeArticles":          "true",
			"isCrawlChatter":                    "true",
			"inclusionDocumentFileTypePatterns": []string{},
			"exclusionDocumentFileTypePatterns": []string{},
		},
		"repositoryConfigurations": map[string]any{
			"knowledgeArticles": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "title"},
					{
						"indexFieldName":      "_last_updated_at",
						"indexFieldType":      "DATE",
						"dataSourceFieldName": "lastModifiedDate",
						"dateFieldFormat":     "yyyy-MM-dd'T'HH:mm:ss'Z'",
					},
				},
			},
			"document": map[string]any{
				"fieldMappings": []map[string]any{
					{"indexFieldName": "_document_title", "indexFieldType": "STRING", "dataSourceFieldName": "name"},
					{"indexFieldName": "_authors", "indexFieldType": "STRING_LIST", "dataSourceFieldName": "author"},
				},
			},
		},
	}
}

var _ Provisioner = (*Salesforce)(nil)
