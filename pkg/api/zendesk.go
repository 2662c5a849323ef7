package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
)

// ZendeskRoutes defines the routes for the Zendesk connector.
type ZendeskRoutes struct {
	connector *connectors.Zendesk
}

// ZendeskRouter creates a new router for the Zendesk connector.
func ZendeskRouter(connector *connectors.Zendesk) http.Handler {
	routes := ZendeskRoutes{connector: connector}

	r := chi.NewRouter()
	r.Post("/oauth-clients", routes.createOAuthClient)
	r.Post("/flows", routes.initiateFlow)
	r.Post("/data-sources", routes.createDataSource)
	return r
}

type createZendeskClientRequest struct {
	Subdomain  string `json:"subdomain"`
	AdminEmail string `json:"adminEmail"`
	APIToken   string `json:"apiToken"`
	AppName    string `json:"appName"`
}

type createZendeskClientResponse struct {
	AppName     string `json:"appName"`
	Identifier  string `json:"identifier"`
	RedirectURI string `json:"redirectUri"`

	// ClientSecret is returned exactly once; it is not retrievable later.
	ClientSecret string `json:"clientSecret"`
}

func (z *ZendeskRoutes) createOAuthClient(w http.ResponseWriter, r *http.Request) {
	var req createZendeskClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	client, err := z.connector.CreateOAuthClient(r.Context(), connectors.CreateOAuthClientRequest{
		Subdomain:  req.Subdomain,
		AdminEmail: req.AdminEmail,
		APIToken:   req.APIToken,
		AppName:    req.AppName,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createZendeskClientResponse{
		AppName:      client.AppName,
		Identifier:   client.Identifier,
		RedirectURI:  client.RedirectURI,
		ClientSecret: client.ClientSecret,
	})
}

type initiateZendeskFlowRequest struct {
	Subdomain    string `json:"subdomain"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type initiateZendeskFlowResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	SecretName       string `json:"secretName"`
}

func (z *ZendeskRoutes) initiateFlow(w http.ResponseWriter, r *http.Request) {
	var req initiateZendeskFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	init, err := z.connector.InitiateFlow(r.Context(), connectors.ZendeskInitiateRequest{
		Subdomain:    req.Subdomain,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, initiateZendeskFlowResponse{
		AuthorizationURL: init.AuthorizationURL,
		SecretName:       init.SecretName,
	})
}

type createDataSourceRequest struct {
	ApplicationID  string `json:"applicationId"`
	IndexID        string `json:"indexId"`
	DisplayName    string `json:"displayName"`
	RoleARN        string `json:"roleArn"`
	SecretName     string `json:"secretName"`
	RunInitialSync bool   `json:"runInitialSync"`
}

type dataSourceResponse struct {
	DataSourceID string `json:"dataSourceId"`
	Status       string `json:"status"`
	SyncJobID    string `json:"syncJobId,omitempty"`
	Warning      string `json:"warning,omitempty"`
}

func (z *ZendeskRoutes) createDataSource(w http.ResponseWriter, r *http.Request) {
	var req createDataSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := z.connector.CreateDataSource(r.Context(), connectors.ZendeskDataSourceRequest{
		ApplicationID:  req.ApplicationID,
		IndexID:        req.IndexID,
		DisplayName:    req.DisplayName,
		RoleARN:        req.RoleARN,
		SecretName:     req.SecretName,
		RunInitialSync: req.RunInitialSync,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dataSourceResponse{
		DataSourceID: result.Handle.ID,
		Status:       result.Handle.Status,
		SyncJobID:    result.SyncJobID,
		Warning:      result.Warning,
	})
}

type zendeskCallbackResponse struct {
	SecretName string             `json:"secretName"`
	Status     credentials.Status `json:"status"`
}

// zendeskCallbackHandler terminates the interactive flow. The provider
// sends the admin's browser here with the authorization code and state.
func zendeskCallbackHandler(connector *connectors.Zendesk) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		record, err := connector.CompleteFlow(r.Context(), code, state)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, zendeskCallbackResponse{
			SecretName: record.SecretName,
			Status:     record.Status,
		})
	}
}
