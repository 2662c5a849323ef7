package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
)

// SalesforceRoutes defines the routes for the Salesforce connector.
type SalesforceRoutes struct {
	connector *connectors.Salesforce
}

// SalesforceRouter creates a new router for the Salesforce connector.
func SalesforceRouter(connector *connectors.Salesforce) http.Handler {
	routes := SalesforceRoutes{connector: connector}

	r := chi.NewRouter()
	r.Post("/connected-apps", routes.createConnectedApp)
	r.Put("/credentials/{name}/consumer", routes.updateConsumerCredentials)
	r.Post("/credentials/{name}/test", routes.testAuthentication)
	r.Post("/data-sources", routes.createDataSource)
	return r
}

type createConnectedAppRequest struct {
	HostURL       string `json:"hostUrl"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	SecurityToken string `json:"securityToken"`
	AppName       string `json:"appName"`
	Description   string `json:"description"`
	ContactEmail  string `json:"contactEmail"`
}

type connectedAppResponse struct {
	ConnectedAppID string             `json:"connectedAppId"`
	AppUniqueName  string             `json:"appUniqueName"`
	CallbackURL    string             `json:"callbackUrl"`
	SecretName     string             `json:"secretName"`
	Status         credentials.Status `json:"status"`
}

func (s *SalesforceRoutes) createConnectedApp(w http.ResponseWriter, r *http.Request) {
	var req createConnectedAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := s.connector.CreateConnectedApp(r.Context(), connectors.CreateConnectedAppRequest{
		HostURL:       req.HostURL,
		Username:      req.Username,
		Password:      req.Password,
		SecurityToken: req.SecurityToken,
		AppName:       req.AppName,
		Description:   req.Description,
		ContactEmail:  req.ContactEmail,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, connectedAppResponse{
		ConnectedAppID: app.ConnectedAppID,
		AppUniqueName:  app.AppUniqueName,
		CallbackURL:    app.CallbackURL,
		SecretName:     app.SecretName,
		Status:         app.Status,
	})
}

type updateConsumerRequest struct {
	ConsumerKey    string `json:"consumerKey"`
	ConsumerSecret string `json:"consumerSecret"`
}

type credentialStatusResponse struct {
	SecretName string             `json:"secretName"`
	Status     credentials.Status `json:"status"`
}

func (s *SalesforceRoutes) updateConsumerCredentials(w http.ResponseWriter, r *http.Request) {
	var req updateConsumerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	record, err := s.connector.UpdateConsumerCredentials(
		r.Context(), chi.URLParam(r, "name"), req.ConsumerKey, req.ConsumerSecret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialStatusResponse{
		SecretName: record.SecretName,
		Status:     record.Status,
	})
}

func (s *SalesforceRoutes) testAuthentication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.connector.TestAuthentication(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credentialStatusResponse{
		SecretName: name,
		Status:     credentials.StatusVerified,
	})
}

func (s *SalesforceRoutes) createDataSource(w http.ResponseWriter, r *http.Request) {
	var req createDataSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.connector.CreateDataSource(r.Context(), connectors.SalesforceDataSourceRequest{
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
