package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
)

// ServiceNowRoutes defines the routes for the ServiceNow connector.
type ServiceNowRoutes struct {
	connector *connectors.ServiceNow
}

// ServiceNowRouter creates a new router for the ServiceNow connector.
func ServiceNowRouter(connector *connectors.ServiceNow) http.Handler {
	routes := ServiceNowRoutes{connector: connector}

	r := chi.NewRouter()
	r.Post("/oauth-apps", routes.registerOAuthApp)
	r.Post("/provision", routes.provision)
	r.Post("/data-sources", routes.createDataSource)
	return r
}

type serviceNowProvisionRequest struct {
	Instance    string `json:"instance"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	AppName     string `json:"appName"`
	RedirectURL string `json:"redirectUrl"`
}

type serviceNowAppResponse struct {
	AppName  string `json:"appName"`
	ClientID string `json:"clientId"`
	SysID    string `json:"sysId"`

	// ClientSecret is returned exactly once at registration time.
	ClientSecret string `json:"clientSecret"`
}

func (s *ServiceNowRoutes) registerOAuthApp(w http.ResponseWriter, r *http.Request) {
	var req serviceNowProvisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := s.connector.RegisterOAuthApp(r.Context(), connectors.RegisterOAuthAppRequest{
		Instance:    req.Instance,
		Username:    req.Username,
		Password:    req.Password,
		AppName:     req.AppName,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, serviceNowAppResponse{
		AppName:      app.AppName,
		ClientID:     app.ClientID,
		SysID:        app.SysID,
		ClientSecret: app.ClientSecret,
	})
}

type serviceNowProvisionResponse struct {
	App        serviceNowAppResponse `json:"app"`
	SecretName string                `json:"secretName"`
	Status     credentials.Status    `json:"status"`
}

func (s *ServiceNowRoutes) provision(w http.ResponseWriter, r *http.Request) {
	var req serviceNowProvisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.connector.Provision(r.Context(), connectors.ProvisionRequest{
		Instance:    req.Instance,
		Username:    req.Username,
		Password:    req.Password,
		AppName:     req.AppName,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, serviceNowProvisionResponse{
		App: serviceNowAppResponse{
			AppName:  result.App.AppName,
			ClientID: result.App.ClientID,
			SysID:    result.App.SysID,
		},
		SecretName: result.SecretName,
		Status:     result.Status,
	})
}

type serviceNowDataSourceRequest struct {
	createDataSourceRequest
	Instance string `json:"instance"`
}

func (s *ServiceNowRoutes) createDataSource(w http.ResponseWriter, r *http.Request) {
	var req serviceNowDataSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.connector.CreateDataSource(r.Context(), connectors.ServiceNowDataSourceRequest{
		ApplicationID:  req.ApplicationID,
		IndexID:        req.IndexID,
		DisplayName:    req.DisplayName,
		RoleARN:        req.RoleARN,
		SecretName:     req.SecretName,
		Instance:       req.Instance,
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
