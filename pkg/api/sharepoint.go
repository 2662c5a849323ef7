package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indexhub/provisioner/pkg/certs"
	"github.com/indexhub/provisioner/pkg/connectors"
)

// SharePointRoutes defines the routes for the SharePoint connector.
type SharePointRoutes struct {
	connector *connectors.SharePoint
}

// SharePointRouter creates a new router for the SharePoint connector.
func SharePointRouter(connector *connectors.SharePoint) http.Handler {
	routes := SharePointRoutes{connector: connector}

	r := chi.NewRouter()
	r.Post("/azure-apps", routes.createAzureApp)
	r.Post("/azure-apps/{objectId}/delete", routes.deleteAzureApp)
	r.Post("/certificates", routes.provisionCertificate)
	r.Post("/data-sources", routes.createDataSource)
	return r
}

// adminCredentials ride along in each request body; Graph operations act
// on the customer's tenant, so there is nothing to store server-side.
type adminCredentials struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func (a adminCredentials) toConnector() connectors.AdminCredentials {
	return connectors.AdminCredentials{
		TenantID:     a.TenantID,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
	}
}

type createAzureAppRequest struct {
	Admin        adminCredentials `json:"admin"`
	AppName      string           `json:"appName"`
	RedirectURIs []string         `json:"redirectUris"`
}

type azureAppResponse struct {
	ObjectID    string `json:"objectId"`
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	TenantID    string `json:"tenantId"`
	ConsentURL  string `json:"consentUrl"`

	// ClientSecret is returned exactly once at creation time.
	ClientSecret string `json:"clientSecret"`
}

func (s *SharePointRoutes) createAzureApp(w http.ResponseWriter, r *http.Request) {
	var req createAzureAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	app, err := s.connector.CreateAzureApp(r.Context(), connectors.CreateAzureAppRequest{
		Admin:        req.Admin.toConnector(),
		AppName:      req.AppName,
		RedirectURIs: req.RedirectURIs,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, azureAppResponse{
		ObjectID:     app.ObjectID,
		ClientID:     app.ClientID,
		DisplayName:  app.DisplayName,
		TenantID:     app.TenantID,
		ConsentURL:   app.ConsentURL,
		ClientSecret: app.ClientSecret,
	})
}

type deleteAzureAppRequest struct {
	Admin adminCredentials `json:"admin"`
}

func (s *SharePointRoutes) deleteAzureApp(w http.ResponseWriter, r *http.Request) {
	var req deleteAzureAppRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.connector.DeleteAzureApp(r.Context(), req.Admin.toConnector(), chi.URLParam(r, "objectId"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type provisionCertificateRequest struct {
	Admin    adminCredentials `json:"admin"`
	ObjectID string           `json:"objectId"`
	ClientID string           `json:"clientId"`
	Subject  struct {
		CommonName   string `json:"commonName"`
		Country      string `json:"country"`
		Province     string `json:"province"`
		Locality     string `json:"locality"`
		Organization string `json:"organization"`
	} `json:"subject"`
}

type provisionCertificateResponse struct {
	CertificatePath string `json:"certificatePath"`
	PrivateKeyPath  string `json:"privateKeyPath"`
	Confirmation    string `json:"confirmation"`
}

func (s *SharePointRoutes) provisionCertificate(w http.ResponseWriter, r *http.Request) {
	var req provisionCertificateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	provisioned, err := s.connector.ProvisionCertificate(r.Context(), connectors.ProvisionCertificateRequest{
		Admin:    req.Admin.toConnector(),
		ObjectID: req.ObjectID,
		ClientID: req.ClientID,
		Subject: certs.Subject{
			CommonName:   req.Subject.CommonName,
			Country:      req.Subject.Country,
			Province:     req.Subject.Province,
			Locality:     req.Subject.Locality,
			Organization: req.Subject.Organization,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, provisionCertificateResponse{
		CertificatePath: provisioned.CertificatePath,
		PrivateKeyPath:  provisioned.PrivateKeyPath,
		Confirmation:    provisioned.Confirmation,
	})
}

type sharePointDataSourceRequest struct {
	createDataSourceRequest
	TenantID string `json:"tenantId"`
	SiteURL  string `json:"siteUrl"`
	Domain   string `json:"domain"`
	ClientID string `json:"clientId"`
}

func (s *SharePointRoutes) createDataSource(w http.ResponseWriter, r *http.Request) {
	var req sharePointDataSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.connector.CreateDataSource(r.Context(), connectors.SharePointDataSourceRequest{
		ApplicationID:  req.ApplicationID,
		IndexID:        req.IndexID,
		DisplayName:    req.DisplayName,
		RoleARN:        req.RoleARN,
		SecretName:     req.SecretName,
		TenantID:       req.TenantID,
		SiteURL:        req.SiteURL,
		Domain:         req.Domain,
		ClientID:       req.ClientID,
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
