package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/indexhub/provisioner/pkg/credentials"
)

// CredentialRoutes defines the routes for credential record inspection.
type CredentialRoutes struct {
	manager *credentials.Manager
}

// CredentialRouter creates a new router for credential records. Reads are
// always redacted; there is deliberately no route that reveals secret
// values.
func CredentialRouter(manager *credentials.Manager) http.Handler {
	routes := CredentialRoutes{manager: manager}

	r := chi.NewRouter()
	r.Get("/{name}", routes.getCredential)
	return r
}

type credentialResponse struct {
	SecretName    string             `json:"secretName"`
	ConnectorType string             `json:"connectorType"`
	Status        credentials.Status `json:"status"`
	Fields        map[string]string  `json:"fields"`
	CreatedAt     time.Time          `json:"createdAt,omitzero"`
	UpdatedAt     time.Time          `json:"updatedAt,omitzero"`
}

func (c *CredentialRoutes) getCredential(w http.ResponseWriter, r *http.Request) {
	record, err := c.manager.Read(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, credentialResponse{
		SecretName:    record.SecretName,
		ConnectorType: string(record.ConnectorType),
		Status:        record.Status,
		Fields:        record.Fields,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	})
}
