// Package api contains the REST API for the provisioner.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/logger"
)

// Not sure if these values need to be configurable.
const (
	middlewareTimeout = 60 * time.Second
)

// Deps are the wired services the routers dispatch to.
type Deps struct {
	Zendesk     *connectors.Zendesk
	ServiceNow  *connectors.ServiceNow
	Salesforce  *connectors.Salesforce
	SharePoint  *connectors.SharePoint
	Credentials *credentials.Manager
}

// NewRouter assembles the full route tree.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
		requestLogger,
	)

	r.Get("/health", getHealthcheck)

	// The provider redirects the admin's browser here, outside /v1.
	r.Get("/zendesk-oauth-callback", zendeskCallbackHandler(deps.Zendesk))

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/zendesk", ZendeskRouter(deps.Zendesk))
		r.Mount("/servicenow", ServiceNowRouter(deps.ServiceNow))
		r.Mount("/salesforce", SalesforceRouter(deps.Salesforce))
		r.Mount("/sharepoint", SharePointRouter(deps.SharePoint))
		r.Mount("/credentials", CredentialRouter(deps.Credentials))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Infow("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
