// Package connectors implements the per-provider provisioners. Each
// connector normalizes its provider's field names into the credential
// record schema, drives the right authentication protocol, and builds the
// provider-specific data source configuration for the indexing platform.
package connectors

import (
	"github.com/indexhub/provisioner/pkg/credentials"
)

// Provisioner is implemented by every connector.
type Provisioner interface {
	// Type returns the connector type this provisioner handles.
	Type() credentials.ConnectorType
}
