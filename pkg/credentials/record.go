package credentials

import "time"

// ConnectorType identifies which SaaS system a credential belongs to. The
// set is closed; each type owns its own protocol variant.
type ConnectorType string

// Known connector types.
const (
	ConnectorSharePoint ConnectorType = "sharepoint"
	ConnectorZendesk    ConnectorType = "zendesk"
	ConnectorServiceNow ConnectorType = "servicenow"
	ConnectorSalesforce ConnectorType = "salesforce"
)

// Status tracks how far a credential has progressed through its setup flow.
type Status string

// Credential statuses.
const (
	// StatusPending means the record holds partial material (e.g. username
	// and password, but no verified token yet).
	StatusPending Status = "PENDING"

	// StatusVerified means the record holds everything its connector type
	// needs for the downstream platform to authenticate.
	StatusVerified Status = "VERIFIED"

	// StatusFailed marks a terminal provisioning failure. A later successful
	// upsert moves the record back to PENDING or VERIFIED.
	StatusFailed Status = "FAILED"
)

// Reserved keys carried inside the stored flat mapping. They describe the
// record rather than the credential and are stripped from Fields on read.
const (
	metaConnectorType = "connectorType"
	metaStatus        = "status"
)

// Record is a durable credential record. Fields is a flat string-to-string
// mapping; in redacted views sensitive values are replaced by [Mask].
type Record struct {
	SecretName    string
	ConnectorType ConnectorType
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Fields        map[string]string
}

// verificationFields lists, per connector type, the fields that must be
// present and non-empty for a record to be considered VERIFIED.
var verificationFields = map[ConnectorType][]string{
	ConnectorSharePoint: {"clientId", "privateKey"},
	ConnectorZendesk:    {"accessToken", "hostUrl"},
	ConnectorServiceNow: {"username", "password", "clientId", "clientSecret", "hostUrl"},
	ConnectorSalesforce: {"username", "password", "securityToken", "consumerKey", "consumerSecret"},
}

// computeStatus derives the record status from the fields currently present.
func computeStatus(connectorType ConnectorType, fields map[string]string) Status {
	required, ok := verificationFields[connectorType]
	if !ok {
		return StatusPending
	}
	for _, name := range required {
		if fields[name] == "" {
			return StatusPending
		}
	}
	return StatusVerified
}
