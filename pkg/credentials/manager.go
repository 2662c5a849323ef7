package credentials

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	provErrors "github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/secrets"
)

// Manager enforces create-vs-update semantics and redaction over the secret
// store. All credential writes in the provisioner go through Upsert; nothing
// else mutates stored records.
//
// Concurrent upserts against the same secret name are read-modify-write and
// resolve last-writer-wins. Setup flows are human-driven and sequential in
// practice; this is a documented race, not a guarantee.
type Manager struct {
	store secrets.Store
}

// NewManager creates a lifecycle manager over the given store.
func NewManager(store secrets.Store) *Manager {
	return &Manager{store: store}
}

// ReadOption configures a Read call.
type ReadOption func(*readOptions)

type readOptions struct {
	unredacted bool
}

// WithUnredacted returns the raw values of sensitive fields. Only internal
// callers that hand the values to an external provider may use this.
func WithUnredacted() ReadOption {
	return func(o *readOptions) {
		o.unredacted = true
	}
}

// Upsert creates or updates the credential record under secretName. An empty
// secretName creates a new record with a generated unique name and status
// PENDING. An existing record is merged monotonically: previously-set fields
// are never removed, and an empty incoming value never erases a stored one.
// Status advances to VERIFIED once the connector type's required fields are
// all present.
func (m *Manager) Upsert(
	ctx context.Context, secretName string, connectorType ConnectorType, fields map[string]string,
) (*Record, error) {
	if connectorType == "" {
		return nil, provErrors.NewValidationError("connector type is required", nil)
	}

	if secretName == "" {
		return m.create(ctx, generateSecretName(connectorType), connectorType, fields)
	}

	existing, err := m.store.Get(ctx, secretName)
	if errors.Is(err, secrets.ErrNotFound) {
		return m.create(ctx, secretName, connectorType, fields)
	}
	if err != nil {
		return nil, provErrors.NewStorageError("failed to read credential record", err)
	}

	return m.merge(ctx, secretName, connectorType, existing, fields)
}

// merge folds fields into an already-read record and writes it back.
func (m *Manager) merge(
	ctx context.Context, secretName string, connectorType ConnectorType,
	existing, fields map[string]string,
) (*Record, error) {
	if stored := ConnectorType(existing[metaConnectorType]); stored != "" && stored != connectorType {
		return nil, provErrors.NewSecretConflictError(fmt.Sprintf(
			"secret %s belongs to connector type %s, not %s", secretName, stored, connectorType))
	}

	merged := maps.Clone(existing)
	for k, v := range fields {
		if v == "" && merged[k] != "" {
			continue
		}
		merged[k] = v
	}
	merged[metaConnectorType] = string(connectorType)
	merged[metaStatus] = string(computeStatus(connectorType, merged))

	if err := m.store.Update(ctx, secretName, merged); err != nil {
		return nil, provErrors.NewStorageError("failed to update credential record", err)
	}

	logger.Infow("credential record updated",
		"secret_name", secretName,
		"connector_type", connectorType,
		"status", merged[metaStatus],
	)

	return m.Read(ctx, secretName)
}

// MarkFailed records a terminal provisioning failure on the record. The
// credential fields are left untouched so a retry of only the failed step
// can pick up from where the flow stopped.
func (m *Manager) MarkFailed(ctx context.Context, secretName string) error {
	fields, err := m.store.Get(ctx, secretName)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return provErrors.NewStorageError("credential record not found", err)
		}
		return provErrors.NewStorageError("failed to read credential record", err)
	}
	fields[metaStatus] = string(StatusFailed)
	if err := m.store.Update(ctx, secretName, fields); err != nil {
		return provErrors.NewStorageError("failed to update credential record", err)
	}
	logger.Warnw("credential record marked failed", "secret_name", secretName)
	return nil
}

// Read returns the credential record under secretName. By default sensitive
// field values are replaced by the fixed mask; redaction happens while
// constructing the returned copy, never by mutating the stored record.
func (m *Manager) Read(ctx context.Context, secretName string, opts ...ReadOption) (*Record, error) {
	var options readOptions
	for _, opt := range opts {
		opt(&options)
	}

	stored, err := m.store.Get(ctx, secretName)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return nil, provErrors.NewStorageError("credential record not found", err)
		}
		return nil, provErrors.NewStorageError("failed to read credential record", err)
	}

	record := &Record{
		SecretName:    secretName,
		ConnectorType: ConnectorType(stored[metaConnectorType]),
		Status:        Status(stored[metaStatus]),
		Fields:        make(map[string]string, len(stored)),
	}
	if record.Status == "" {
		record.Status = StatusPending
	}

	for k, v := range stored {
		if k == metaConnectorType || k == metaStatus {
			continue
		}
		if !options.unredacted && IsSensitiveField(k) && v != "" {
			record.Fields[k] = Mask
			continue
		}
		record.Fields[k] = v
	}

	if md, err := m.store.Describe(ctx, secretName); err == nil {
		record.CreatedAt = md.CreatedAt
		record.UpdatedAt = md.UpdatedAt
	}

	return record, nil
}

// ARN returns the backend resource identifier for a stored record, needed
// when handing the credential reference to the downstream platform.
func (m *Manager) ARN(ctx context.Context, secretName string) (string, error) {
	md, err := m.store.Describe(ctx, secretName)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return "", provErrors.NewStorageError("credential record not found", err)
		}
		return "", provErrors.NewStorageError("failed to describe credential record", err)
	}
	return md.ARN, nil
}

func (m *Manager) create(
	ctx context.Context, secretName string, connectorType ConnectorType, fields map[string]string,
) (*Record, error) {
	stored := maps.Clone(fields)
	if stored == nil {
		stored = map[string]string{}
	}
	stored[metaConnectorType] = string(connectorType)
	stored[metaStatus] = string(computeStatus(connectorType, stored))

	err := m.store.Create(ctx, secretName, stored)
	if errors.Is(err, secrets.ErrAlreadyExists) {
		// A record appeared under this name since the caller's existence
		// check. Merge into it once; if it vanished again in the meantime
		// the write fails rather than looping between create and merge.
		existing, getErr := m.store.Get(ctx, secretName)
		if getErr != nil {
			return nil, provErrors.NewStorageError("failed to read credential record", getErr)
		}
		return m.merge(ctx, secretName, connectorType, existing, fields)
	}
	if err != nil {
		return nil, provErrors.NewStorageError("failed to create credential record", err)
	}

	logger.Infow("credential record created",
		"secret_name", secretName,
		"connector_type", connectorType,
		"status", stored[metaStatus],
	)

	return m.Read(ctx, secretName)
}

// generateSecretName builds a unique secret name for a new record.
func generateSecretName(connectorType ConnectorType) string {
	return fmt.Sprintf("qbusiness-%s-credentials-%s", connectorType, uuid.NewString()[:8])
}
