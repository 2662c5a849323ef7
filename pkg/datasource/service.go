package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/indexhub/provisioner/pkg/credentials"
	provErrors "github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/logger"
)

// Service performs the credential-to-platform handoff.
type Service struct {
	platform Platform
	creds    *credentials.Manager

	defaultRoleARN string
}

// ServiceOption configures a handoff service.
type ServiceOption func(*Service)

// WithDefaultRoleARN sets the role used for create requests that do not
// carry their own.
func WithDefaultRoleARN(arn string) ServiceOption {
	return func(s *Service) { s.defaultRoleARN = arn }
}

// NewService creates a handoff service.
func NewService(platform Platform, creds *credentials.Manager, opts ...ServiceOption) *Service {
	s := &Service{platform: platform, creds: creds}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is a successful handoff. Warning is set when the data source was
// created but an optional follow-up (the initial sync) could not start;
// the handoff itself still counts as a success.
type Result struct {
	Handle    *Handle
	SyncJobID string
	Warning   string
}

// CreateDataSource creates the data source for a verified credential. The
// credential named by credentialRef must be VERIFIED; anything else fails
// with CredentialNotReady before the platform is contacted. An "already
// exists" conflict resolves to the existing data source, so repeated
// provisioning runs converge on one handle. A request without a role ARN
// uses the service default.
func (s *Service) CreateDataSource(
	ctx context.Context, req CreateRequest, credentialRef string, sync SyncConfig,
) (*Result, error) {
	if req.RoleARN == "" {
		req.RoleARN = s.defaultRoleARN
	}

	record, err := s.creds.Read(ctx, credentialRef)
	if err != nil {
		return nil, err
	}
	if record.Status != credentials.StatusVerified {
		return nil, provErrors.NewCredentialNotReadyError(fmt.Sprintf(
			"credential %s is %s, not %s", credentialRef, record.Status, credentials.StatusVerified))
	}

	handle, err := s.platform.Create(ctx, req)
	if errors.Is(err, ErrConflict) {
		logger.Infow("data source already exists, resolving to the existing one",
			"application_id", req.ApplicationID,
			"display_name", req.DisplayName,
		)
		handle, err = s.platform.FindByName(ctx, req.ApplicationID, req.IndexID, req.DisplayName)
		if err == nil && handle == nil {
			err = provErrors.NewInternalError(fmt.Sprintf(
				"data source %s reported as existing but not found", req.DisplayName), nil)
		}
	}
	if err != nil {
		return nil, provErrors.NewPlatformError("failed to create data source", err)
	}

	result := &Result{Handle: handle}
	if !sync.RunInitialSync {
		return result, nil
	}

	jobID, warning := s.startSync(ctx, handle)
	result.SyncJobID = jobID
	result.Warning = warning
	return result, nil
}

// StartSync starts a synchronization job for an existing data source. A
// conflict with a running job is reported as a warning, not an error.
func (s *Service) StartSync(ctx context.Context, handle *Handle) (*Result, error) {
	if handle == nil || handle.ID == "" {
		return nil, provErrors.NewValidationError("data source handle is required", nil)
	}
	jobID, warning := s.startSync(ctx, handle)
	if jobID == "" && warning != "" {
		return &Result{Handle: handle, Warning: warning}, nil
	}
	return &Result{Handle: handle, SyncJobID: jobID}, nil
}

// startSync attempts a sync start and folds every failure into a warning.
// Sync is best-effort: the credential handoff already succeeded, and the
// platform will sync on its own schedule.
func (s *Service) startSync(ctx context.Context, handle *Handle) (jobID, warning string) {
	jobID, err := s.platform.StartSync(ctx, handle)
	switch {
	case err == nil:
		handle.LastSyncJobID = jobID
		return jobID, ""
	case errors.Is(err, ErrSyncConflict):
		logger.Warnw("sync job already running",
			"data_source_id", handle.ID,
		)
		return "", "a sync job is already running for this data source"
	default:
		logger.Warnw("failed to start initial sync",
			"data_source_id", handle.ID,
			"error", err,
		)
		return "", "the data source was created but the initial sync could not be started"
	}
}
