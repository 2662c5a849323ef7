package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexhub/provisioner/pkg/credentials"
	provErrors "github.com/indexhub/provisioner/pkg/errors"
	"github.com/indexhub/provisioner/pkg/secrets"
)

func newServiceFixture(t *testing.T) (*Service, *MemoryPlatform, *credentials.Manager) {
	t.Helper()
	platform := NewMemoryPlatform()
	creds := credentials.NewManager(secrets.NewMemoryStore())
	return NewService(platform, creds), platform, creds
}

func verifiedCredential(t *testing.T, creds *credentials.Manager) string {
	t.Helper()
	record, err := creds.Upsert(context.Background(), "", credentials.ConnectorZendesk, map[string]string{
		"accessToken": "tok-123",
		"hostUrl":     "https://example.zendesk.com",
	})
	require.NoError(t, err)
	require.Equal(t, credentials.StatusVerified, record.Status)
	return record.SecretName
}

func testCreateRequest() CreateRequest {
	return CreateRequest{
		ApplicationID: "app-1",
		IndexID:       "idx-1",
		DisplayName:   "zendesk-data-source",
		RoleARN:       "arn:aws:iam::123456789012:role/indexer",
		Configuration: map[string]any{"type": "ZENDESK", "syncMode": "FULL_CRAWL"},
	}
}

func TestCreateDataSourceRequiresVerifiedCredential(t *testing.T) {
	svc, _, creds := newServiceFixture(t)
	ctx := context.Background()

	record, err := creds.Upsert(ctx, "", credentials.ConnectorZendesk, map[string]string{
		"hostUrl": "https://example.zendesk.com",
	})
	require.NoError(t, err)
	require.Equal(t, credentials.StatusPending, record.Status)

	_, err = svc.CreateDataSource(ctx, testCreateRequest(), record.SecretName, SyncConfig{})
	assert.True(t, provErrors.IsCredentialNotReady(err))
}

func TestCreateDataSourceHappyPath(t *testing.T) {
	svc, _, creds := newServiceFixture(t)
	ctx := context.Background()

	result, err := svc.CreateDataSource(ctx, testCreateRequest(), verifiedCredential(t, creds), SyncConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Handle.ID)
	assert.Empty(t, result.SyncJobID)
	assert.Empty(t, result.Warning)
}

func TestCreateDataSourceIsIdempotent(t *testing.T) {
	svc, _, creds := newServiceFixture(t)
	ctx := context.Background()
	ref := verifiedCredential(t, creds)

	first, err := svc.CreateDataSource(ctx, testCreateRequest(), ref, SyncConfig{})
	require.NoError(t, err)

	second, err := svc.CreateDataSource(ctx, testCreateRequest(), ref, SyncConfig{})
	require.NoError(t, err)
	assert.Equal(t, first.Handle.ID, second.Handle.ID, "duplicate creates resolve to the same data source")
}

func TestCreateDataSourceRunsInitialSync(t *testing.T) {
	svc, _, creds := newServiceFixture(t)
	ctx := context.Background()

	result, err := svc.CreateDataSource(ctx, testCreateRequest(), verifiedCredential(t, creds),
		SyncConfig{RunInitialSync: true})
	require.NoError(t, err)
	assert.NotEmpty(t, result.SyncJobID)
	assert.Empty(t, result.Warning)
	assert.Equal(t, result.SyncJobID, result.Handle.LastSyncJobID)
}

func TestCreateDataSourceSyncConflictIsWarning(t *testing.T) {
	svc, platform, creds := newServiceFixture(t)
	ctx := context.Background()
	ref := verifiedCredential(t, creds)

	first, err := svc.CreateDataSource(ctx, testCreateRequest(), ref, SyncConfig{RunInitialSync: true})
	require.NoError(t, err)
	require.NotEmpty(t, first.SyncJobID)

	// The first job is still in flight; the second handoff must still
	// succeed, with the sync downgraded to a warning.
	second, err := svc.CreateDataSource(ctx, testCreateRequest(), ref, SyncConfig{RunInitialSync: true})
	require.NoError(t, err)
	assert.Empty(t, second.SyncJobID)
	assert.NotEmpty(t, second.Warning)

	platform.FinishSync(first.Handle.ID)
	third, err := svc.StartSync(ctx, first.Handle)
	require.NoError(t, err)
	assert.NotEmpty(t, third.SyncJobID)
}

type captureCreatePlatform struct {
	*MemoryPlatform
	lastCreate CreateRequest
}

func (p *captureCreatePlatform) Create(ctx context.Context, req CreateRequest) (*Handle, error) {
	p.lastCreate = req
	return p.MemoryPlatform.Create(ctx, req)
}

func TestCreateDataSourceAppliesDefaultRoleARN(t *testing.T) {
	platform := &captureCreatePlatform{MemoryPlatform: NewMemoryPlatform()}
	creds := credentials.NewManager(secrets.NewMemoryStore())
	svc := NewService(platform, creds,
		WithDefaultRoleARN("arn:aws:iam::123456789012:role/default-indexer"))
	ctx := context.Background()
	ref := verifiedCredential(t, creds)

	req := testCreateRequest()
	req.RoleARN = ""
	_, err := svc.CreateDataSource(ctx, req, ref, SyncConfig{})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::123456789012:role/default-indexer", platform.lastCreate.RoleARN)

	// A role carried by the request wins over the default.
	explicit := testCreateRequest()
	explicit.DisplayName = "zendesk-data-source-2"
	_, err = svc.CreateDataSource(ctx, explicit, ref, SyncConfig{})
	require.NoError(t, err)
	assert.Equal(t, explicit.RoleARN, platform.lastCreate.RoleARN)
}

type createFailingPlatform struct {
	*MemoryPlatform
}

func (*createFailingPlatform) Create(context.Context, CreateRequest) (*Handle, error) {
	return nil, errors.New("ThrottlingException")
}

func TestCreateDataSourcePlatformFailureIsClassified(t *testing.T) {
	platform := &createFailingPlatform{NewMemoryPlatform()}
	creds := credentials.NewManager(secrets.NewMemoryStore())
	svc := NewService(platform, creds)

	_, err := svc.CreateDataSource(context.Background(), testCreateRequest(),
		verifiedCredential(t, creds), SyncConfig{})
	require.Error(t, err)
	assert.True(t, provErrors.IsPlatform(err))
	assert.False(t, provErrors.IsStorage(err))
}

type syncFailingPlatform struct {
	*MemoryPlatform
}

func (p *syncFailingPlatform) StartSync(context.Context, *Handle) (string, error) {
	return "", errors.New("throttled")
}

func TestCreateDataSourceSyncFailureIsWarning(t *testing.T) {
	platform := &syncFailingPlatform{NewMemoryPlatform()}
	creds := credentials.NewManager(secrets.NewMemoryStore())
	svc := NewService(platform, creds)
	ctx := context.Background()

	result, err := svc.CreateDataSource(ctx, testCreateRequest(), verifiedCredential(t, creds),
		SyncConfig{RunInitialSync: true})
	require.NoError(t, err, "a failed sync start must not fail the handoff")
	assert.NotEmpty(t, result.Handle.ID)
	assert.Empty(t, result.SyncJobID)
	assert.NotEmpty(t, result.Warning)
}

func TestStartSyncValidatesHandle(t *testing.T) {
	svc, _, _ := newServiceFixture(t)
	_, err := svc.StartSync(context.Background(), nil)
	assert.True(t, provErrors.IsValidation(err))
}
