package datasource

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQBusiness struct {
	createFn func(*qbusiness.CreateDataSourceInput) (*qbusiness.CreateDataSourceOutput, error)
	listFn   func(*qbusiness.ListDataSourcesInput) (*qbusiness.ListDataSourcesOutput, error)
	syncFn   func(*qbusiness.StartDataSourceSyncJobInput) (*qbusiness.StartDataSourceSyncJobOutput, error)
}

func (f *fakeQBusiness) CreateDataSource(_ context.Context, in *qbusiness.CreateDataSourceInput, _ ...func(*qbusiness.Options)) (*qbusiness.CreateDataSourceOutput, error) {
	return f.createFn(in)
}

func (f *fakeQBusiness) ListDataSources(_ context.Context, in *qbusiness.ListDataSourcesInput, _ ...func(*qbusiness.Options)) (*qbusiness.ListDataSourcesOutput, error) {
	return f.listFn(in)
}

func (f *fakeQBusiness) StartDataSourceSyncJob(_ context.Context, in *qbusiness.StartDataSourceSyncJobInput, _ ...func(*qbusiness.Options)) (*qbusiness.StartDataSourceSyncJobOutput, error) {
	return f.syncFn(in)
}

func TestQBusinessCreateMapsRequest(t *testing.T) {
	var got *qbusiness.CreateDataSourceInput
	platform := NewQBusinessPlatform(&fakeQBusiness{
		createFn: func(in *qbusiness.CreateDataSourceInput) (*qbusiness.CreateDataSourceOutput, error) {
			got = in
			return &qbusiness.CreateDataSourceOutput{
				DataSourceId:  aws.String("ds-1"),
				DataSourceArn: aws.String("arn:aws:qbusiness:::data-source/ds-1"),
			}, nil
		},
	})

	handle, err := platform.Create(context.Background(), testCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, "app-1", aws.ToString(got.ApplicationId))
	assert.Equal(t, "idx-1", aws.ToString(got.IndexId))
	assert.Equal(t, "zendesk-data-source", aws.ToString(got.DisplayName))
	assert.NotNil(t, got.Configuration)

	assert.Equal(t, "ds-1", handle.ID)
	assert.Equal(t, "app-1", handle.ApplicationID)
	assert.Equal(t, "idx-1", handle.IndexID)
}

func TestQBusinessCreateConflict(t *testing.T) {
	platform := NewQBusinessPlatform(&fakeQBusiness{
		createFn: func(*qbusiness.CreateDataSourceInput) (*qbusiness.CreateDataSourceOutput, error) {
			return nil, &types.ConflictException{Message: aws.String("data source exists")}
		},
	})

	_, err := platform.Create(context.Background(), testCreateRequest())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestQBusinessFindByNamePaginates(t *testing.T) {
	calls := 0
	platform := NewQBusinessPlatform(&fakeQBusiness{
		listFn: func(in *qbusiness.ListDataSourcesInput) (*qbusiness.ListDataSourcesOutput, error) {
			calls++
			if in.NextToken == nil {
				return &qbusiness.ListDataSourcesOutput{
					DataSources: []types.DataSource{
						{DataSourceId: aws.String("ds-other"), DisplayName: aws.String("other")},
					},
					NextToken: aws.String("page-2"),
				}, nil
			}
			return &qbusiness.ListDataSourcesOutput{
				DataSources: []types.DataSource{
					{DataSourceId: aws.String("ds-2"), DisplayName: aws.String("zendesk-data-source")},
				},
			}, nil
		},
	})

	handle, err := platform.FindByName(context.Background(), "app-1", "idx-1", "zendesk-data-source")
	require.NoError(t, err)
	require.NotNil(t, handle)
	assert.Equal(t, "ds-2", handle.ID)
	assert.Equal(t, 2, calls)
}

func TestQBusinessFindByNameMiss(t *testing.T) {
	platform := NewQBusinessPlatform(&fakeQBusiness{
		listFn: func(*qbusiness.ListDataSourcesInput) (*qbusiness.ListDataSourcesOutput, error) {
			return &qbusiness.ListDataSourcesOutput{}, nil
		},
	})

	handle, err := platform.FindByName(context.Background(), "app-1", "idx-1", "missing")
	require.NoError(t, err)
	assert.Nil(t, handle)
}

func TestQBusinessStartSyncConflict(t *testing.T) {
	platform := NewQBusinessPlatform(&fakeQBusiness{
		syncFn: func(*qbusiness.StartDataSourceSyncJobInput) (*qbusiness.StartDataSourceSyncJobOutput, error) {
			return nil, &types.ConflictException{Message: aws.String("sync running")}
		},
	})

	_, err := platform.StartSync(context.Background(), &Handle{ID: "ds-1", ApplicationID: "app-1", IndexID: "idx-1"})
	assert.ErrorIs(t, err, ErrSyncConflict)
}

func TestQBusinessStartSyncReturnsExecutionID(t *testing.T) {
	platform := NewQBusinessPlatform(&fakeQBusiness{
		syncFn: func(in *qbusiness.StartDataSourceSyncJobInput) (*qbusiness.StartDataSourceSyncJobOutput, error) {
			assert.Equal(t, "ds-1", aws.ToString(in.DataSourceId))
			return &qbusiness.StartDataSourceSyncJobOutput{ExecutionId: aws.String("job-42")}, nil
		},
	})

	jobID, err := platform.StartSync(context.Background(), &Handle{ID: "ds-1", ApplicationID: "app-1", IndexID: "idx-1"})
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
}
