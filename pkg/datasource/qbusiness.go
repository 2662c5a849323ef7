package datasource

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/document"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness/types"
	"github.com/aws/smithy-go"
)

// QBusinessAPI is the subset of the Amazon Q Business client used by the
// platform adapter.
type QBusinessAPI interface {
	CreateDataSource(ctx context.Context, params *qbusiness.CreateDataSourceInput, optFns ...func(*qbusiness.Options)) (*qbusiness.CreateDataSourceOutput, error)
	ListDataSources(ctx context.Context, params *qbusiness.ListDataSourcesInput, optFns ...func(*qbusiness.Options)) (*qbusiness.ListDataSourcesOutput, error)
	StartDataSourceSyncJob(ctx context.Context, params *qbusiness.StartDataSourceSyncJobInput, optFns ...func(*qbusiness.Options)) (*qbusiness.StartDataSourceSyncJobOutput, error)
}

// QBusinessPlatform implements Platform on Amazon Q Business.
type QBusinessPlatform struct {
	client QBusinessAPI
}

// NewQBusinessPlatform creates a Q Business platform adapter.
func NewQBusinessPlatform(client QBusinessAPI) *QBusinessPlatform {
	return &QBusinessPlatform{client: client}
}

// Create creates a data source in the application's index.
func (p *QBusinessPlatform) Create(ctx context.Context, req CreateRequest) (*Handle, error) {
	out, err := p.client.CreateDataSource(ctx, &qbusiness.CreateDataSourceInput{
		ApplicationId: aws.String(req.ApplicationID),
		IndexId:       aws.String(req.IndexID),
		DisplayName:   aws.String(req.DisplayName),
		RoleArn:       aws.String(req.RoleARN),
		Configuration: document.NewLazyDocument(req.Configuration),
	})
	if err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, req.DisplayName)
		}
		return nil, platformError("create data source", err)
	}

	return &Handle{
		ID:            aws.ToString(out.DataSourceId),
		ARN:           aws.ToString(out.DataSourceArn),
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
	}, nil
}

// FindByName scans the application's data sources for a display name
// match.
func (p *QBusinessPlatform) FindByName(ctx context.Context, applicationID, indexID, displayName string) (*Handle, error) {
	var nextToken *string
	for {
		out, err := p.client.ListDataSources(ctx, &qbusiness.ListDataSourcesInput{
			ApplicationId: aws.String(applicationID),
			IndexId:       aws.String(indexID),
			NextToken:     nextToken,
		})
		if err != nil {
			return nil, platformError("list data sources", err)
		}

		for _, ds := range out.DataSources {
			if aws.ToString(ds.DisplayName) != displayName {
				continue
			}
			return &Handle{
				ID:            aws.ToString(ds.DataSourceId),
				ApplicationID: applicationID,
				IndexID:       indexID,
				DisplayName:   displayName,
				Status:        string(ds.Status),
			}, nil
		}

		nextToken = out.NextToken
		if nextToken == nil {
			return nil, nil
		}
	}
}

// StartSync starts a data source sync job.
func (p *QBusinessPlatform) StartSync(ctx context.Context, handle *Handle) (string, error) {
	out, err := p.client.StartDataSourceSyncJob(ctx, &qbusiness.StartDataSourceSyncJobInput{
		ApplicationId: aws.String(handle.ApplicationID),
		IndexId:       aws.String(handle.IndexID),
		DataSourceId:  aws.String(handle.ID),
	})
	if err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			return "", fmt.Errorf("%w: %s", ErrSyncConflict, handle.ID)
		}
		return "", platformError("start sync job", err)
	}
	return aws.ToString(out.ExecutionId), nil
}

// platformError strips the SDK's operation wrapping down to the service
// error code and message.
func platformError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %s", op, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Platform = (*QBusinessPlatform)(nil)
