package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client used by
// the store. Narrowed for testability.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput,
		opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput,
		opts ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	UpdateSecret(ctx context.Context, in *secretsmanager.UpdateSecretInput,
		opts ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretOutput, error)
	DescribeSecret(ctx context.Context, in *secretsmanager.DescribeSecretInput,
		opts ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// SecretsManagerStore implements Store on top of AWS Secrets Manager. Field
// mappings are serialized as a flat JSON object in the secret string, the
// same layout the downstream indexing platform expects.
type SecretsManagerStore struct {
	client      SecretsManagerAPI
	description string
}

// NewSecretsManagerStore creates a store backed by AWS Secrets Manager.
func NewSecretsManagerStore(client SecretsManagerAPI, description string) *SecretsManagerStore {
	return &SecretsManagerStore{
		client:      client,
		description: description,
	}
}

// Get returns the field mapping stored under name.
func (s *SecretsManagerStore) Get(ctx context.Context, name string) (map[string]string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", name, err)
	}

	fields := map[string]string{}
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode secret %s: %w", name, err)
	}
	return fields, nil
}

// Create stores a new field mapping under name.
func (s *SecretsManagerStore) Create(ctx context.Context, name string, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode secret %s: %w", name, err)
	}

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(data)),
		Description:  aws.String(s.description),
	})
	if err != nil {
		var exists *smtypes.ResourceExistsException
		if errors.As(err, &exists) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return fmt.Errorf("failed to create secret %s: %w", name, err)
	}
	return nil
}

// Update replaces the field mapping stored under name.
func (s *SecretsManagerStore) Update(ctx context.Context, name string, fields map[string]string) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode secret %s: %w", name, err)
	}

	_, err = s.client.UpdateSecret(ctx, &secretsmanager.UpdateSecretInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to update secret %s: %w", name, err)
	}
	return nil
}

// Describe returns metadata for the secret.
func (s *SecretsManagerStore) Describe(ctx context.Context, name string) (Metadata, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		var nf *smtypes.ResourceNotFoundException
		if errors.As(err, &nf) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Metadata{}, fmt.Errorf("failed to describe secret %s: %w", name, err)
	}

	md := Metadata{
		Name: aws.ToString(out.Name),
		ARN:  aws.ToString(out.ARN),
	}
	if out.CreatedDate != nil {
		md.CreatedAt = *out.CreatedDate
	}
	if out.LastChangedDate != nil {
		md.UpdatedAt = *out.LastChangedDate
	} else {
		md.UpdatedAt = md.CreatedAt
	}
	return md, nil
}

var _ Store = (*SecretsManagerStore)(nil)
