package secrets

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSecretsManager keeps secrets in a map and speaks the same typed
// exceptions as the real service.
type fakeSecretsManager struct {
	values  map[string]string
	created time.Time
}

func newFakeSecretsManager() *fakeSecretsManager {
	return &fakeSecretsManager{
		values:  map[string]string{},
		created: time.Date(2025, 6, 25, 20, 23, 8, 0, time.UTC),
	}
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	value, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func (f *fakeSecretsManager) CreateSecret(_ context.Context, in *secretsmanager.CreateSecretInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	name := aws.ToString(in.Name)
	if _, ok := f.values[name]; ok {
		return nil, &smtypes.ResourceExistsException{}
	}
	f.values[name] = aws.ToString(in.SecretString)
	return &secretsmanager.CreateSecretOutput{}, nil
}

func (f *fakeSecretsManager) UpdateSecret(_ context.Context, in *secretsmanager.UpdateSecretInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretOutput, error) {
	name := aws.ToString(in.SecretId)
	if _, ok := f.values[name]; !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	f.values[name] = aws.ToString(in.SecretString)
	return &secretsmanager.UpdateSecretOutput{}, nil
}

func (f *fakeSecretsManager) DescribeSecret(_ context.Context, in *secretsmanager.DescribeSecretInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	name := aws.ToString(in.SecretId)
	if _, ok := f.values[name]; !ok {
		return nil, &smtypes.ResourceNotFoundException{}
	}
	return &secretsmanager.DescribeSecretOutput{
		Name:        aws.String(name),
		ARN:         aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:" + name),
		CreatedDate: aws.Time(f.created),
	}, nil
}

func TestSecretsManagerStoreRoundTrip(t *testing.T) {
	store := NewSecretsManagerStore(newFakeSecretsManager(), "test secrets")
	ctx := context.Background()

	fields := map[string]string{"accessToken": "tok", "hostUrl": "https://example.zendesk.com/"}
	require.NoError(t, store.Create(ctx, "qbusiness-zendesk-secret-example-1", fields))

	got, err := store.Get(ctx, "qbusiness-zendesk-secret-example-1")
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestSecretsManagerStoreCreateConflict(t *testing.T) {
	store := NewSecretsManagerStore(newFakeSecretsManager(), "test secrets")
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "name", map[string]string{"a": "1"}))
	err := store.Create(ctx, "name", map[string]string{"a": "2"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSecretsManagerStoreMissLookups(t *testing.T) {
	store := NewSecretsManagerStore(newFakeSecretsManager(), "test secrets")
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Update(ctx, "missing", map[string]string{"a": "1"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Describe(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSecretsManagerStoreDescribe(t *testing.T) {
	fake := newFakeSecretsManager()
	store := NewSecretsManagerStore(fake, "test secrets")
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "name", map[string]string{"a": "1"}))

	md, err := store.Describe(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "name", md.Name)
	assert.Contains(t, md.ARN, ":secret:name")
	assert.Equal(t, fake.created, md.CreatedAt)
	// With no change date recorded, UpdatedAt falls back to creation.
	assert.Equal(t, fake.created, md.UpdatedAt)
}

func TestSecretsManagerStoreMalformedPayload(t *testing.T) {
	fake := newFakeSecretsManager()
	fake.values["broken"] = "not-json"
	store := NewSecretsManagerStore(fake, "test secrets")

	_, err := store.Get(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestSecretsManagerStoreSerializesFlatJSON(t *testing.T) {
	fake := newFakeSecretsManager()
	store := NewSecretsManagerStore(fake, "test secrets")

	require.NoError(t, store.Create(context.Background(), "name",
		map[string]string{"clientId": "id", "clientSecret": "sec"}))

	// The stored payload is the flat object the platform reads directly.
	var stored map[string]string
	require.NoError(t, json.Unmarshal([]byte(fake.values["name"]), &stored))
	assert.Equal(t, map[string]string{"clientId": "id", "clientSecret": "sec"}, stored)
}

var _ SecretsManagerAPI = (*fakeSecretsManager)(nil)
