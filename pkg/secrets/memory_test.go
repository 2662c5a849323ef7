package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Create(ctx, "conn-secret", map[string]string{"clientId": "abc"})
	require.NoError(t, err)

	err = store.Create(ctx, "conn-secret", map[string]string{"clientId": "other"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	fields, err := store.Get(ctx, "conn-secret")
	require.NoError(t, err)
	assert.Equal(t, "abc", fields["clientId"])

	err = store.Update(ctx, "conn-secret", map[string]string{"clientId": "abc", "accessToken": "tok"})
	require.NoError(t, err)

	fields, err = store.Get(ctx, "conn-secret")
	require.NoError(t, err)
	assert.Equal(t, "tok", fields["accessToken"])

	md, err := store.Describe(ctx, "conn-secret")
	require.NoError(t, err)
	assert.Equal(t, "conn-secret", md.Name)
	assert.False(t, md.CreatedAt.IsZero())

	err = store.Update(ctx, "missing", map[string]string{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Describe(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopiesFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	in := map[string]string{"password": "hunter2"}
	require.NoError(t, store.Create(ctx, "s", in))
	in["password"] = "mutated"

	out, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", out["password"])

	// Mutating the returned map must not leak into the store either.
	out["password"] = "mutated-again"
	again, err := store.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", again["password"])
}
