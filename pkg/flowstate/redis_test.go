package flowstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client, "provisioner:flow:"), mr
}

func testContext() Context {
	return Context{
		ConnectorType:         "zendesk",
		RedirectURI:           "https://api.example.com/zendesk/oauth/callback",
		ClientID:              "amazon-q-business-1750882988",
		ClientSecretRef:       "qbusiness-zendesk-credentials-deadbeef",
		Scope:                 "read write",
		AuthorizationEndpoint: "https://example.zendesk.com/oauth/authorizations/new",
		TokenEndpoint:         "https://example.zendesk.com/oauth/tokens",
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "nonce-1", testContext(), time.Minute))

	got, err := store.GetAndDelete(ctx, "nonce-1")
	require.NoError(t, err)
	assert.Equal(t, testContext(), got)

	// Consumed exactly once: second read misses.
	_, err = store.GetAndDelete(ctx, "nonce-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreMissingNonce(t *testing.T) {
	store, _ := newTestRedisStore(t)

	_, err := store.GetAndDelete(context.Background(), "never-stored")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "nonce-2", testContext(), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.GetAndDelete(ctx, "nonce-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreEmptyNonceRejected(t *testing.T) {
	store, _ := newTestRedisStore(t)
	err := store.Put(context.Background(), "", testContext(), time.Minute)
	assert.Error(t, err)
}

func TestRedisStoreConcurrentConsume(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "nonce-3", testContext(), time.Minute))

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetAndDelete(ctx, "nonce-3")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrNotFound)
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one caller should consume the nonce")
	assert.Equal(t, callers-1, lost)
}

func TestMemoryStoreMatchesRedisSemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "n", testContext(), time.Minute))

	got, err := store.GetAndDelete(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, testContext(), got)

	_, err = store.GetAndDelete(ctx, "n")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.Put(ctx, "n", testContext(), time.Minute))

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err := store.GetAndDelete(ctx, "n")
	assert.ErrorIs(t, err, ErrNotFound)
}
