// Package flowstate provides the short-lived, expiring state store that
// binds an OAuth CSRF nonce to its flow context during interactive
// handshakes. Entries live for the duration of one authorization round-trip
// and are consumed exactly once.
package flowstate

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a pending flow may wait for its callback.
const DefaultTTL = 10 * time.Minute

// ErrNotFound is returned when a nonce does not exist or has expired. The
// two conditions are deliberately indistinguishable.
var ErrNotFound = errors.New("flow state not found")

// Context is the flow context bound to a nonce. It is a small flat object
// serialized as the store's native value type.
type Context struct {
	ConnectorType string `json:"connectorType"`
	RedirectURI   string `json:"redirectUri"`
	ClientID      string `json:"clientId"`

	// ClientSecretRef names the credential record holding the client secret;
	// the secret value itself never enters the transient store.
	ClientSecretRef string `json:"clientSecretRef"`

	Scope string `json:"scope"`

	// AuthorizationEndpoint and TokenEndpoint are resolved by the connector
	// at initiation so the engine needs no per-provider knowledge.
	AuthorizationEndpoint string `json:"authorizationEndpoint"`
	TokenEndpoint         string `json:"tokenEndpoint"`
}

// Store describes the transient state store. GetAndDelete must be atomic:
// for two concurrent calls with the same nonce, exactly one receives the
// context and the other receives ErrNotFound.
type Store interface {
	// Put stores the context under nonce with the given TTL.
	Put(ctx context.Context, nonce string, flowCtx Context, ttl time.Duration) error

	// GetAndDelete atomically retrieves and removes the context bound to
	// nonce. A missing or expired nonce yields ErrNotFound.
	GetAndDelete(ctx context.Context, nonce string) (Context, error)
}
