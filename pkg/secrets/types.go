// Package secrets contains the durable secret store contract and its
// implementations. Credential field sets are stored as flat string-to-string
// mappings to match common secret-store constraints.
package secrets

import (
	"context"
	"errors"
	"time"
)

// Store errors. Implementations must return these sentinel values (possibly
// wrapped) so callers can classify failures without knowing the backend.
var (
	// ErrNotFound is returned when no secret exists under the given name.
	ErrNotFound = errors.New("secret not found")

	// ErrAlreadyExists is returned when a create targets an existing name.
	ErrAlreadyExists = errors.New("secret already exists")
)

// Metadata describes a stored secret without exposing its value.
type Metadata struct {
	// Name is the secret's unique name.
	Name string

	// ARN is the backend resource identifier, when the backend has one.
	ARN string

	// CreatedAt is when the secret was first created.
	CreatedAt time.Time

	// UpdatedAt is when the secret value was last changed.
	UpdatedAt time.Time
}

// Store describes a durable key-value secret store with
// create/get/update/describe semantics.
type Store interface {
	// Get returns the field mapping stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) (map[string]string, error)

	// Create stores a new field mapping under name. Returns ErrAlreadyExists
	// if the name is taken.
	Create(ctx context.Context, name string, fields map[string]string) error

	// Update replaces the field mapping stored under name, or returns
	// ErrNotFound. Merging of old and new fields is the caller's concern;
	// the store is a dumb replace.
	Update(ctx context.Context, name string, fields map[string]string) error

	// Describe returns metadata for the secret, or ErrNotFound.
	Describe(ctx context.Context, name string) (Metadata, error)
}
