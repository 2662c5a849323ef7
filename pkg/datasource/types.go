// Package datasource hands verified credentials over to the indexing
// platform: it creates the connector's data source and optionally kicks
// off the first synchronization run.
package datasource

import (
	"context"
	"errors"
)

// Sentinel errors returned by Platform implementations.
var (
	// ErrConflict means a data source with the same display name already
	// exists in the application.
	ErrConflict = errors.New("data source already exists")

	// ErrSyncConflict means a sync job is already running for the data
	// source.
	ErrSyncConflict = errors.New("sync job already running")
)

// Handle identifies a data source on the platform.
type Handle struct {
	ID            string
	ARN           string
	ApplicationID string
	IndexID       string
	DisplayName   string
	Status        string
	LastSyncJobID string
}

// CreateRequest describes the data source to create.
type CreateRequest struct {
	ApplicationID string
	IndexID       string
	DisplayName   string
	RoleARN       string

	// Configuration is the connector-specific configuration document sent
	// to the platform as-is.
	Configuration map[string]any
}

// SyncConfig controls the optional initial synchronization.
type SyncConfig struct {
	RunInitialSync bool
}

// Platform is the indexing platform the handoff targets.
type Platform interface {
	// Create creates a data source. An existing data source with the same
	// display name yields ErrConflict.
	Create(ctx context.Context, req CreateRequest) (*Handle, error)

	// FindByName looks up a data source by display name, or returns nil
	// when none matches.
	FindByName(ctx context.Context, applicationID, indexID, displayName string) (*Handle, error)

	// StartSync starts a synchronization job and returns its id. A job
	// already in flight yields ErrSyncConflict.
	StartSync(ctx context.Context, handle *Handle) (string, error)
}
