package datasource

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryPlatform implements Platform with an in-memory registry. This
// implementation is thread-safe and suitable for development and testing.
type MemoryPlatform struct {
	mu      sync.Mutex
	sources map[string]*Handle // keyed by applicationID/indexID/displayName
	syncing map[string]bool    // data source ids with a job in flight
}

// NewMemoryPlatform creates an empty in-memory platform.
func NewMemoryPlatform() *MemoryPlatform {
	return &MemoryPlatform{
		sources: make(map[string]*Handle),
		syncing: make(map[string]bool),
	}
}

func sourceKey(applicationID, indexID, displayName string) string {
	return applicationID + "/" + indexID + "/" + displayName
}

// Create registers a new data source.
func (p *MemoryPlatform) Create(_ context.Context, req CreateRequest) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := sourceKey(req.ApplicationID, req.IndexID, req.DisplayName)
	if _, ok := p.sources[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrConflict, req.DisplayName)
	}

	id := uuid.NewString()
	handle := &Handle{
		ID:            id,
		ARN:           "arn:aws:qbusiness:::data-source/" + id,
		ApplicationID: req.ApplicationID,
		IndexID:       req.IndexID,
		DisplayName:   req.DisplayName,
		Status:        "ACTIVE",
	}
	p.sources[key] = handle

	cp := *handle
	return &cp, nil
}

// FindByName returns the data source registered under displayName, if any.
func (p *MemoryPlatform) FindByName(_ context.Context, applicationID, indexID, displayName string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, ok := p.sources[sourceKey(applicationID, indexID, displayName)]
	if !ok {
		return nil, nil
	}
	cp := *handle
	return &cp, nil
}

// StartSync starts a job unless one is already marked in flight.
func (p *MemoryPlatform) StartSync(_ context.Context, handle *Handle) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.syncing[handle.ID] {
		return "", fmt.Errorf("%w: %s", ErrSyncConflict, handle.ID)
	}
	p.syncing[handle.ID] = true
	return uuid.NewString(), nil
}

// FinishSync clears the in-flight marker, letting the next StartSync
// succeed.
func (p *MemoryPlatform) FinishSync(dataSourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.syncing, dataSourceID)
}

var _ Platform = (*MemoryPlatform)(nil)
