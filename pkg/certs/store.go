package certs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	perrors "github.com/indexhub/provisioner/pkg/errors"
)

// ErrBlobNotFound is returned by BlobStore implementations when a key does
// not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore abstracts the object storage holding certificate material.
type BlobStore interface {
	// Put stores data under key.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the data stored under key, or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// StoredRef points at persisted certificate material.
type StoredRef struct {
	CertificatePath string
	PrivateKeyPath  string
}

// Storage persists certificate material under a per-application prefix.
type Storage struct {
	blob BlobStore
	now  func() time.Time
}

// NewStorage creates a Storage backed by the given blob store.
func NewStorage(blob BlobStore) *Storage {
	return &Storage{blob: blob, now: time.Now}
}

// StoreOption configures a Store call.
type StoreOption func(*storeOptions)

type storeOptions struct {
	rotate bool
}

// WithRotation makes Store write version-suffixed paths instead of failing
// when the prefix already holds different material.
func WithRotation() StoreOption {
	return func(o *storeOptions) { o.rotate = true }
}

// Store writes the certificate and private key under
// <prefix>/<baseName>.crt and <prefix>/private.key. Re-storing identical
// material is a no-op returning the same reference. Different material at
// the same paths is a storage conflict unless WithRotation is given, in
// which case versioned paths are written and the originals left untouched.
func (s *Storage) Store(ctx context.Context, material *Material, prefix, baseName string, opts ...StoreOption) (*StoredRef, error) {
	if prefix == "" || baseName == "" {
		return nil, perrors.NewValidationError("certificate storage prefix and base name are required", nil)
	}

	var options storeOptions
	for _, opt := range opts {
		opt(&options)
	}

	ref := &StoredRef{
		CertificatePath: fmt.Sprintf("%s/%s.crt", prefix, baseName),
		PrivateKeyPath:  fmt.Sprintf("%s/private.key", prefix),
	}

	existing, err := s.blob.Get(ctx, ref.CertificatePath)
	switch {
	case err == nil:
		if bytes.Equal(existing, material.CertificatePEM) {
			return ref, nil
		}
		if !options.rotate {
			return nil, perrors.NewStorageError(
				fmt.Sprintf("certificate already exists at %s with different content", ref.CertificatePath), nil)
		}
		version := s.now().Unix()
		ref.CertificatePath = fmt.Sprintf("%s/%s-%d.crt", prefix, baseName, version)
		ref.PrivateKeyPath = fmt.Sprintf("%s/private-%d.key", prefix, version)
	case errors.Is(err, ErrBlobNotFound):
		// First store for this prefix.
	default:
		return nil, perrors.NewStorageError("failed to check for existing certificate", err)
	}

	if err := s.blob.Put(ctx, ref.CertificatePath, material.CertificatePEM); err != nil {
		return nil, perrors.NewStorageError("failed to store certificate", err)
	}
	if err := s.blob.Put(ctx, ref.PrivateKeyPath, material.PrivateKeyPEM); err != nil {
		return nil, perrors.NewStorageError("failed to store private key", err)
	}
	return ref, nil
}

// Load reads back the material a reference points at.
func (s *Storage) Load(ctx context.Context, ref StoredRef) (certPEM, keyPEM []byte, err error) {
	certPEM, err = s.blob.Get(ctx, ref.CertificatePath)
	if err != nil {
		return nil, nil, perrors.NewStorageError("failed to load certificate", err)
	}
	keyPEM, err = s.blob.Get(ctx, ref.PrivateKeyPath)
	if err != nil {
		return nil, nil, perrors.NewStorageError("failed to load private key", err)
	}
	return certPEM, keyPEM, nil
}
