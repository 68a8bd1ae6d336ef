// Package storage defines the object storage abstraction used by RORefCat.
// Providers (local file system, Google Cloud Storage) implement StorageConnection;
// ObjectStore binds a connection to one bucket and exposes the list, get, put and
// exists operations the core works with, classifying backend errors into
// StorageTransientError and StorageFatalError.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	coreAdapter "github.com/tigerroll/rorefcat/pkg/batch/core/adapter"
)

// ErrObjectNotExist is returned (wrapped) by providers when an object is absent.
var ErrObjectNotExist = errors.New("storage: object doesn't exist")

// ObjectAttrs describes a stored object.
type ObjectAttrs struct {
	Name        string
	Size        int64
	ETag        string // Opaque version marker; changes whenever the content changes.
	MD5         string // Hex encoded content MD5, empty when the backend does not provide one.
	ContentType string
	Updated     time.Time
	Metadata    map[string]string
	// IsPrefix marks a synthetic entry for a common prefix of a delimited listing.
	IsPrefix bool
}

// ListQuery selects objects for ListObjects. Results are in lexical name order.
type ListQuery struct {
	Prefix string
	// StartAfter skips every name lexically less than or equal to it.
	StartAfter string
	// Delimiter, when set, collapses names that contain it after Prefix into
	// one IsPrefix entry ending with the delimiter.
	Delimiter string
}

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload writes data to bucket/objectName, replacing any existing object.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string, metadata map[string]string) (ObjectAttrs, error)
	// Download opens bucket/objectName. The caller must close the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object matching q, in lexical name order.
	// Returning ErrStopListing from fn ends the listing without error.
	ListObjects(ctx context.Context, bucket string, q ListQuery, fn func(ObjectAttrs) error) error
	// Stat returns the attributes of bucket/objectName.
	Stat(ctx context.Context, bucket, objectName string) (ObjectAttrs, error)
	// DeleteObject removes bucket/objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// ErrStopListing ends ListObjects early when returned from its callback.
var ErrStopListing = errors.New("storage: stop listing")

// StorageConnection represents a storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection
	StorageExecutor
	// DefaultBucket is the bucket used when an ObjectStore is bound without one.
	DefaultBucket() string
}

// StorageProvider manages the connections of one provider type.
type StorageProvider interface {
	// GetConnection retrieves the connection with the specified name, creating it on first use.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the provider type ("local", "gcs").
	Type() string
}

// StorageConnectionResolver resolves named connections across providers.
type StorageConnectionResolver interface {
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
