// Package gcs provides the Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

// ProviderType defines the type identifier for this provider.
const ProviderType = "gcs"

const module = "gcs"

type gcsAdapter struct {
	cfg    storageConfig.StorageConfig
	name   string
	client *storage.Client
}

var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// ClientOptions builds the client options for cfg.
func ClientOptions(cfg storageConfig.StorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	return opts
}

// NewGCSAdapter creates a connection backed by a new storage client.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}
	return &gcsAdapter{cfg: cfg, name: name, client: client}, nil
}

func (a *gcsAdapter) Close() error          { return a.client.Close() }
func (a *gcsAdapter) Type() string          { return ProviderType }
func (a *gcsAdapter) Name() string          { return a.name }
func (a *gcsAdapter) DefaultBucket() string { return a.cfg.BucketName }

func (a *gcsAdapter) bucket(name string) *storage.BucketHandle {
	if name == "" {
		name = a.cfg.BucketName
	}
	return a.client.Bucket(name)
}

func toAttrs(o *storage.ObjectAttrs) storageAdapter.ObjectAttrs {
	return storageAdapter.ObjectAttrs{
		Name:        o.Name,
		Size:        o.Size,
		ETag:        o.Etag,
		MD5:         hex.EncodeToString(o.MD5),
		ContentType: o.ContentType,
		Updated:     o.Updated,
		Metadata:    o.Metadata,
	}
}

// mapError marks absent objects with ErrObjectNotExist and client errors (4xx other
// than 408 and 429) as fatal; everything else is left for the caller to classify.
func mapError(err error, objectName string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", storageAdapter.ErrObjectNotExist, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", storageAdapter.ErrObjectNotExist, err)
		case gerr.Code == http.StatusRequestTimeout || gerr.Code == http.StatusTooManyRequests:
			return exception.NewStorageTransientError(module, "request throttled", objectName, err)
		case gerr.Code >= 400 && gerr.Code < 500:
			return exception.NewStorageFatalError(module, fmt.Sprintf("request rejected with %d", gerr.Code), objectName, err)
		case gerr.Code >= 500:
			return exception.NewStorageTransientError(module, fmt.Sprintf("server error %d", gerr.Code), objectName, err)
		}
	}
	return err
}

func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string, metadata map[string]string) (storageAdapter.ObjectAttrs, error) {
	w := a.bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return storageAdapter.ObjectAttrs{}, mapError(err, objectName)
	}
	if err := w.Close(); err != nil {
		return storageAdapter.ObjectAttrs{}, mapError(err, objectName)
	}
	logger.Debugf("Uploaded gs://%s/%s (gcs adapter '%s').", w.Attrs().Bucket, objectName, a.name)
	return toAttrs(w.Attrs()), nil
}

func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket(bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, mapError(err, objectName)
	}
	return r, nil
}

// ListObjects uses StartOffset, which is inclusive, and drops the cursor object itself.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket string, q storageAdapter.ListQuery, fn func(storageAdapter.ObjectAttrs) error) error {
	query := &storage.Query{Prefix: q.Prefix, StartOffset: q.StartAfter, Delimiter: q.Delimiter}
	if err := query.SetAttrSelection([]string{"Name", "Size", "Etag", "MD5", "ContentType", "Updated"}); err != nil {
		return err
	}
	it := a.bucket(bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return mapError(err, q.Prefix)
		}
		if attrs.Name == q.StartAfter {
			continue
		}
		entry := toAttrs(attrs)
		if attrs.Prefix != "" {
			entry = storageAdapter.ObjectAttrs{Name: attrs.Prefix, IsPrefix: true}
		}
		if err := fn(entry); err != nil {
			if errors.Is(err, storageAdapter.ErrStopListing) {
				return nil
			}
			return err
		}
	}
}

func (a *gcsAdapter) Stat(ctx context.Context, bucket, objectName string) (storageAdapter.ObjectAttrs, error) {
	attrs, err := a.bucket(bucket).Object(objectName).Attrs(ctx)
	if err != nil {
		return storageAdapter.ObjectAttrs{}, mapError(err, objectName)
	}
	return toAttrs(attrs), nil
}

func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	err := a.bucket(bucket).Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return mapError(err, objectName)
}

// GCSProvider manages GCS connections, one client per named connection.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewGCSProvider creates a new GCSProvider.
func NewGCSProvider(cfg *coreConfig.Config) *GCSProvider {
	return &GCSProvider{cfg: cfg, connections: make(map[string]storageAdapter.StorageConnection)}
}

// GetConnection returns the named connection, creating its client on first use.
func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}
	sc, err := storageAdapter.LookupConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if sc.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, sc.Type)
	}
	conn, err = NewGCSAdapter(context.Background(), sc, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Debugf("Created new GCS storage connection '%s' (bucket '%s').", name, sc.BucketName)
	return conn, nil
}

// CloseAll closes every client.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close GCS connection '%s': %w", name, err)
		}
		delete(p.connections, name)
	}
	return firstErr
}

// Type returns "gcs".
func (p *GCSProvider) Type() string { return ProviderType }
