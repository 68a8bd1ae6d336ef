// Package local provides a local file system implementation of the storage adapter interfaces.
// Buckets are directories under BaseDir; ETags are the hex MD5 of the content.
package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/config"
	coreConfig "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this local storage provider.
	ProviderType = "local"
)

// localAdapter implements the storage.StorageConnection interface for local file system operations.
type localAdapter struct {
	cfg  storageConfig.StorageConfig
	name string
}

var _ storageAdapter.StorageConnection = (*localAdapter)(nil)

// NewLocalAdapter creates a new local adapter rooted at cfg.BaseDir, creating the directory if needed.
func NewLocalAdapter(cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir must be specified in configuration", name)
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage adapter '%s': failed to create BaseDir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage adapter '%s': failed to stat BaseDir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage adapter '%s': BaseDir '%s' is not a directory", name, cfg.BaseDir)
	}
	return &localAdapter{cfg: cfg, name: name}, nil
}

// Close does nothing for the local file system adapter as it holds no special resources.
func (a *localAdapter) Close() error {
	logger.Debugf("Local storage adapter '%s' closed.", a.name)
	return nil
}

func (a *localAdapter) Type() string          { return ProviderType }
func (a *localAdapter) Name() string          { return a.name }
func (a *localAdapter) DefaultBucket() string { return a.cfg.BucketName }

// Upload writes data to a temporary file next to the target and renames it into place,
// so readers never observe a partial object.
func (a *localAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string, metadata map[string]string) (storageAdapter.ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("failed to resolve path for upload: %w", err)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	h := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	logger.Debugf("Uploaded %d bytes to '%s' (local adapter '%s').", n, fullPath, a.name)
	info, err := os.Stat(fullPath)
	if err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	return storageAdapter.ObjectAttrs{
		Name:        objectName,
		Size:        n,
		ETag:        sum,
		MD5:         sum,
		ContentType: contentType,
		Updated:     info.ModTime(),
		Metadata:    metadata,
	}, nil
}

// Download opens the file behind bucket/objectName.
func (a *localAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, notExist(err, fullPath)
	}
	return file, nil
}

// ListObjects walks the bucket directory and reports files under q.Prefix in lexical order.
func (a *localAdapter) ListObjects(ctx context.Context, bucket string, q storageAdapter.ListQuery, fn func(storageAdapter.ObjectAttrs) error) error {
	basePath, err := a.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve base path for listing: %w", err)
	}

	// Walk from the deepest directory fully contained in the prefix.
	walkRoot := basePath
	if dir := q.Prefix[:strings.LastIndex(q.Prefix, "/")+1]; dir != "" {
		walkRoot = filepath.Join(basePath, filepath.FromSlash(dir))
	}

	var names []string
	err = filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(basePath, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", p, basePath, err)
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, q.Prefix) && rel > q.StartAfter {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in '%s' with prefix '%s': %w", basePath, q.Prefix, err)
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	for _, name := range names {
		if q.Delimiter != "" {
			if i := strings.Index(name[len(q.Prefix):], q.Delimiter); i >= 0 {
				dir := name[:len(q.Prefix)+i+len(q.Delimiter)]
				if seen[dir] {
					continue
				}
				seen[dir] = true
				if err := fn(storageAdapter.ObjectAttrs{Name: dir, IsPrefix: true}); err != nil {
					if errors.Is(err, storageAdapter.ErrStopListing) {
						return nil
					}
					return err
				}
				continue
			}
		}
		attrs, err := a.Stat(ctx, bucket, name)
		if err != nil {
			if errors.Is(err, storageAdapter.ErrObjectNotExist) {
				continue
			}
			return err
		}
		if err := fn(attrs); err != nil {
			if errors.Is(err, storageAdapter.ErrStopListing) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Stat hashes the file to produce its ETag.
func (a *localAdapter) Stat(ctx context.Context, bucket, objectName string) (storageAdapter.ObjectAttrs, error) {
	if err := ctx.Err(); err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return storageAdapter.ObjectAttrs{}, notExist(err, fullPath)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	if info.IsDir() {
		return storageAdapter.ObjectAttrs{}, fmt.Errorf("'%s': %w", fullPath, storageAdapter.ErrObjectNotExist)
	}
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return storageAdapter.ObjectAttrs{}, err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return storageAdapter.ObjectAttrs{
		Name:        objectName,
		Size:        info.Size(),
		ETag:        sum,
		MD5:         sum,
		ContentType: storageAdapter.ContentTypeOf(objectName),
		Updated:     info.ModTime(),
	}, nil
}

// DeleteObject deletes the file. A missing file is not an error.
func (a *localAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Debugf("Attempted to delete non-existent object '%s' (local adapter '%s').", fullPath, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	return nil
}

func notExist(err error, fullPath string) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("'%s': %w", fullPath, storageAdapter.ErrObjectNotExist)
	}
	return fmt.Errorf("failed to open file '%s': %w", fullPath, err)
}

// resolvePath maps bucket/objectName under BaseDir and refuses paths escaping it.
func (a *localAdapter) resolvePath(bucket, objectName string) (string, error) {
	baseDir := a.cfg.BaseDir
	if bucket == "" {
		bucket = a.cfg.BucketName
	}
	fullPath := filepath.Join(baseDir, bucket, filepath.FromSlash(objectName))

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for BaseDir '%s': %w", baseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of BaseDir '%s': %w", fullPath, baseDir, os.ErrPermission)
	}
	return fullPath, nil
}

// LocalProvider manages local storage connections.
type LocalProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewLocalProvider creates a new LocalProvider instance.
func NewLocalProvider(cfg *coreConfig.Config) *LocalProvider {
	return &LocalProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// GetConnection returns the named connection, creating it on first use.
func (p *LocalProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
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

	storageCfg, err := storageAdapter.LookupConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, ProviderType, storageCfg.Type)
	}
	newConn, err := NewLocalAdapter(storageCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = newConn
	logger.Debugf("Created new local storage connection '%s' at '%s'.", name, storageCfg.BaseDir)
	return newConn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, conn := range p.connections {
		_ = conn.Close()
		delete(p.connections, name)
	}
	return nil
}

// Type returns "local".
func (p *LocalProvider) Type() string { return ProviderType }
