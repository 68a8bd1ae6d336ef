package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

const module = "storage"

// ObjectStore is a StorageConnection bound to one bucket.
// Every error it returns is a StorageTransientError or a StorageFatalError;
// a missing object is a StorageFatalError that also matches ErrObjectNotExist.
type ObjectStore struct {
	conn   StorageConnection
	bucket string
}

// NewObjectStore binds conn to bucket. An empty bucket selects the connection's default bucket.
func NewObjectStore(conn StorageConnection, bucket string) *ObjectStore {
	if bucket == "" {
		bucket = conn.DefaultBucket()
	}
	return &ObjectStore{conn: conn, bucket: bucket}
}

// Bucket returns the bound bucket.
func (s *ObjectStore) Bucket() string { return s.bucket }

// URI returns a printable location of p, e.g. "gcs://bucket/a/b".
func (s *ObjectStore) URI(p string) string {
	return s.conn.Type() + "://" + path.Join(s.bucket, p)
}

// WithBucket returns a store bound to another bucket of the same connection.
func (s *ObjectStore) WithBucket(bucket string) *ObjectStore {
	return &ObjectStore{conn: s.conn, bucket: bucket}
}

func (s *ObjectStore) classify(op, p string, err error) error {
	return exception.ClassifyStorageError(module, op+" "+s.URI(p), p, err, ErrObjectNotExist)
}

// ListAttrs returns the attributes of every object under prefix, in lexical order.
func (s *ObjectStore) ListAttrs(ctx context.Context, prefix string) ([]ObjectAttrs, error) {
	var out []ObjectAttrs
	err := s.conn.ListObjects(ctx, s.bucket, ListQuery{Prefix: prefix}, func(a ObjectAttrs) error {
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, s.classify("list", prefix, err)
	}
	return out, nil
}

// List returns the names of every object under prefix, in lexical order.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	attrs, err := s.ListAttrs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	return names, nil
}

// Dirs returns the immediate "sub-directories" of prefix, each ending with "/".
func (s *ObjectStore) Dirs(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []string
	err := s.conn.ListObjects(ctx, s.bucket, ListQuery{Prefix: prefix, Delimiter: "/"}, func(a ObjectAttrs) error {
		if a.IsPrefix {
			out = append(out, a.Name)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify("list", prefix, err)
	}
	return out, nil
}

// Open returns a reader over the object at p.
func (s *ObjectStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	rc, err := s.conn.Download(ctx, s.bucket, p)
	if err != nil {
		return nil, s.classify("get", p, err)
	}
	return rc, nil
}

// Get returns the content of the object at p.
func (s *ObjectStore) Get(ctx context.Context, p string) ([]byte, error) {
	rc, err := s.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, s.classify("read", p, err)
	}
	return data, nil
}

// Put writes data at p and returns the new version tag.
func (s *ObjectStore) Put(ctx context.Context, p string, data []byte, metadata map[string]string) (string, error) {
	attrs, err := s.PutReader(ctx, p, bytes.NewReader(data), metadata)
	if err != nil {
		return "", err
	}
	return attrs.ETag, nil
}

// PutReader streams r to p.
func (s *ObjectStore) PutReader(ctx context.Context, p string, r io.Reader, metadata map[string]string) (ObjectAttrs, error) {
	attrs, err := s.conn.Upload(ctx, s.bucket, p, r, ContentTypeOf(p), metadata)
	if err != nil {
		return ObjectAttrs{}, s.classify("put", p, err)
	}
	return attrs, nil
}

// Stat returns the attributes of the object at p.
func (s *ObjectStore) Stat(ctx context.Context, p string) (ObjectAttrs, error) {
	attrs, err := s.conn.Stat(ctx, s.bucket, p)
	if err != nil {
		return ObjectAttrs{}, s.classify("stat", p, err)
	}
	return attrs, nil
}

// Exists reports whether an object is stored at p.
func (s *ObjectStore) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.conn.Stat(ctx, s.bucket, p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrObjectNotExist) {
		return false, nil
	}
	return false, s.classify("stat", p, err)
}

// Delete removes the object at p.
func (s *ObjectStore) Delete(ctx context.Context, p string) error {
	if err := s.conn.DeleteObject(ctx, s.bucket, p); err != nil {
		return s.classify("delete", p, err)
	}
	return nil
}

// ContentTypeOf guesses the content type from the object name.
func ContentTypeOf(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".nc", ".nc4":
		return "application/x-netcdf"
	case ".log", ".txt":
		return "text/plain"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// SplitURI splits "scheme://bucket/path" into its parts. ok is false for plain paths.
func SplitURI(uri string) (scheme, bucket, p string, ok bool) {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return "", "", uri, false
	}
	scheme = uri[:i]
	rest := uri[i+3:]
	bucket, p, _ = strings.Cut(rest, "/")
	return scheme, bucket, p, bucket != ""
}
