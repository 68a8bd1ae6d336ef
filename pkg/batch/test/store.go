// Package test provides fixtures shared by the package tests: local buckets,
// migrated SQLite metadata stores, connection resolvers and fast retry settings.
package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
)

// NewLocalStore returns an ObjectStore on a fresh temporary directory whose
// default bucket is bucket.
func NewLocalStore(t testing.TB, bucket string) *storageAdapter.ObjectStore {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: local.ProviderType, BaseDir: t.TempDir(), BucketName: bucket}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return storageAdapter.NewObjectStore(conn, "")
}

// FastRetry returns a retry configuration with millisecond backoff.
func FastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{MaxAttempts: attempts, InitialInterval: 1, MaxInterval: 4, Factor: 2}
}
