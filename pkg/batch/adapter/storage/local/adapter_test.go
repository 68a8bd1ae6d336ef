package local_test

import (
	"context"
	"errors"
	"testing"

	storageAdapter "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/rorefcat/pkg/batch/adapter/storage/local"
	coreConfig "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *storageAdapter.ObjectStore {
	t.Helper()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: t.TempDir(), BucketName: "staging"}, "test")
	require.NoError(t, err)
	return storageAdapter.NewObjectStore(conn, "")
}

func TestObjectStore_PutGetExists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	tag, err := s.Put(ctx, "contributed/v1.1/ucar/champ/a.nc", []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", tag)

	data, err := s.Get(ctx, "contributed/v1.1/ucar/champ/a.nc")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := s.Exists(ctx, "contributed/v1.1/ucar/champ/a.nc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "contributed/v1.1/ucar/champ/missing.nc")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "missing.nc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storageAdapter.ErrObjectNotExist))
	assert.True(t, errors.Is(err, exception.ErrStorageFatal))

	tag2, err := s.Put(ctx, "contributed/v1.1/ucar/champ/a.nc", []byte("hello!"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, tag, tag2)
}

func TestObjectStore_ListLexicalOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, name := range []string{"a/b.json", "a-c.json", "a/a.json", "b/z.json"} {
		_, err := s.Put(ctx, name, []byte(name), nil)
		require.NoError(t, err)
	}

	names, err := s.List(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a-c.json", "a/a.json", "a/b.json"}, names)

	names, err = s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/a.json", "a/b.json"}, names)

	names, err = s.List(ctx, "nothing/")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestListing_ResumeFromCursor(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, name := range []string{"p/1", "p/2", "p/3", "p/4", "p/5"} {
		_, err := s.Put(ctx, name, []byte(name), nil)
		require.NoError(t, err)
	}

	l := s.NewListing("p/", "", 2)
	page, err := l.Next(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "p/2", l.Cursor())
	assert.False(t, l.Done())

	resumed := s.NewListing("p/", l.Cursor(), 2)
	rest, err := resumed.All(ctx)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, "p/3", rest[0].Name)
	assert.True(t, resumed.Done())
}

func TestResolvePath_Escape(t *testing.T) {
	s := newStore(t)
	_, err := s.Put(context.Background(), "../../etc/passwd", []byte("x"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrStorageFatal))
}

func TestLocalProvider_GetConnection(t *testing.T) {
	cfg := coreConfig.NewConfig()
	cfg.RORefCat.StorageConfigs["default"] = map[string]interface{}{"type": "local", "base_dir": t.TempDir(), "bucket_name": "b"}
	cfg.RORefCat.StorageConfigs["cloud"] = map[string]interface{}{"type": "gcs", "bucket_name": "b"}

	p := local.NewLocalProvider(cfg)
	conn, err := p.GetConnection("default")
	require.NoError(t, err)
	assert.Equal(t, "b", conn.DefaultBucket())

	again, err := p.GetConnection("default")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = p.GetConnection("cloud")
	assert.Error(t, err)
	_, err = p.GetConnection("absent")
	assert.Error(t, err)

	resolver := storageAdapter.NewConnectionResolver(storageAdapter.ResolverParams{
		Providers: []storageAdapter.StorageProvider{p},
		Config:    cfg,
	})
	resolved, err := resolver.ResolveStorageConnection(context.Background(), "default")
	require.NoError(t, err)
	assert.Same(t, conn, resolved)
	assert.NoError(t, resolver.CloseAll())
}

func TestObjectStore_Dirs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, name := range []string{
		"champ/repro2016/level1b/2003/045/x.nc",
		"champ/repro2016/level2/2003/045/y.nc",
		"champ/nrt/level1b/2003/045/z.nc",
		"champ/README",
	} {
		_, err := s.Put(ctx, name, []byte(name), nil)
		require.NoError(t, err)
	}

	dirs, err := s.Dirs(ctx, "champ")
	require.NoError(t, err)
	assert.Equal(t, []string{"champ/nrt/", "champ/repro2016/"}, dirs)

	dirs, err = s.Dirs(ctx, "champ/repro2016/")
	require.NoError(t, err)
	assert.Equal(t, []string{"champ/repro2016/level1b/", "champ/repro2016/level2/"}, dirs)

	dirs, err = s.Dirs(ctx, "cosmic1/")
	require.NoError(t, err)
	assert.Empty(t, dirs)
}
