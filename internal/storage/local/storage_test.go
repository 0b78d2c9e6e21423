// Package local_test tests the local filesystem cache storage.
package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/taskshell/internal/hash/sha256"
	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		_, err := local.New(local.Config{BaseDir: dir}, sha256.New())
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, sha256.New())
		assert.Error(t, err)
	})

	t.Run("MissingHasher", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: t.TempDir()}, nil)
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file}, sha256.New())
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{BaseDir: tempDir}, sha256.New())
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
	require.NoError(t, err)

	cache, err := store.Open(ctx, "shell-v1")
	require.NoError(t, err)
	require.Equal(t, "shell-v1", cache.Name())

	resp := offline.Response{
		StatusCode: 200,
		Header:     map[string][]string{"Content-Type": {"text/css"}},
		Body:       []byte("body{}"),
	}
	require.NoError(t, cache.Put(ctx, "/a.css", resp))
	require.NoError(t, cache.Put(ctx, "/b.png", offline.Response{StatusCode: 200, Body: []byte{0x89, 0x50}}))

	got, err := cache.Match(ctx, "/a.css")
	require.NoError(t, err)
	assert.Equal(t, "/a.css", got.URL)
	assert.Equal(t, "text/css", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("body{}"), got.Body)

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.css", "/b.png"}, keys)

	_, err = cache.Match(ctx, "/missing.js")
	assert.True(t, errors.Is(err, offline.ErrNotFound))
}

func TestStorageGenerations(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
	require.NoError(t, err)

	for _, name := range []string{"v2", "v1"} {
		_, err := store.Open(ctx, name)
		require.NoError(t, err)
	}
	names, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v2"}, names)

	deleted, err := store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err := store.Has(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorageLookupAndEntryDelete(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base}, sha256.New())
	require.NoError(t, err)

	_, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(filepath.Join(base, "v1"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "lookup must not create the directory")

	opened, err := store.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, opened.Put(ctx, "/a.css", offline.Response{StatusCode: 200}))
	require.NoError(t, opened.Put(ctx, "/b.png", offline.Response{StatusCode: 200}))

	cache, ok, err := store.Lookup(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, cache.Delete(ctx, "/a.css"))
	require.NoError(t, cache.Delete(ctx, "/a.css"))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.png"}, keys)
}

func TestStorageRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, sha256.New())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../escape", `a\b`} {
		_, err := store.Open(ctx, name)
		assert.Error(t, err, name)
	}
}
