package preview

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StoreLookup(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	require.NoError(t, err)

	url := "https://arcenciel.io/uploads/a/very/long/path/that/exceeds/the/default/bitcask/key/size/limit/image.thumbnail.webp"
	path, err := cache.Store(url, []byte("webp"), "image/webp")
	require.NoError(t, err)
	assert.FileExists(t, path)

	gotPath, data, ct, ok := cache.Lookup(url)
	require.True(t, ok)
	assert.Equal(t, path, gotPath)
	assert.Equal(t, "webp", string(data))
	assert.Equal(t, "image/webp", ct)

	_, _, _, ok = cache.Lookup("https://elsewhere/x.webp")
	assert.False(t, ok)

	require.NoError(t, cache.Close())

	// The index survives a reopen.
	reopened, err := OpenCache(dir)
	require.NoError(t, err)
	defer reopened.Close()
	_, _, _, ok = reopened.Lookup(url)
	assert.True(t, ok)
}

func TestCache_MissingFileIsForgotten(t *testing.T) {
	cache, err := OpenCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	path, err := cache.Store("u", []byte("x"), "image/png")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, _, _, ok := cache.Lookup("u")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}
