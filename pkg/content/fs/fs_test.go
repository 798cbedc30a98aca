package fs

import (
	"context"
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
	contenttesting "github.com/marmos91/forgefs/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSContentStore {
	t.Helper()
	store, err := NewFSContentStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestFSContentStore runs the complete content.Store suite against the
// filesystem store.
func TestFSContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			return newTestStore(t)
		},
	}

	suite.Run(t)
}

func TestFDCacheEviction(t *testing.T) {
	store := newTestStore(t)
	store.fdCache = NewFDCache(2)

	for _, id := range []content.ID{"a", "b", "c"} {
		require.NoError(t, store.WriteAt(t.Context(), id, []byte(id), 0))
	}

	size, maxSize := store.fdCache.Stats()
	assert.Equal(t, 2, size)
	assert.Equal(t, 2, maxSize)

	// The evicted blob is reopened transparently.
	buf := make([]byte, 1)
	n, err := store.ReadAt(t.Context(), "a", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte("a"), buf)
}

func TestDeleteClosesCachedDescriptor(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteAt(t.Context(), "blob", []byte("data"), 0))
	require.NoError(t, store.Delete(t.Context(), "blob"))

	_, ok := store.fdCache.Get("blob")
	assert.False(t, ok)
}

func TestFDCacheClose(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteAt(t.Context(), "blob", []byte("data"), 0))
	file, ok := store.fdCache.Get("blob")
	require.True(t, ok)

	require.NoError(t, store.fdCache.Close())

	size, _ := store.fdCache.Stats()
	assert.Zero(t, size)
	_, err := file.Stat()
	assert.Error(t, err, "descriptor should be closed")

	// The cache stays usable after Close.
	assertReadBack(t, store, "blob", "data")
}

func assertReadBack(t *testing.T, store *FSContentStore, id content.ID, want string) {
	t.Helper()
	buf := make([]byte, len(want))
	n, err := store.ReadAt(t.Context(), id, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf[:n]))
}
