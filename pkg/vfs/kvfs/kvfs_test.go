package kvfs

import (
	"context"
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
	"github.com/marmos91/forgefs/pkg/content/memory"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T, store content.Store) *FileSystem {
	t.Helper()
	if store == nil {
		store = memory.NewMemoryContentStore(0)
	}

	fs, err := New(context.Background(), Config{InMemory: true, Content: store, Fsid: 42})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

// ============================================================================
// Conformance
// ============================================================================

func TestConformance(t *testing.T) {
	suite := &vfstest.FileSystemTestSuite{
		NewFS: func(t *testing.T) vfs.FileSystem {
			return newTestFS(t, nil)
		},
	}
	suite.Run(t)
}

// ============================================================================
// Persistence
// ============================================================================

func TestReopenKeepsIDs(t *testing.T) {
	dir := t.TempDir()
	store := memory.NewMemoryContentStore(0)
	ctx := t.Context()

	fs, err := New(ctx, Config{DBPath: dir, Content: store})
	require.NoError(t, err)

	repo, _, err := fs.Mkdir(ctx, fs.RootDir(), "repo.git")
	require.NoError(t, err)
	head, _, err := fs.Create(ctx, repo, "HEAD", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, head, 0, []byte("ref: refs/heads/main\n"))
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	fs, err = New(ctx, Config{DBPath: dir, Content: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	id, err := vfs.PathToID(ctx, fs, "repo.git/HEAD")
	require.NoError(t, err)
	assert.Equal(t, head, id)

	data, eof, err := fs.Read(ctx, id, 0, 100)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, "ref: refs/heads/main\n", string(data))

	// New ids never collide with ones handed out before the restart.
	other, _, err := fs.Create(ctx, repo, "config", vfs.SetAttr{})
	require.NoError(t, err)
	assert.NotEqual(t, head, other)
	assert.NotEqual(t, repo, other)
}

// ============================================================================
// Content lifecycle
// ============================================================================

func TestRemoveDeletesContent(t *testing.T) {
	store := memory.NewMemoryContentStore(0)
	fs := newTestFS(t, store)
	ctx := t.Context()

	id, _, err := fs.Create(ctx, fs.RootDir(), "pack.idx", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, id, 0, []byte("idx"))
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.ContentCount)

	require.NoError(t, fs.Remove(ctx, fs.RootDir(), "pack.idx"))

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.ContentCount)

	_, err = fs.GetAttr(ctx, id)
	assert.Equal(t, vfs.StatusStale, err)
}

func TestContentIDs(t *testing.T) {
	store := memory.NewMemoryContentStore(0)
	fs := newTestFS(t, store)
	ctx := t.Context()

	ids, err := fs.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	repo, _, err := fs.Mkdir(ctx, fs.RootDir(), "repo.git")
	require.NoError(t, err)
	_, _, err = fs.Symlink(ctx, repo, "current", "repo.git", vfs.SetAttr{})
	require.NoError(t, err)
	config, _, err := fs.Create(ctx, repo, "config", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, config, 0, []byte("[core]\n"))
	require.NoError(t, err)
	_, _, err = fs.Create(ctx, repo, "description", vfs.SetAttr{})
	require.NoError(t, err)

	// Directories and symlinks carry no blob; an unwritten file still does.
	ids, err = fs.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	stored, err := store.ListIDs(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Contains(t, ids, stored[0])

	require.NoError(t, fs.Remove(ctx, repo, "config"))

	ids, err = fs.ContentIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.NotContains(t, ids, stored[0])
}

func TestRenameOverFileDeletesReplacedContent(t *testing.T) {
	store := memory.NewMemoryContentStore(0)
	fs := newTestFS(t, store)
	ctx := t.Context()

	src, _, err := fs.Create(ctx, fs.RootDir(), "index.lock", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, src, 0, []byte("new"))
	require.NoError(t, err)

	dst, _, err := fs.Create(ctx, fs.RootDir(), "index", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, dst, 0, []byte("old"))
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, fs.RootDir(), "index.lock", fs.RootDir(), "index"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.ContentCount)

	id, err := fs.Lookup(ctx, fs.RootDir(), "index")
	require.NoError(t, err)
	assert.Equal(t, src, id)
}

func TestSparseReadIsZeroFilled(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	size := uint64(8)
	id, _, err := fs.Create(ctx, fs.RootDir(), "sparse", vfs.SetAttr{Size: &size})
	require.NoError(t, err)

	data, eof, err := fs.Read(ctx, id, 0, 16)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, make([]byte, 8), data)
}

func TestContentTooLargeIsFBig(t *testing.T) {
	fs := newTestFS(t, memory.NewMemoryContentStore(4))
	ctx := t.Context()

	id, _, err := fs.Create(ctx, fs.RootDir(), "big", vfs.SetAttr{})
	require.NoError(t, err)

	_, err = fs.Write(ctx, id, 0, []byte("too large"))
	assert.Equal(t, vfs.StatusFBig, vfs.StatusOf(err))

	attr, err := fs.GetAttr(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attr.Size)
}

// ============================================================================
// Namespace
// ============================================================================

func TestLookupDotDot(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	objects, _, err := fs.Mkdir(ctx, fs.RootDir(), "objects")
	require.NoError(t, err)

	parent, err := fs.Lookup(ctx, objects, "..")
	require.NoError(t, err)
	assert.Equal(t, fs.RootDir(), parent)

	parent, err = fs.Lookup(ctx, fs.RootDir(), "..")
	require.NoError(t, err)
	assert.Equal(t, fs.RootDir(), parent)
}

func TestRenameIntoOwnSubtree(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	a, _, err := fs.Mkdir(ctx, fs.RootDir(), "a")
	require.NoError(t, err)
	_, _, err = fs.Mkdir(ctx, a, "b")
	require.NoError(t, err)
	b, err := vfs.PathToID(ctx, fs, "a/b")
	require.NoError(t, err)

	err = fs.Rename(ctx, fs.RootDir(), "a", b, "a")
	assert.Equal(t, vfs.StatusInval, err)
}

func TestReadDirBadCookie(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	dir, _, err := fs.Mkdir(ctx, fs.RootDir(), "refs")
	require.NoError(t, err)
	elsewhere, _, err := fs.Create(ctx, fs.RootDir(), "HEAD", vfs.SetAttr{})
	require.NoError(t, err)

	_, err = fs.ReadDir(ctx, dir, elsewhere, 10)
	assert.Equal(t, vfs.StatusBadCookie, err)

	_, err = fs.ReadDir(ctx, dir, vfs.FileID(9999), 10)
	assert.Equal(t, vfs.StatusBadCookie, err)
}

func TestMutationsTouchParent(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	before, err := fs.GetAttr(ctx, fs.RootDir())
	require.NoError(t, err)

	_, _, err = fs.Create(ctx, fs.RootDir(), "packed-refs", vfs.SetAttr{})
	require.NoError(t, err)

	after, err := fs.GetAttr(ctx, fs.RootDir())
	require.NoError(t, err)
	assert.False(t, after.Mtime.Before(before.Mtime))
	assert.Equal(t, uint64(42), after.Fsid)
}

func TestFSStat(t *testing.T) {
	fs := newTestFS(t, nil)
	ctx := t.Context()

	id, _, err := fs.Create(ctx, fs.RootDir(), "blob", vfs.SetAttr{})
	require.NoError(t, err)
	_, err = fs.Write(ctx, id, 0, make([]byte, 100))
	require.NoError(t, err)

	stat, err := fs.FSStat(ctx, fs.RootDir())
	require.NoError(t, err)
	assert.Equal(t, uint64(defaultCapacity), stat.TotalBytes)
	assert.Equal(t, uint64(defaultCapacity-100), stat.FreeBytes)
	assert.Equal(t, uint64(defaultMaxFiles-2), stat.FreeFiles)
}

func TestNewRequiresContentStore(t *testing.T) {
	_, err := New(t.Context(), Config{InMemory: true})
	assert.Error(t, err)
}
