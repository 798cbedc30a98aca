package localfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	return fs
}

// ============================================================================
// Conformance
// ============================================================================

func TestLocalFSConformance(t *testing.T) {
	suite := &vfstest.FileSystemTestSuite{
		NewFS: func(t *testing.T) vfs.FileSystem {
			return newTestFS(t)
		},
		SkipOwnership: os.Geteuid() != 0,
	}
	suite.Run(t)
}

// ============================================================================
// Backend-specific behaviour
// ============================================================================

func TestNew(t *testing.T) {
	t.Run("MissingRoot", func(t *testing.T) {
		_, err := New(filepath.Join(t.TempDir(), "absent"))
		assert.Error(t, err)
	})

	t.Run("RootIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		_, err := New(file)
		assert.Error(t, err)
	})
}

func TestExternalChangesAreVisible(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), "HEAD"), []byte("ref: refs/heads/main\n"), 0644))

	id, err := fs.Lookup(ctx, fs.RootDir(), "HEAD")
	require.NoError(t, err)

	data, eof, err := fs.Read(ctx, id, 0, 100)
	require.NoError(t, err)
	assert.True(t, eof)
	assert.Equal(t, "ref: refs/heads/main\n", string(data))

	require.NoError(t, os.Remove(filepath.Join(fs.Root(), "HEAD")))

	_, err = fs.GetAttr(ctx, id)
	assert.Equal(t, vfs.StatusNoEnt, vfs.StatusOf(err))
}

func TestRemovedIDIsStale(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	id, _, err := fs.Create(ctx, fs.RootDir(), "gone", vfs.SetAttr{})
	require.NoError(t, err)
	require.NoError(t, fs.Remove(ctx, fs.RootDir(), "gone"))

	_, err = fs.GetAttr(ctx, id)
	assert.Equal(t, vfs.StatusStale, err)
}

func TestLookupDotDot(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	dir, _, err := fs.Mkdir(ctx, fs.RootDir(), "refs")
	require.NoError(t, err)
	sub, _, err := fs.Mkdir(ctx, dir, "heads")
	require.NoError(t, err)

	parent, err := fs.Lookup(ctx, sub, "..")
	require.NoError(t, err)
	assert.Equal(t, dir, parent)

	root, err := fs.Lookup(ctx, dir, "..")
	require.NoError(t, err)
	assert.Equal(t, fs.RootDir(), root)

	// The root is its own parent.
	root, err = fs.Lookup(ctx, fs.RootDir(), "..")
	require.NoError(t, err)
	assert.Equal(t, fs.RootDir(), root)
}

func TestRenameIntoOwnSubtree(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	dir, _, err := fs.Mkdir(ctx, fs.RootDir(), "a")
	require.NoError(t, err)

	err = fs.Rename(ctx, fs.RootDir(), "a", dir, "b")
	assert.Equal(t, vfs.StatusInval, err)
}

func TestReadDirUnknownCookie(t *testing.T) {
	fs := newTestFS(t)

	_, err := fs.ReadDir(t.Context(), fs.RootDir(), vfs.FileID(9999), 10)
	assert.Equal(t, vfs.StatusBadCookie, err)
}

func TestReadDirResumesAfterRemovedEntry(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	for _, name := range []string{"a", "b", "c", "d"} {
		_, _, err := fs.Create(ctx, fs.RootDir(), name, vfs.SetAttr{})
		require.NoError(t, err)
	}

	page, err := fs.ReadDir(ctx, fs.RootDir(), 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.False(t, page.EOF)
	cookie := page.Entries[1].FileID

	// Deleting the cookie's file through the host keeps its binding, so the
	// listing resumes by name.
	require.NoError(t, os.Remove(filepath.Join(fs.Root(), "b")))

	page, err = fs.ReadDir(ctx, fs.RootDir(), cookie, 10)
	require.NoError(t, err)
	assert.True(t, page.EOF)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "c", page.Entries[0].Name)
	assert.Equal(t, "d", page.Entries[1].Name)
}

func TestFSStat(t *testing.T) {
	fs := newTestFS(t)

	st, err := fs.FSStat(t.Context(), fs.RootDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.TotalBytes, st.FreeBytes)
}

func TestSymlinkToHostFileIsNotFollowed(t *testing.T) {
	fs := newTestFS(t)
	ctx := t.Context()

	secret := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secret, []byte("host-secret"), 0644))

	_, _, err := fs.Symlink(ctx, fs.RootDir(), "escape", secret, vfs.SetAttr{})
	require.NoError(t, err)
	id, err := fs.Lookup(ctx, fs.RootDir(), "escape")
	require.NoError(t, err)

	t.Run("Read", func(t *testing.T) {
		data, _, err := fs.Read(ctx, id, 0, 64)
		assert.Equal(t, vfs.StatusInval, err)
		assert.Empty(t, data)
	})

	t.Run("Write", func(t *testing.T) {
		_, err := fs.Write(ctx, id, 0, []byte("overwritten"))
		assert.Equal(t, vfs.StatusInval, err)

		got, err := os.ReadFile(secret)
		require.NoError(t, err)
		assert.Equal(t, "host-secret", string(got))
	})
}
