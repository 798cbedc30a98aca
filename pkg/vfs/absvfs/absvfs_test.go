package absvfs

import (
	"testing"

	"github.com/absfs/memfs"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/marmos91/forgefs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryFS(t *testing.T) *FileSystem {
	t.Helper()
	fs, err := NewMemory()
	require.NoError(t, err)
	return fs
}

func TestMemoryConformance(t *testing.T) {
	suite := &vfstest.FileSystemTestSuite{
		NewFS: func(t *testing.T) vfs.FileSystem {
			return newMemoryFS(t)
		},
		SkipOwnership: true,
	}
	suite.Run(t)
}

func TestNewWrapsExistingFiler(t *testing.T) {
	mfs, err := memfs.NewFS()
	require.NoError(t, err)
	require.NoError(t, mfs.Mkdir("/seeded", 0755))

	fs := New(mfs)

	id, err := fs.Lookup(t.Context(), fs.RootDir(), "seeded")
	require.NoError(t, err)

	attr, err := fs.GetAttr(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, vfs.FileTypeDirectory, attr.Type)
}

func TestRemovedIDIsStale(t *testing.T) {
	fs := newMemoryFS(t)
	ctx := t.Context()

	id, _, err := fs.Create(ctx, fs.RootDir(), "tmp_obj", vfs.SetAttr{})
	require.NoError(t, err)
	require.NoError(t, fs.Remove(ctx, fs.RootDir(), "tmp_obj"))

	_, err = fs.GetAttr(ctx, id)
	assert.Equal(t, vfs.StatusStale, err)
}

func TestRenameDirectoryOntoFile(t *testing.T) {
	fs := newMemoryFS(t)
	ctx := t.Context()

	_, _, err := fs.Mkdir(ctx, fs.RootDir(), "dir")
	require.NoError(t, err)
	_, _, err = fs.Create(ctx, fs.RootDir(), "file", vfs.SetAttr{})
	require.NoError(t, err)

	err = fs.Rename(ctx, fs.RootDir(), "dir", fs.RootDir(), "file")
	assert.Equal(t, vfs.StatusNotDir, err)

	err = fs.Rename(ctx, fs.RootDir(), "file", fs.RootDir(), "dir")
	assert.Equal(t, vfs.StatusIsDir, err)
}
