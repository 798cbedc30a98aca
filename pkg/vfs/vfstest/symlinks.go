package vfstest

import (
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSymlinkTests covers Symlink and ReadLink, and checks that Read and Write
// act on the link itself rather than its target.
func (suite *FileSystemTestSuite) RunSymlinkTests(t *testing.T) {
	t.Run("Symlink_RoundTrip", suite.testSymlinkRoundTrip)
	t.Run("ReadLink_NotLink", suite.testReadLinkNotLink)
	t.Run("Symlink_Exists", suite.testSymlinkExists)
	t.Run("Read_Symlink", suite.testReadSymlink)
	t.Run("Write_Symlink", suite.testWriteSymlink)
}

func (suite *FileSystemTestSuite) testSymlinkRoundTrip(t *testing.T) {
	fs := suite.NewFS(t)

	id, attr, err := fs.Symlink(testContext(), fs.RootDir(), "current", "refs/heads/main", vfs.SetAttr{})
	require.NoError(t, err)
	require.NotNil(t, attr)
	assert.Equal(t, vfs.FileTypeSymlink, attr.Type)

	found, err := fs.Lookup(testContext(), fs.RootDir(), "current")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	target, err := fs.ReadLink(testContext(), id)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", target)
}

func (suite *FileSystemTestSuite) testReadLinkNotLink(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "plain")

	_, err := fs.ReadLink(testContext(), id)
	assertStatus(t, vfs.StatusInval, err)
}

func (suite *FileSystemTestSuite) testSymlinkExists(t *testing.T) {
	fs := suite.NewFS(t)

	mustCreate(t, fs, fs.RootDir(), "taken")

	_, _, err := fs.Symlink(testContext(), fs.RootDir(), "taken", "elsewhere", vfs.SetAttr{})
	assertStatus(t, vfs.StatusExist, err)
}

// linkToFile creates "packed-refs" with content and a symlink "alias" that
// points at it, and returns the ids of both.
func linkToFile(t *testing.T, fs vfs.FileSystem) (file, link vfs.FileID) {
	t.Helper()

	file = mustCreate(t, fs, fs.RootDir(), "packed-refs")
	mustWrite(t, fs, file, 0, []byte("# pack-refs"))

	link, _, err := fs.Symlink(testContext(), fs.RootDir(), "alias", "packed-refs", vfs.SetAttr{})
	require.NoError(t, err)
	return file, link
}

func (suite *FileSystemTestSuite) testReadSymlink(t *testing.T) {
	fs := suite.NewFS(t)

	_, link := linkToFile(t, fs)

	data, _, err := fs.Read(testContext(), link, 0, 64)
	assertStatus(t, vfs.StatusInval, err)
	assert.Empty(t, data)
}

func (suite *FileSystemTestSuite) testWriteSymlink(t *testing.T) {
	fs := suite.NewFS(t)

	file, link := linkToFile(t, fs)

	_, err := fs.Write(testContext(), link, 0, []byte("clobbered"))
	assertStatus(t, vfs.StatusInval, err)

	data, _ := mustRead(t, fs, file, 0, 64)
	assert.Equal(t, []byte("# pack-refs"), data)
}
