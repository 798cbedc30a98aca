package vfstest

import (
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunNamespaceTests covers lookup, create, remove and rename.
func (suite *FileSystemTestSuite) RunNamespaceTests(t *testing.T) {
	t.Run("Root_IsDirectory", suite.testRootIsDirectory)
	t.Run("Lookup_Missing", suite.testLookupMissing)
	t.Run("Lookup_FindsCreated", suite.testLookupFindsCreated)
	t.Run("Lookup_NotDirectory", suite.testLookupNotDirectory)
	t.Run("Create_ExistingAppliesAttrs", suite.testCreateExistingAppliesAttrs)
	t.Run("CreateExclusive_Exists", suite.testCreateExclusiveExists)
	t.Run("Remove_File", suite.testRemoveFile)
	t.Run("Remove_NonEmptyDirectory", suite.testRemoveNonEmptyDirectory)
	t.Run("Remove_Missing", suite.testRemoveMissing)
	t.Run("Rename_KeepsID", suite.testRenameKeepsID)
	t.Run("Rename_ReplacesTarget", suite.testRenameReplacesTarget)
	t.Run("Rename_AcrossDirectories", suite.testRenameAcrossDirectories)
}

func (suite *FileSystemTestSuite) testRootIsDirectory(t *testing.T) {
	fs := suite.NewFS(t)

	attr := mustGetAttr(t, fs, fs.RootDir())
	assert.Equal(t, vfs.FileTypeDirectory, attr.Type)
	assert.Equal(t, fs.RootDir(), attr.FileID)
	assert.Equal(t, vfs.ReadWrite, fs.Capabilities())
}

func (suite *FileSystemTestSuite) testLookupMissing(t *testing.T) {
	fs := suite.NewFS(t)

	_, err := fs.Lookup(testContext(), fs.RootDir(), "nope")
	assertStatus(t, vfs.StatusNoEnt, err)
}

func (suite *FileSystemTestSuite) testLookupFindsCreated(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "HEAD")

	found, err := fs.Lookup(testContext(), fs.RootDir(), "HEAD")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	attr := mustGetAttr(t, fs, id)
	assert.Equal(t, vfs.FileTypeRegular, attr.Type)
	assert.Equal(t, id, attr.FileID)
	assert.Zero(t, attr.Size)
}

func (suite *FileSystemTestSuite) testLookupNotDirectory(t *testing.T) {
	fs := suite.NewFS(t)

	file := mustCreate(t, fs, fs.RootDir(), "config")

	_, err := fs.Lookup(testContext(), file, "child")
	assertStatus(t, vfs.StatusNotDir, err)
}

func (suite *FileSystemTestSuite) testCreateExistingAppliesAttrs(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "packed-refs")
	mustWrite(t, fs, id, 0, []byte("0123456789"))

	size := uint64(0)
	again, attr, err := fs.Create(testContext(), fs.RootDir(), "packed-refs", vfs.SetAttr{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Zero(t, attr.Size)
}

func (suite *FileSystemTestSuite) testCreateExclusiveExists(t *testing.T) {
	fs := suite.NewFS(t)

	id, err := fs.CreateExclusive(testContext(), fs.RootDir(), "index.lock")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = fs.CreateExclusive(testContext(), fs.RootDir(), "index.lock")
	assertStatus(t, vfs.StatusExist, err)
}

func (suite *FileSystemTestSuite) testRemoveFile(t *testing.T) {
	fs := suite.NewFS(t)

	mustCreate(t, fs, fs.RootDir(), "ORIG_HEAD")

	require.NoError(t, fs.Remove(testContext(), fs.RootDir(), "ORIG_HEAD"))

	_, err := fs.Lookup(testContext(), fs.RootDir(), "ORIG_HEAD")
	assertStatus(t, vfs.StatusNoEnt, err)
}

func (suite *FileSystemTestSuite) testRemoveNonEmptyDirectory(t *testing.T) {
	fs := suite.NewFS(t)

	dir := mustMkdir(t, fs, fs.RootDir(), "objects")
	mustCreate(t, fs, dir, "pack")

	err := fs.Remove(testContext(), fs.RootDir(), "objects")
	assertStatus(t, vfs.StatusNotEmpty, err)

	require.NoError(t, fs.Remove(testContext(), dir, "pack"))
	require.NoError(t, fs.Remove(testContext(), fs.RootDir(), "objects"))
}

func (suite *FileSystemTestSuite) testRemoveMissing(t *testing.T) {
	fs := suite.NewFS(t)

	err := fs.Remove(testContext(), fs.RootDir(), "ghost")
	assertStatus(t, vfs.StatusNoEnt, err)
}

func (suite *FileSystemTestSuite) testRenameKeepsID(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "index.lock")
	mustWrite(t, fs, id, 0, []byte("DIRC"))

	require.NoError(t, fs.Rename(testContext(), fs.RootDir(), "index.lock", fs.RootDir(), "index"))

	_, err := fs.Lookup(testContext(), fs.RootDir(), "index.lock")
	assertStatus(t, vfs.StatusNoEnt, err)

	renamed, err := fs.Lookup(testContext(), fs.RootDir(), "index")
	require.NoError(t, err)
	assert.Equal(t, id, renamed)

	data, _ := mustRead(t, fs, renamed, 0, 16)
	assert.Equal(t, []byte("DIRC"), data)
}

func (suite *FileSystemTestSuite) testRenameReplacesTarget(t *testing.T) {
	fs := suite.NewFS(t)

	src := mustCreate(t, fs, fs.RootDir(), "new")
	mustWrite(t, fs, src, 0, []byte("new"))
	dst := mustCreate(t, fs, fs.RootDir(), "old")
	mustWrite(t, fs, dst, 0, []byte("old contents"))

	require.NoError(t, fs.Rename(testContext(), fs.RootDir(), "new", fs.RootDir(), "old"))

	id, err := fs.Lookup(testContext(), fs.RootDir(), "old")
	require.NoError(t, err)

	data, eof := mustRead(t, fs, id, 0, 64)
	assert.Equal(t, []byte("new"), data)
	assert.True(t, eof)
}

func (suite *FileSystemTestSuite) testRenameAcrossDirectories(t *testing.T) {
	fs := suite.NewFS(t)

	refs := mustMkdir(t, fs, fs.RootDir(), "refs")
	heads := mustMkdir(t, fs, refs, "heads")
	tmp := mustCreate(t, fs, fs.RootDir(), "main.lock")

	require.NoError(t, fs.Rename(testContext(), fs.RootDir(), "main.lock", heads, "main"))

	found, err := fs.Lookup(testContext(), heads, "main")
	require.NoError(t, err)
	assert.Equal(t, tmp, found)

	// Children of a renamed directory stay reachable under the new name.
	require.NoError(t, fs.Rename(testContext(), fs.RootDir(), "refs", fs.RootDir(), "refs2"))

	moved, err := fs.Lookup(testContext(), fs.RootDir(), "refs2")
	require.NoError(t, err)
	movedHeads, err := fs.Lookup(testContext(), moved, "heads")
	require.NoError(t, err)
	assert.Equal(t, heads, movedHeads)

	still, err := fs.Lookup(testContext(), movedHeads, "main")
	require.NoError(t, err)
	assert.Equal(t, tmp, still)
}
