package vfstest

import (
	"fmt"
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests covers ReadDir paging and the simple listing.
func (suite *FileSystemTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("ReadDir_Empty", suite.testReadDirEmpty)
	t.Run("ReadDir_AttrsPopulated", suite.testReadDirAttrsPopulated)
	t.Run("ReadDir_Paging", suite.testReadDirPaging)
	t.Run("ReadDir_Deterministic", suite.testReadDirDeterministic)
	t.Run("ReadDirSimple_MatchesReadDir", suite.testReadDirSimpleMatches)
	t.Run("Mkdir_Exists", suite.testMkdirExists)
	t.Run("PathToID", suite.testPathToID)
}

func (suite *FileSystemTestSuite) testReadDirEmpty(t *testing.T) {
	fs := suite.NewFS(t)

	page, err := fs.ReadDir(testContext(), fs.RootDir(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.True(t, page.EOF)
}

func (suite *FileSystemTestSuite) testReadDirAttrsPopulated(t *testing.T) {
	fs := suite.NewFS(t)

	file := mustCreate(t, fs, fs.RootDir(), "description")
	mustWrite(t, fs, file, 0, []byte("forge repo"))
	dir := mustMkdir(t, fs, fs.RootDir(), "info")

	page, err := fs.ReadDir(testContext(), fs.RootDir(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.EOF)

	for _, e := range page.Entries {
		assert.Equal(t, e.FileID, e.Attr.FileID, "entry %s", e.Name)
		switch e.Name {
		case "description":
			assert.Equal(t, file, e.FileID)
			assert.Equal(t, vfs.FileTypeRegular, e.Attr.Type)
			assert.Equal(t, uint64(10), e.Attr.Size)
		case "info":
			assert.Equal(t, dir, e.FileID)
			assert.Equal(t, vfs.FileTypeDirectory, e.Attr.Type)
		default:
			t.Errorf("unexpected entry %q", e.Name)
		}
	}
}

func (suite *FileSystemTestSuite) testReadDirPaging(t *testing.T) {
	fs := suite.NewFS(t)

	var want []string
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("obj-%02d", i)
		mustCreate(t, fs, fs.RootDir(), name)
		want = append(want, name)
	}

	var got []string
	cookie := vfs.FileID(0)
	for pages := 0; ; pages++ {
		require.Less(t, pages, 20, "listing did not terminate")

		page, err := fs.ReadDir(testContext(), fs.RootDir(), cookie, 7)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Entries), 7)

		got = append(got, names(page.Entries)...)
		if page.EOF {
			break
		}
		require.NotEmpty(t, page.Entries, "non-final page must make progress")
		cookie = page.Entries[len(page.Entries)-1].FileID
	}

	assert.ElementsMatch(t, want, got)
}

func (suite *FileSystemTestSuite) testReadDirDeterministic(t *testing.T) {
	fs := suite.NewFS(t)

	for _, name := range []string{"c", "a", "b", "e", "d"} {
		mustCreate(t, fs, fs.RootDir(), name)
	}

	first, err := fs.ReadDir(testContext(), fs.RootDir(), 0, 100)
	require.NoError(t, err)
	second, err := fs.ReadDir(testContext(), fs.RootDir(), 0, 100)
	require.NoError(t, err)

	assert.Equal(t, names(first.Entries), names(second.Entries))
}

func (suite *FileSystemTestSuite) testReadDirSimpleMatches(t *testing.T) {
	fs := suite.NewFS(t)

	for _, name := range []string{"HEAD", "config", "objects"} {
		mustCreate(t, fs, fs.RootDir(), name)
	}

	full, err := fs.ReadDir(testContext(), fs.RootDir(), 0, 100)
	require.NoError(t, err)
	simple, err := vfs.ReadDirSimple(testContext(), fs, fs.RootDir(), 0, 100)
	require.NoError(t, err)

	require.Len(t, simple.Entries, len(full.Entries))
	for i := range full.Entries {
		assert.Equal(t, full.Entries[i].FileID, simple.Entries[i].FileID)
		assert.Equal(t, full.Entries[i].Name, simple.Entries[i].Name)
	}
	assert.Equal(t, full.EOF, simple.EOF)
}

func (suite *FileSystemTestSuite) testMkdirExists(t *testing.T) {
	fs := suite.NewFS(t)

	mustMkdir(t, fs, fs.RootDir(), "branches")

	_, _, err := fs.Mkdir(testContext(), fs.RootDir(), "branches")
	assertStatus(t, vfs.StatusExist, err)
}

func (suite *FileSystemTestSuite) testPathToID(t *testing.T) {
	fs := suite.NewFS(t)

	repo := mustMkdir(t, fs, fs.RootDir(), "repo.git")
	refs := mustMkdir(t, fs, repo, "refs")

	id, err := vfs.PathToID(testContext(), fs, "/repo.git/refs")
	require.NoError(t, err)
	assert.Equal(t, refs, id)

	root, err := vfs.PathToID(testContext(), fs, "/")
	require.NoError(t, err)
	assert.Equal(t, fs.RootDir(), root)

	_, err = vfs.PathToID(testContext(), fs, "/repo.git/missing")
	assertStatus(t, vfs.StatusNoEnt, err)
}
