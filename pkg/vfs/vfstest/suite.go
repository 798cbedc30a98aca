// Package vfstest is a conformance suite for vfs.FileSystem backends.
package vfstest

import (
	"context"
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FileSystemTestSuite checks the vfs.FileSystem contract, not implementation
// details, so every backend can share it.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &vfstest.FileSystemTestSuite{
//	        NewFS: func(t *testing.T) vfs.FileSystem {
//	            return mybackend.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type FileSystemTestSuite struct {
	// NewFS returns a fresh, empty, read-write backend for each test.
	NewFS func(t *testing.T) vfs.FileSystem

	// SkipOwnership skips the UID/GID checks for backends that cannot change
	// ownership as the test user.
	SkipOwnership bool
}

// Run executes all tests in the suite.
func (suite *FileSystemTestSuite) Run(t *testing.T) {
	t.Run("Namespace", suite.RunNamespaceTests)
	t.Run("Data", suite.RunDataTests)
	t.Run("Attributes", suite.RunAttributeTests)
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Symlinks", suite.RunSymlinkTests)
}

func testContext() context.Context {
	return context.Background()
}

// ============================================================================
// Helpers
// ============================================================================

func mustCreate(t *testing.T, fs vfs.FileSystem, dir vfs.FileID, name string) vfs.FileID {
	t.Helper()
	id, _, err := fs.Create(testContext(), dir, name, vfs.SetAttr{})
	require.NoError(t, err, "Create %q should succeed", name)
	return id
}

func mustMkdir(t *testing.T, fs vfs.FileSystem, dir vfs.FileID, name string) vfs.FileID {
	t.Helper()
	id, attr, err := fs.Mkdir(testContext(), dir, name)
	require.NoError(t, err, "Mkdir %q should succeed", name)
	require.NotNil(t, attr)
	assert.Equal(t, vfs.FileTypeDirectory, attr.Type)
	return id
}

func mustWrite(t *testing.T, fs vfs.FileSystem, id vfs.FileID, offset uint64, data []byte) *vfs.FileAttr {
	t.Helper()
	attr, err := fs.Write(testContext(), id, offset, data)
	require.NoError(t, err, "Write should succeed")
	require.NotNil(t, attr)
	return attr
}

func mustRead(t *testing.T, fs vfs.FileSystem, id vfs.FileID, offset uint64, count uint32) ([]byte, bool) {
	t.Helper()
	data, eof, err := fs.Read(testContext(), id, offset, count)
	require.NoError(t, err, "Read should succeed")
	return data, eof
}

func mustGetAttr(t *testing.T, fs vfs.FileSystem, id vfs.FileID) *vfs.FileAttr {
	t.Helper()
	attr, err := fs.GetAttr(testContext(), id)
	require.NoError(t, err, "GetAttr should succeed")
	require.NotNil(t, attr)
	return attr
}

// assertStatus checks that err carries the expected NFS status.
func assertStatus(t *testing.T, expected vfs.Status, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, expected, vfs.StatusOf(err), "unexpected status for %v", err)
}

func names(entries []vfs.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
