package vfstest

import (
	"testing"
	"time"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunAttributeTests covers GetAttr and SetAttr.
func (suite *FileSystemTestSuite) RunAttributeTests(t *testing.T) {
	t.Run("SetAttr_Truncate", suite.testSetAttrTruncate)
	t.Run("SetAttr_Mode", suite.testSetAttrMode)
	t.Run("SetAttr_ClientMtime", suite.testSetAttrClientMtime)
	t.Run("SetAttr_Empty", suite.testSetAttrEmpty)
	t.Run("Create_WithMode", suite.testCreateWithMode)
	t.Run("SetAttr_Ownership", suite.testSetAttrOwnership)
}

func (suite *FileSystemTestSuite) testSetAttrTruncate(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "truncate")
	mustWrite(t, fs, id, 0, []byte("0123456789"))

	size := uint64(4)
	attr, err := fs.SetAttr(testContext(), id, vfs.SetAttr{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)

	data, eof := mustRead(t, fs, id, 0, 100)
	assert.Equal(t, []byte("0123"), data)
	assert.True(t, eof)

	size = 8
	attr, err = fs.SetAttr(testContext(), id, vfs.SetAttr{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), attr.Size)
}

func (suite *FileSystemTestSuite) testSetAttrMode(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "hook")

	mode := uint32(0755)
	attr, err := fs.SetAttr(testContext(), id, vfs.SetAttr{Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, uint32(0755), attr.Mode&0777)
	assert.Equal(t, uint32(0755), mustGetAttr(t, fs, id).Mode&0777)
}

func (suite *FileSystemTestSuite) testSetAttrClientMtime(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "stamped")
	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	attr, err := fs.SetAttr(testContext(), id, vfs.SetAttr{MtimeHow: vfs.SetToClientTime, Mtime: when})
	require.NoError(t, err)
	assert.True(t, attr.Mtime.Equal(when), "mtime = %v, want %v", attr.Mtime, when)
}

func (suite *FileSystemTestSuite) testSetAttrEmpty(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "untouched")
	mustWrite(t, fs, id, 0, []byte("data"))
	before := mustGetAttr(t, fs, id)

	attr, err := fs.SetAttr(testContext(), id, vfs.SetAttr{})
	require.NoError(t, err)
	assert.Equal(t, before.Size, attr.Size)
	assert.Equal(t, before.Mode, attr.Mode)
}

func (suite *FileSystemTestSuite) testCreateWithMode(t *testing.T) {
	fs := suite.NewFS(t)

	mode := uint32(0600)
	_, attr, err := fs.Create(testContext(), fs.RootDir(), "secret", vfs.SetAttr{Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), attr.Mode&0777)
}

func (suite *FileSystemTestSuite) testSetAttrOwnership(t *testing.T) {
	if suite.SkipOwnership {
		t.Skip("backend cannot change ownership")
	}

	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "owned")
	uid, gid := uint32(1000), uint32(1000)

	attr, err := fs.SetAttr(testContext(), id, vfs.SetAttr{UID: &uid, GID: &gid})
	require.NoError(t, err)
	assert.Equal(t, uid, attr.UID)
	assert.Equal(t, gid, attr.GID)
}
