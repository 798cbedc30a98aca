package vfstest

import (
	"bytes"
	"testing"

	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDataTests covers Read and Write.
func (suite *FileSystemTestSuite) RunDataTests(t *testing.T) {
	t.Run("WriteRead_RoundTrip", suite.testWriteReadRoundTrip)
	t.Run("Read_PastEnd", suite.testReadPastEnd)
	t.Run("Read_Partial", suite.testReadPartial)
	t.Run("Write_Extends", suite.testWriteExtends)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("Read_Directory", suite.testReadDirectory)
	t.Run("Write_Directory", suite.testWriteDirectory)
}

func (suite *FileSystemTestSuite) testWriteReadRoundTrip(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "blob")
	payload := bytes.Repeat([]byte("forge"), 1000)

	attr := mustWrite(t, fs, id, 0, payload)
	assert.Equal(t, uint64(len(payload)), attr.Size)

	data, eof := mustRead(t, fs, id, 0, uint32(len(payload)))
	assert.Equal(t, payload, data)
	assert.True(t, eof)
}

func (suite *FileSystemTestSuite) testReadPastEnd(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "short")
	mustWrite(t, fs, id, 0, []byte("abc"))

	data, eof := mustRead(t, fs, id, 10, 5)
	assert.Empty(t, data)
	assert.True(t, eof)
}

func (suite *FileSystemTestSuite) testReadPartial(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "partial")
	mustWrite(t, fs, id, 0, []byte("0123456789"))

	data, eof := mustRead(t, fs, id, 2, 3)
	assert.Equal(t, []byte("234"), data)
	assert.False(t, eof)

	data, eof = mustRead(t, fs, id, 7, 100)
	assert.Equal(t, []byte("789"), data)
	assert.True(t, eof)
}

func (suite *FileSystemTestSuite) testWriteExtends(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "sparse")

	attr := mustWrite(t, fs, id, 4, []byte("xy"))
	assert.Equal(t, uint64(6), attr.Size)

	data, _ := mustRead(t, fs, id, 0, 6)
	require.Len(t, data, 6)
	assert.Equal(t, []byte{0, 0, 0, 0, 'x', 'y'}, data)
}

func (suite *FileSystemTestSuite) testWriteOverwrite(t *testing.T) {
	fs := suite.NewFS(t)

	id := mustCreate(t, fs, fs.RootDir(), "over")
	mustWrite(t, fs, id, 0, []byte("hello world"))
	attr := mustWrite(t, fs, id, 6, []byte("forge"))
	assert.Equal(t, uint64(11), attr.Size)

	data, _ := mustRead(t, fs, id, 0, 64)
	assert.Equal(t, []byte("hello forge"), data)
}

func (suite *FileSystemTestSuite) testReadDirectory(t *testing.T) {
	fs := suite.NewFS(t)

	dir := mustMkdir(t, fs, fs.RootDir(), "hooks")

	_, _, err := fs.Read(testContext(), dir, 0, 10)
	assertStatus(t, vfs.StatusIsDir, err)
}

func (suite *FileSystemTestSuite) testWriteDirectory(t *testing.T) {
	fs := suite.NewFS(t)

	dir := mustMkdir(t, fs, fs.RootDir(), "refs")

	_, err := fs.Write(testContext(), dir, 0, []byte("data"))
	assertStatus(t, vfs.StatusIsDir, err)
}
