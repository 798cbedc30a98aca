package testing

import (
	"errors"
	"io"
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustWriteAt writes data at offset and fails the test if it errors.
func mustWriteAt(t *testing.T, store content.Store, id content.ID, data []byte, offset int64) {
	t.Helper()
	err := store.WriteAt(testContext(), id, data, offset)
	require.NoError(t, err, "WriteAt should succeed")
}

// mustReadAll reads the whole blob and fails the test if it errors.
func mustReadAll(t *testing.T, store content.Store, id content.ID) []byte {
	t.Helper()
	size := mustGetSize(t, store, id)

	buf := make([]byte, size)
	n, err := store.ReadAt(testContext(), id, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		require.NoError(t, err, "ReadAt should succeed")
	}
	require.Equal(t, int(size), n, "ReadAt should return the whole blob")
	return buf
}

// mustGetSize gets the blob size and fails the test if it errors.
func mustGetSize(t *testing.T, store content.Store, id content.ID) uint64 {
	t.Helper()
	size, err := store.Size(testContext(), id)
	require.NoError(t, err, "Size should succeed")
	return size
}

// mustTruncate truncates a blob and fails the test if it errors.
func mustTruncate(t *testing.T, store content.Store, id content.ID, size uint64) {
	t.Helper()
	err := store.Truncate(testContext(), id, size)
	require.NoError(t, err, "Truncate should succeed")
}

// mustDelete deletes a blob and fails the test if it errors.
func mustDelete(t *testing.T, store content.Store, id content.ID) {
	t.Helper()
	err := store.Delete(testContext(), id)
	require.NoError(t, err, "Delete should succeed")
}

// assertContentEquals checks the blob matches expected.
func assertContentEquals(t *testing.T, store content.Store, id content.ID, expected []byte) {
	t.Helper()
	actual := mustReadAll(t, store, id)
	assert.Equal(t, expected, actual, "Content data mismatch")
}

// assertNotFound checks the blob does not exist.
func assertNotFound(t *testing.T, store content.Store, id content.ID) {
	t.Helper()
	_, err := store.Size(testContext(), id)
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}

// generateTestID generates a unique test content ID.
func generateTestID(name string) content.ID {
	return content.ID("test-" + name)
}
