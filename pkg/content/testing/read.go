package testing

import (
	"errors"
	"io"
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadTests executes all read-path tests.
func (suite *StoreTestSuite) RunReadTests(t *testing.T) {
	t.Run("ReadAt_NotFound", suite.testReadAtNotFound)
	t.Run("ReadAt_Middle", suite.testReadAtMiddle)
	t.Run("ReadAt_Short", suite.testReadAtShort)
	t.Run("ReadAt_PastEnd", suite.testReadAtPastEnd)
	t.Run("Size_NotFound", suite.testSizeNotFound)
}

func (suite *StoreTestSuite) testReadAtNotFound(t *testing.T) {
	store := suite.NewStore(t)

	buf := make([]byte, 4)
	_, err := store.ReadAt(testContext(), generateTestID("missing"), buf, 0)
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testReadAtMiddle(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("read-middle")
	mustWriteAt(t, store, id, []byte("0123456789"), 0)

	buf := make([]byte, 4)
	n, err := store.ReadAt(testContext(), id, buf, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("3456"), buf)
}

func (suite *StoreTestSuite) testReadAtShort(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("read-short")
	mustWriteAt(t, store, id, []byte("0123456789"), 0)

	buf := make([]byte, 8)
	n, err := store.ReadAt(testContext(), id, buf, 6)
	assert.True(t, errors.Is(err, io.EOF), "short read should report io.EOF, got %v", err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("6789"), buf[:n])
}

func (suite *StoreTestSuite) testReadAtPastEnd(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("read-past-end")
	mustWriteAt(t, store, id, []byte("abc"), 0)

	buf := make([]byte, 8)
	n, err := store.ReadAt(testContext(), id, buf, 100)
	assert.True(t, errors.Is(err, io.EOF), "read past end should report io.EOF, got %v", err)
	assert.Zero(t, n)
}

func (suite *StoreTestSuite) testSizeNotFound(t *testing.T) {
	store := suite.NewStore(t)
	assertNotFound(t, store, generateTestID("size-missing"))
}

// RunStatsTests checks the aggregate statistics.
func (suite *StoreTestSuite) RunStatsTests(t *testing.T) {
	store := suite.NewStore(t)

	mustWriteAt(t, store, generateTestID("stats-a"), generateTestData(100), 0)
	mustWriteAt(t, store, generateTestID("stats-b"), generateTestData(50), 0)

	stats, err := store.Stats(testContext())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ContentCount)
	assert.Equal(t, uint64(150), stats.UsedSize)
}

// RunListTests checks ListIDs on stores that implement content.Lister.
func (suite *StoreTestSuite) RunListTests(t *testing.T) {
	store := suite.NewStore(t)
	lister, ok := store.(content.Lister)
	if !ok {
		t.Skip("store does not implement content.Lister")
	}

	a := generateTestID("list-a")
	b := generateTestID("list-b")
	mustWriteAt(t, store, a, generateTestData(10), 0)
	mustTruncate(t, store, b, 0)

	ids, err := lister.ListIDs(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.ID{a, b}, ids)

	mustDelete(t, store, a)

	ids, err = lister.ListIDs(testContext())
	require.NoError(t, err)
	assert.Equal(t, []content.ID{b}, ids)
}
