package testing

import (
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
	"github.com/stretchr/testify/assert"
)

// RunWriteTests executes all write-path tests.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("WriteAt_Basic", suite.testWriteAtBasic)
	t.Run("WriteAt_CreateNew", suite.testWriteAtCreateNew)
	t.Run("WriteAt_SparseFile", suite.testWriteAtSparseFile)
	t.Run("WriteAt_NegativeOffset", suite.testWriteAtNegativeOffset)
	t.Run("WriteAt_Overwrite", suite.testWriteAtOverwrite)
	t.Run("Truncate_Shrink", suite.testTruncateShrink)
	t.Run("Truncate_Grow", suite.testTruncateGrow)
	t.Run("Truncate_CreatesEmpty", suite.testTruncateCreatesEmpty)
	t.Run("Delete_Success", suite.testDeleteSuccess)
	t.Run("Delete_Idempotent", suite.testDeleteIdempotent)
}

// ============================================================================
// WriteAt Tests
// ============================================================================

func (suite *StoreTestSuite) testWriteAtBasic(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("writeat-basic")

	// Write at offset 0
	mustWriteAt(t, store, id, []byte("Hello"), 0)
	assertContentEquals(t, store, id, []byte("Hello"))

	// Write at offset 5 (append)
	mustWriteAt(t, store, id, []byte(", World"), 5)
	assertContentEquals(t, store, id, []byte("Hello, World"))
}

func (suite *StoreTestSuite) testWriteAtCreateNew(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("writeat-create")
	testData := generateTestData(4096)

	mustWriteAt(t, store, id, testData, 0)
	assertContentEquals(t, store, id, testData)
}

func (suite *StoreTestSuite) testWriteAtSparseFile(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("writeat-sparse")

	// Write at offset 100 (should fill 0-99 with zeros)
	testData := []byte("Data")
	mustWriteAt(t, store, id, testData, 100)

	assert.Equal(t, uint64(104), mustGetSize(t, store, id))

	data := mustReadAll(t, store, id)
	for i := 0; i < 100; i++ {
		assert.Equal(t, byte(0), data[i], "Expected zero at position %d", i)
	}
	assert.Equal(t, testData, data[100:104])
}

func (suite *StoreTestSuite) testWriteAtNegativeOffset(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("writeat-negative")

	err := store.WriteAt(testContext(), id, []byte("data"), -1)
	AssertErrorIs(t, content.ErrInvalidOffset, err)
}

func (suite *StoreTestSuite) testWriteAtOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("writeat-overwrite")

	mustWriteAt(t, store, id, []byte("Hello World"), 0)
	mustWriteAt(t, store, id, []byte("Forge"), 6)

	assertContentEquals(t, store, id, []byte("Hello Forge"))
}

// ============================================================================
// Truncate Tests
// ============================================================================

func (suite *StoreTestSuite) testTruncateShrink(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("truncate-shrink")

	mustWriteAt(t, store, id, []byte("Hello, World!"), 0)
	mustTruncate(t, store, id, 5)

	assertContentEquals(t, store, id, []byte("Hello"))
}

func (suite *StoreTestSuite) testTruncateGrow(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("truncate-grow")

	mustWriteAt(t, store, id, []byte("Hi"), 0)
	mustTruncate(t, store, id, 6)

	assertContentEquals(t, store, id, []byte{'H', 'i', 0, 0, 0, 0})
}

func (suite *StoreTestSuite) testTruncateCreatesEmpty(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("truncate-create")

	mustTruncate(t, store, id, 0)
	assert.Equal(t, uint64(0), mustGetSize(t, store, id))
}

// ============================================================================
// Delete Tests
// ============================================================================

func (suite *StoreTestSuite) testDeleteSuccess(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("delete")

	mustWriteAt(t, store, id, []byte("doomed"), 0)
	mustDelete(t, store, id)

	assertNotFound(t, store, id)
}

func (suite *StoreTestSuite) testDeleteIdempotent(t *testing.T) {
	store := suite.NewStore(t)
	id := generateTestID("delete-missing")

	mustDelete(t, store, id)
	mustDelete(t, store, id)
}
