package testing

import (
	"context"
	"testing"

	"github.com/marmos91/forgefs/pkg/content"
)

// StoreTestSuite is a test suite for content.Store implementations. It tests
// the interface contract, not implementation details, so it can be reused
// across the memory, filesystem and S3 stores.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh Store instance
	// for each test. This ensures test isolation.
	NewStore func(t *testing.T) content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("Statistics", suite.RunStatsTests)
	t.Run("Listing", suite.RunListTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
