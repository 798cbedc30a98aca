package vfs

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Handle Codec Tests
// ============================================================================

func TestHandleRoundTrip(t *testing.T) {
	gen := NewGeneration(time.Now())

	ids := []FileID{1, 2, 42, 1 << 32, math.MaxUint64 - 1, math.MaxUint64}
	for _, id := range ids {
		fh := EncodeHandle(gen, id)
		require.Len(t, fh, HandleSize)

		decoded, err := DecodeHandle(gen, fh)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestHandleLayout(t *testing.T) {
	fh := EncodeHandle(Generation(0x0102030405060708), FileID(0x1112131415161718))

	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, []byte(fh[:8]),
		"generation must be little-endian")
	assert.Equal(t, []byte{0x18, 0x17, 0x16, 0x15, 0x14, 0x13, 0x12, 0x11}, []byte(fh[8:]),
		"file id must be little-endian")
}

func TestHandleStaleness(t *testing.T) {
	gen := Generation(1_000_000)

	t.Run("OlderGenerationIsStale", func(t *testing.T) {
		fh := EncodeHandle(gen-1, 7)
		_, err := DecodeHandle(gen, fh)
		assert.Equal(t, StatusStale, err)
	})

	t.Run("NewerGenerationIsBadHandle", func(t *testing.T) {
		fh := EncodeHandle(gen+1, 7)
		_, err := DecodeHandle(gen, fh)
		assert.Equal(t, StatusBadHandle, err)
	})

	t.Run("AnyOtherGenerationNeverDecodes", func(t *testing.T) {
		samples := []uint64{0, 1, uint64(gen) - 1000, uint64(gen) + 1000, math.MaxUint64}
		for _, other := range samples {
			fh := EncodeHandle(gen, 7)
			binary.LittleEndian.PutUint64(fh[:8], other)

			_, err := DecodeHandle(gen, fh)
			require.Error(t, err)
			status := StatusOf(err)
			assert.True(t, status == StatusStale || status == StatusBadHandle,
				"generation %d produced %s", other, status)
		}
	})
}

func TestHandleLengthGuard(t *testing.T) {
	gen := Generation(99)

	for _, size := range []int{0, 1, 8, 15, 17, 32, 64} {
		fh := make(FileHandle, size)
		if size >= 8 {
			binary.LittleEndian.PutUint64(fh[:8], uint64(gen))
		}

		assert.NotPanics(t, func() {
			_, err := DecodeHandle(gen, fh)
			assert.Equal(t, StatusBadHandle, err, "size %d", size)
		})
	}
}

func TestNewGenerationIncreases(t *testing.T) {
	start := time.Now()
	earlier := NewGeneration(start)
	later := NewGeneration(start.Add(time.Second))

	assert.Less(t, uint64(earlier), uint64(later))

	// A handle minted by the earlier incarnation is stale for the later one.
	_, err := DecodeHandle(later, EncodeHandle(earlier, 3))
	assert.Equal(t, StatusStale, err)
}
