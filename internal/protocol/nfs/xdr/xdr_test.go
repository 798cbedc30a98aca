package xdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validFileAttr() *types.NFSFileAttr {
	now := time.Now()
	return &types.NFSFileAttr{
		Type:   uint32(vfs.FileTypeRegular),
		Mode:   0644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   1024,
		Used:   4096,
		Fsid:   1,
		Fileid: 12345,
		Atime:  TimeToTimeVal(now),
		Mtime:  TimeToTimeVal(now),
		Ctime:  TimeToTimeVal(now),
	}
}

func validWccAttr() *types.WccAttr {
	return &types.WccAttr{
		Size:  1024,
		Mtime: types.TimeVal{Seconds: 10, Nseconds: 20},
		Ctime: types.TimeVal{Seconds: 30, Nseconds: 40},
	}
}

func words(t *testing.T, b []byte) []uint32 {
	t.Helper()
	require.Zero(t, len(b)%4, "encoding must be 4-byte aligned")
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return out
}

// ============================================================================
// Opaque and String Tests
// ============================================================================

func TestOpaqueRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 5, 63, 64} {
		data := bytes.Repeat([]byte{0xab}, n)

		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOpaque(buf, data))
		assert.Zero(t, buf.Len()%4, "length %d not aligned", n)
		assert.Equal(t, 4+n+(4-n%4)%4, buf.Len())

		got, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.Zero(t, buf.Len(), "padding must be consumed")
	}
}

func TestDecodeOpaque(t *testing.T) {
	t.Run("RejectsExcessiveLength", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = EncodeUint32(buf, 2*MaxOpaqueLength)

		_, err := DecodeOpaque(buf)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTooLong))
	})

	t.Run("RejectsTruncatedData", func(t *testing.T) {
		buf := bytes.NewBuffer([]byte{0, 0, 0, 8, 1, 2, 3})
		_, err := DecodeOpaque(buf)
		assert.Error(t, err)
	})

	t.Run("RejectsMissingPadding", func(t *testing.T) {
		buf := bytes.NewBuffer([]byte{0, 0, 0, 3, 1, 2, 3})
		_, err := DecodeOpaque(buf)
		assert.Error(t, err)
	})
}

func TestStringRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeString(buf, "hello"))
	assert.Equal(t, []byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o', 0, 0, 0}, buf.Bytes())

	s, err := DecodeString(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestDecodeFileHandle(t *testing.T) {
	t.Run("AcceptsUpToFHSize", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = EncodeOpaque(buf, make([]byte, types.FHSize))
		fh, err := DecodeFileHandle(buf)
		require.NoError(t, err)
		assert.Len(t, fh, types.FHSize)
	})

	t.Run("RejectsOversizedHandle", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = EncodeOpaque(buf, make([]byte, types.FHSize+1))
		_, err := DecodeFileHandle(buf)
		assert.Error(t, err)
	})

	t.Run("ShortHandlesDecode", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = EncodeOpaque(buf, []byte{1, 2, 3})
		fh, err := DecodeFileHandle(buf)
		require.NoError(t, err)
		assert.Len(t, fh, 3)
	})
}

func TestDecodeBool(t *testing.T) {
	v, err := DecodeBool(bytes.NewReader([]byte{0, 0, 0, 1}))
	require.NoError(t, err)
	assert.True(t, v)

	_, err = DecodeBool(bytes.NewReader([]byte{0, 0, 0, 2}))
	assert.Error(t, err)
}

// ============================================================================
// Attribute Encoding Tests
// ============================================================================

func TestEncodeFileAttrLayout(t *testing.T) {
	attr := validFileAttr()
	attr.Rdev = types.SpecData{Major: 7, Minor: 9}

	buf := new(bytes.Buffer)
	require.NoError(t, EncodeFileAttr(buf, attr))

	w := words(t, buf.Bytes())
	require.Len(t, w, 21, "fattr3 is 84 bytes")
	assert.Equal(t, uint32(vfs.FileTypeRegular), w[0])
	assert.Equal(t, uint32(0644), w[1])
	assert.Equal(t, uint32(1024), w[6], "size low word")
	assert.Equal(t, uint32(7), w[9])
	assert.Equal(t, uint32(9), w[10])
	assert.Equal(t, uint32(12345), w[14], "fileid low word")
}

func TestEncodeOptionalFileAttr(t *testing.T) {
	t.Run("EncodesNilAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalFileAttr(buf, nil))
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesValidAttrAsPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeOptionalFileAttr(buf, validFileAttr()))
		assert.Equal(t, 4+84, buf.Len())
		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	})
}

func TestEncodeWccData(t *testing.T) {
	t.Run("NeitherPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, nil, nil))
		assert.Equal(t, []uint32{0, 0}, words(t, buf.Bytes()))
	})

	t.Run("BeforeOnly", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, validWccAttr(), nil))
		assert.Equal(t, []uint32{1, 0, 1024, 10, 20, 30, 40, 0}, words(t, buf.Bytes()))
	})

	t.Run("Both", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeWccData(buf, validWccAttr(), validFileAttr()))
		assert.Equal(t, 4+24+4+84, buf.Len())
	})
}

func TestEncodeOptionalOpaque(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, EncodeOptionalOpaque(buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())

	buf.Reset()
	require.NoError(t, EncodeOptionalOpaque(buf, []byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 3, 1, 2, 3, 0}, buf.Bytes())
}

func TestFileAttrToNFS(t *testing.T) {
	mtime := time.Unix(1700000000, 123)
	attr := &vfs.FileAttr{
		Type:   vfs.FileTypeDirectory,
		Mode:   0o40755,
		Nlink:  2,
		FileID: 42,
		Mtime:  mtime,
	}

	nfs := FileAttrToNFS(attr)
	assert.Equal(t, uint32(vfs.FileTypeDirectory), nfs.Type)
	assert.Equal(t, uint32(0o755), nfs.Mode, "type bits are stripped")
	assert.Equal(t, uint64(42), nfs.Fileid)
	assert.Equal(t, types.TimeVal{Seconds: 1700000000, Nseconds: 123}, nfs.Mtime)
	assert.Equal(t, types.TimeVal{}, nfs.Atime)

	assert.Nil(t, FileAttrToNFS(nil))
}

// ============================================================================
// sattr3 Decoding Tests
// ============================================================================

func TestDecodeSetAttrs(t *testing.T) {
	t.Run("NothingSet", func(t *testing.T) {
		buf := new(bytes.Buffer)
		for range 6 {
			_ = EncodeUint32(buf, 0)
		}

		sa, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.True(t, sa.IsEmpty())
	})

	t.Run("AllSet", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = EncodeUint32(buf, 1)
		_ = EncodeUint32(buf, 0o600)
		_ = EncodeUint32(buf, 1)
		_ = EncodeUint32(buf, 1000)
		_ = EncodeUint32(buf, 1)
		_ = EncodeUint32(buf, 100)
		_ = EncodeUint32(buf, 1)
		_ = EncodeUint64(buf, 4096)
		_ = EncodeUint32(buf, uint32(vfs.SetToServerTime))
		_ = EncodeUint32(buf, uint32(vfs.SetToClientTime))
		_ = EncodeUint32(buf, 1600000000)
		_ = EncodeUint32(buf, 5)

		sa, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		require.NotNil(t, sa.Mode)
		assert.Equal(t, uint32(0o600), *sa.Mode)
		assert.Equal(t, uint32(1000), *sa.UID)
		assert.Equal(t, uint32(100), *sa.GID)
		assert.Equal(t, uint64(4096), *sa.Size)
		assert.Equal(t, vfs.SetToServerTime, sa.AtimeHow)
		assert.Equal(t, vfs.SetToClientTime, sa.MtimeHow)
		assert.Equal(t, time.Unix(1600000000, 5), sa.Mtime)
		assert.Zero(t, buf.Len())
	})

	t.Run("RejectsUnknownTimeHow", func(t *testing.T) {
		buf := new(bytes.Buffer)
		for range 4 {
			_ = EncodeUint32(buf, 0)
		}
		_ = EncodeUint32(buf, 3)
		_, err := DecodeSetAttrs(buf)
		assert.Error(t, err)
	})
}

func TestDecodeTimeGuard(t *testing.T) {
	guard, err := DecodeTimeGuard(bytes.NewReader([]byte{0, 0, 0, 0}))
	require.NoError(t, err)
	assert.False(t, guard.Check)

	guard, err = DecodeTimeGuard(bytes.NewReader([]byte{0, 0, 0, 1, 0, 0, 0, 9, 0, 0, 0, 8}))
	require.NoError(t, err)
	assert.True(t, guard.Check)
	assert.Equal(t, types.TimeVal{Seconds: 9, Nseconds: 8}, guard.Time)
}

func TestMapErrorToNFSStatus(t *testing.T) {
	assert.Equal(t, uint32(vfs.StatusOK), MapErrorToNFSStatus(nil, "1.2.3.4", "TEST"))
	assert.Equal(t, uint32(vfs.StatusNoEnt), MapErrorToNFSStatus(vfs.StatusNoEnt, "1.2.3.4", "TEST"))
	assert.Equal(t, uint32(vfs.StatusIO), MapErrorToNFSStatus(errors.New("disk on fire"), "1.2.3.4", "TEST"))
}

func TestExtractClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.100", ExtractClientIP("192.168.1.100:45678"))
	assert.Equal(t, "unknown", ExtractClientIP(""))
	assert.Equal(t, "not-an-addr", ExtractClientIP("not-an-addr"))
}
