package vfs

import (
	"encoding/binary"
	"time"
)

// HandleSize is the length of every handle issued by the default codec.
const HandleSize = 16

// FileHandle is the opaque token clients hold in place of a path.
type FileHandle []byte

// Generation identifies one server incarnation. It is computed once at
// startup and embedded in every handle so handles issued before a restart
// can be told apart.
type Generation uint64

// NewGeneration derives a generation from the process start time. Later
// starts produce larger values.
func NewGeneration(now time.Time) Generation {
	return Generation(now.UnixMilli())
}

// EncodeHandle packs gen and id as generation(8, LE) || fileid(8, LE).
func EncodeHandle(gen Generation, id FileID) FileHandle {
	fh := make([]byte, HandleSize)
	binary.LittleEndian.PutUint64(fh[0:8], uint64(gen))
	binary.LittleEndian.PutUint64(fh[8:16], uint64(id))
	return fh
}

// DecodeHandle validates fh against the live generation.
//
// A handle of the wrong length, or one carrying a generation newer than the
// running server, is StatusBadHandle. A handle from an older generation is
// StatusStale: the client should re-resolve the path.
func DecodeHandle(gen Generation, fh FileHandle) (FileID, error) {
	if len(fh) != HandleSize {
		return 0, StatusBadHandle
	}

	embedded := Generation(binary.LittleEndian.Uint64(fh[0:8]))
	switch {
	case embedded < gen:
		return 0, StatusStale
	case embedded > gen:
		return 0, StatusBadHandle
	}

	return FileID(binary.LittleEndian.Uint64(fh[8:16])), nil
}
