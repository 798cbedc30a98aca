package kvfs

import (
	"encoding/binary"

	"github.com/marmos91/forgefs/pkg/vfs"
)

// Key layout
//
//	Data Type     Prefix   Key Format                       Value
//	============================================================================
//	Inode         "i:"     i:<id BE uint64>                 inode (JSON)
//	Dir entry     "c:"     c:<parent BE uint64><name>       child id (BE uint64)
//	ID sequence   "seq:"   seq:fileid                       badger.Sequence state
//
// Ids are big-endian so badger's byte ordering matches numeric ordering.
// Directory entries share the parent prefix, which makes a listing a single
// prefix scan ordered by name.
const (
	prefixInode = "i:"
	prefixChild = "c:"
	keySequence = "seq:fileid"
)

func keyInode(id vfs.FileID) []byte {
	key := make([]byte, len(prefixInode)+8)
	copy(key, prefixInode)
	binary.BigEndian.PutUint64(key[len(prefixInode):], uint64(id))
	return key
}

// keyChildPrefix returns the prefix shared by every entry of dir.
func keyChildPrefix(dir vfs.FileID) []byte {
	key := make([]byte, len(prefixChild)+8)
	copy(key, prefixChild)
	binary.BigEndian.PutUint64(key[len(prefixChild):], uint64(dir))
	return key
}

func keyChild(dir vfs.FileID, name string) []byte {
	return append(keyChildPrefix(dir), name...)
}

// childName extracts the entry name from a key built by keyChild.
func childName(key []byte) string {
	return string(key[len(prefixChild)+8:])
}

func encodeID(id vfs.FileID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func decodeID(b []byte) vfs.FileID {
	if len(b) != 8 {
		return 0
	}
	return vfs.FileID(binary.BigEndian.Uint64(b))
}
