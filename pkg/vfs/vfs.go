package vfs

import "context"

// Capabilities tells the protocol layer whether mutations may be attempted.
type Capabilities int

const (
	ReadOnly Capabilities = iota
	ReadWrite
)

func (c Capabilities) String() string {
	if c == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// FileSystem is the contract a storage backend implements to be served over
// NFSv3. Implementations must be safe for concurrent use: one instance is
// shared by every connection.
//
// Errors should be Status values; see StatusOf for how other errors are
// reported.
type FileSystem interface {
	// Capabilities reports whether write-family methods may be called. The
	// protocol layer answers ROFS itself for a ReadOnly backend.
	Capabilities() Capabilities

	// RootDir returns the FileID of the exported root directory.
	RootDir() FileID

	// Lookup resolves name inside dir. Returns StatusNoEnt when absent.
	Lookup(ctx context.Context, dir FileID, name string) (FileID, error)

	// GetAttr returns the attributes of id. It is called on almost every
	// request for WCC bookkeeping and should be cheap.
	GetAttr(ctx context.Context, id FileID) (*FileAttr, error)

	// SetAttr applies the requested changes and returns the new attributes.
	SetAttr(ctx context.Context, id FileID, attr SetAttr) (*FileAttr, error)

	// Read returns up to count bytes starting at offset. Reading past the end
	// returns only the bytes available with eof set.
	Read(ctx context.Context, id FileID, offset uint64, count uint32) (data []byte, eof bool, err error)

	// Write stores data at offset, extending the file when needed, and
	// returns the attributes after the write.
	Write(ctx context.Context, id FileID, offset uint64, data []byte) (*FileAttr, error)

	// Create makes a regular file named name in dir with the given initial
	// attributes. If a regular file with that name already exists, the
	// attributes are applied to it instead.
	Create(ctx context.Context, dir FileID, name string, attr SetAttr) (FileID, *FileAttr, error)

	// CreateExclusive atomically creates name in dir, failing with
	// StatusExist if it is already present.
	CreateExclusive(ctx context.Context, dir FileID, name string) (FileID, error)

	// Mkdir creates a directory named name in dir.
	Mkdir(ctx context.Context, dir FileID, name string) (FileID, *FileAttr, error)

	// Remove deletes the file or empty directory name from dir.
	Remove(ctx context.Context, dir FileID, name string) error

	// Rename moves fromName in fromDir to toName in toDir, replacing any
	// existing target.
	Rename(ctx context.Context, fromDir FileID, fromName string, toDir FileID, toName string) error

	// ReadDir lists the children of dir in a deterministic order, starting
	// immediately after the child startAfter (0 starts at the beginning).
	// At most maxEntries entries are returned.
	ReadDir(ctx context.Context, dir FileID, startAfter FileID, maxEntries int) (*ReadDirResult, error)

	// Symlink creates a symbolic link name in dir pointing at target.
	Symlink(ctx context.Context, dir FileID, name string, target string, attr SetAttr) (FileID, *FileAttr, error)

	// ReadLink returns the target of a symbolic link, StatusInval otherwise.
	ReadLink(ctx context.Context, id FileID) (string, error)
}

// SimpleDirReader lists a directory without attributes. When absent the
// listing is derived from ReadDir.
type SimpleDirReader interface {
	ReadDirSimple(ctx context.Context, dir FileID, startAfter FileID, maxEntries int) (*ReadDirSimpleResult, error)
}

// FSInfoProvider overrides the default FSINFO limits.
type FSInfoProvider interface {
	FSInfo(ctx context.Context, root FileID) (*FSInfo, error)
}

// FSStatProvider reports real filesystem usage for FSSTAT.
type FSStatProvider interface {
	FSStat(ctx context.Context, id FileID) (*FSStat, error)
}

// HandleCodec overrides how FileIDs become wire handles.
type HandleCodec interface {
	IDToHandle(gen Generation, id FileID) FileHandle
	HandleToID(gen Generation, fh FileHandle) (FileID, error)
}

// PathResolver resolves a slash-separated path relative to the root.
type PathResolver interface {
	PathToID(ctx context.Context, path string) (FileID, error)
}

// ServerIdentifier overrides the 8-byte server instance id used for write
// and cookie verifiers.
type ServerIdentifier interface {
	ServerID(gen Generation) [8]byte
}
