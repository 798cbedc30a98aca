package vfs

import "context"

// NewReadOnly wraps fs so that it reports ReadOnly capabilities and refuses
// every write-family call with StatusROFS without reaching fs.
func NewReadOnly(fs FileSystem) FileSystem {
	if ro, ok := fs.(*readOnlyFS); ok {
		return ro
	}
	return &readOnlyFS{inner: fs}
}

type readOnlyFS struct {
	inner FileSystem
}

var (
	_ FileSystem       = (*readOnlyFS)(nil)
	_ SimpleDirReader  = (*readOnlyFS)(nil)
	_ FSInfoProvider   = (*readOnlyFS)(nil)
	_ FSStatProvider   = (*readOnlyFS)(nil)
	_ HandleCodec      = (*readOnlyFS)(nil)
	_ PathResolver     = (*readOnlyFS)(nil)
	_ ServerIdentifier = (*readOnlyFS)(nil)
)

func (r *readOnlyFS) Capabilities() Capabilities { return ReadOnly }

func (r *readOnlyFS) RootDir() FileID { return r.inner.RootDir() }

func (r *readOnlyFS) Lookup(ctx context.Context, dir FileID, name string) (FileID, error) {
	return r.inner.Lookup(ctx, dir, name)
}

func (r *readOnlyFS) GetAttr(ctx context.Context, id FileID) (*FileAttr, error) {
	return r.inner.GetAttr(ctx, id)
}

func (r *readOnlyFS) SetAttr(context.Context, FileID, SetAttr) (*FileAttr, error) {
	return nil, StatusROFS
}

func (r *readOnlyFS) Read(ctx context.Context, id FileID, offset uint64, count uint32) ([]byte, bool, error) {
	return r.inner.Read(ctx, id, offset, count)
}

func (r *readOnlyFS) Write(context.Context, FileID, uint64, []byte) (*FileAttr, error) {
	return nil, StatusROFS
}

func (r *readOnlyFS) Create(context.Context, FileID, string, SetAttr) (FileID, *FileAttr, error) {
	return 0, nil, StatusROFS
}

func (r *readOnlyFS) CreateExclusive(context.Context, FileID, string) (FileID, error) {
	return 0, StatusROFS
}

func (r *readOnlyFS) Mkdir(context.Context, FileID, string) (FileID, *FileAttr, error) {
	return 0, nil, StatusROFS
}

func (r *readOnlyFS) Remove(context.Context, FileID, string) error {
	return StatusROFS
}

func (r *readOnlyFS) Rename(context.Context, FileID, string, FileID, string) error {
	return StatusROFS
}

func (r *readOnlyFS) ReadDir(ctx context.Context, dir FileID, startAfter FileID, maxEntries int) (*ReadDirResult, error) {
	return r.inner.ReadDir(ctx, dir, startAfter, maxEntries)
}

func (r *readOnlyFS) Symlink(context.Context, FileID, string, string, SetAttr) (FileID, *FileAttr, error) {
	return 0, nil, StatusROFS
}

func (r *readOnlyFS) ReadLink(ctx context.Context, id FileID) (string, error) {
	return r.inner.ReadLink(ctx, id)
}

func (r *readOnlyFS) ReadDirSimple(ctx context.Context, dir FileID, startAfter FileID, maxEntries int) (*ReadDirSimpleResult, error) {
	return ReadDirSimple(ctx, r.inner, dir, startAfter, maxEntries)
}

func (r *readOnlyFS) FSInfo(ctx context.Context, root FileID) (*FSInfo, error) {
	return GetFSInfo(ctx, r.inner, root)
}

func (r *readOnlyFS) FSStat(ctx context.Context, id FileID) (*FSStat, error) {
	return GetFSStat(ctx, r.inner, id)
}

func (r *readOnlyFS) IDToHandle(gen Generation, id FileID) FileHandle {
	return IDToHandle(r.inner, gen, id)
}

func (r *readOnlyFS) HandleToID(gen Generation, fh FileHandle) (FileID, error) {
	return HandleToID(r.inner, gen, fh)
}

func (r *readOnlyFS) PathToID(ctx context.Context, path string) (FileID, error) {
	return PathToID(ctx, r.inner, path)
}

func (r *readOnlyFS) ServerID(gen Generation) [8]byte {
	return ServerID(r.inner, gen)
}
