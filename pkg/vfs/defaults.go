package vfs

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"
)

// Default FSINFO limits used when a backend does not implement FSInfoProvider.
const (
	DefaultTransferSize = 1 << 20
	DefaultDirPref      = 64 << 10
)

// ReadDirSimple lists dir without attributes, using the backend's own
// implementation when it has one.
func ReadDirSimple(ctx context.Context, fs FileSystem, dir FileID, startAfter FileID, maxEntries int) (*ReadDirSimpleResult, error) {
	if r, ok := fs.(SimpleDirReader); ok {
		return r.ReadDirSimple(ctx, dir, startAfter, maxEntries)
	}

	full, err := fs.ReadDir(ctx, dir, startAfter, maxEntries)
	if err != nil {
		return nil, err
	}

	result := &ReadDirSimpleResult{
		Entries: make([]DirEntrySimple, 0, len(full.Entries)),
		EOF:     full.EOF,
	}
	for _, e := range full.Entries {
		result.Entries = append(result.Entries, DirEntrySimple{FileID: e.FileID, Name: e.Name})
	}
	return result, nil
}

// GetFSInfo returns the backend's FSINFO limits or the defaults.
func GetFSInfo(ctx context.Context, fs FileSystem, root FileID) (*FSInfo, error) {
	if p, ok := fs.(FSInfoProvider); ok {
		return p.FSInfo(ctx, root)
	}

	return &FSInfo{
		RtMax:       DefaultTransferSize,
		RtPref:      DefaultTransferSize,
		RtMult:      1,
		WtMax:       DefaultTransferSize,
		WtPref:      DefaultTransferSize,
		WtMult:      1,
		DtPref:      DefaultDirPref,
		MaxFileSize: math.MaxInt64,
		TimeDelta:   time.Nanosecond,
		Properties:  FSFLink | FSFSymlink | FSFHomogeneous | FSFCanSetTime,
	}, nil
}

// GetFSStat returns the backend's usage figures, or zeroes.
func GetFSStat(ctx context.Context, fs FileSystem, id FileID) (*FSStat, error) {
	if p, ok := fs.(FSStatProvider); ok {
		return p.FSStat(ctx, id)
	}
	return &FSStat{}, nil
}

// IDToHandle converts id to a wire handle.
func IDToHandle(fs FileSystem, gen Generation, id FileID) FileHandle {
	if c, ok := fs.(HandleCodec); ok {
		return c.IDToHandle(gen, id)
	}
	return EncodeHandle(gen, id)
}

// HandleToID converts a wire handle back to a FileID, reporting
// StatusStale or StatusBadHandle for handles this server cannot honour.
func HandleToID(fs FileSystem, gen Generation, fh FileHandle) (FileID, error) {
	if c, ok := fs.(HandleCodec); ok {
		return c.HandleToID(gen, fh)
	}
	return DecodeHandle(gen, fh)
}

// PathToID resolves a slash-separated path from the root directory. Empty
// components and "." are skipped.
func PathToID(ctx context.Context, fs FileSystem, path string) (FileID, error) {
	if r, ok := fs.(PathResolver); ok {
		return r.PathToID(ctx, path)
	}

	id := fs.RootDir()
	for _, component := range strings.Split(path, "/") {
		if component == "" || component == "." {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		next, err := fs.Lookup(ctx, id, component)
		if err != nil {
			return 0, err
		}
		id = next
	}
	return id, nil
}

// ServerID returns the 8-byte server instance id, by default the generation
// in little-endian order.
func ServerID(fs FileSystem, gen Generation) [8]byte {
	if s, ok := fs.(ServerIdentifier); ok {
		return s.ServerID(gen)
	}

	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], uint64(gen))
	return id
}
