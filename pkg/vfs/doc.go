// Package vfs defines the storage backend contract served over NFSv3.
//
// A backend implements FileSystem and names every object with a FileID, a
// 64-bit identifier of its own choosing (0 is reserved). The protocol layer
// never sees paths: it turns FileIDs into 16-byte wire handles with the
// handle codec in this package and hands them back to the backend on later
// calls.
//
// Errors returned by a backend are Status values (nfsstat3 codes). Any other
// error is reported to clients as StatusIO.
//
// Besides the required methods, a backend may implement the optional
// interfaces (SimpleDirReader, FSInfoProvider, FSStatProvider, HandleCodec,
// PathResolver, ServerIdentifier). The package-level helpers of the same
// name fall back to a default when the backend does not.
package vfs
