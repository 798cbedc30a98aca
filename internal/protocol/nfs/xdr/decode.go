package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	"github.com/marmos91/forgefs/pkg/vfs"
)

// ============================================================================
// XDR Decoding Helpers - Wire Format → Go Structures
// ============================================================================

// MaxOpaqueLength bounds any variable-length opaque accepted from the wire.
const MaxOpaqueLength = 1 << 20

// ErrTooLong is returned when a variable-length item exceeds its bound.
var ErrTooLong = errors.New("xdr: length exceeds maximum")

func DecodeUint32(reader io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func DecodeUint64(reader io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeBool accepts only 0 and 1.
func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid bool value %d", v)
}

// DecodeOpaque decodes XDR variable-length opaque data.
//
// Per RFC 4506 Section 4.10:
// Format: [length:uint32][data:length bytes][padding:0-3 bytes]
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	return DecodeOpaqueMax(reader, MaxOpaqueLength)
}

// DecodeOpaqueMax is DecodeOpaque with a caller-supplied bound.
func DecodeOpaqueMax(reader io.Reader, max uint32) ([]byte, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	if length > max {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d: %w", length, max, ErrTooLong)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	if err := skipPadding(reader, length); err != nil {
		return nil, err
	}

	return data, nil
}

// DecodeFixedOpaque reads exactly n bytes plus padding.
func DecodeFixedOpaque(reader io.Reader, n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read fixed opaque: %w", err)
	}
	if err := skipPadding(reader, uint32(n)); err != nil {
		return nil, err
	}
	return data, nil
}

func skipPadding(reader io.Reader, length uint32) error {
	padding := (4 - (length % 4)) % 4
	if padding == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
		return fmt.Errorf("skip padding: %w", err)
	}
	return nil
}

// DecodeString decodes an XDR string.
func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFileHandle decodes nfs_fh3. Handles longer than NFS3_FHSIZE are a
// decode error; the length check against the server's own handle size is
// left to the handle codec so it can report BADHANDLE.
func DecodeFileHandle(reader io.Reader) ([]byte, error) {
	fh, err := DecodeOpaqueMax(reader, types.FHSize)
	if err != nil {
		return nil, fmt.Errorf("decode handle: %w", err)
	}
	return fh, nil
}

// DecodeDirOpArgs decodes diropargs3: a directory handle and a name.
func DecodeDirOpArgs(reader io.Reader) ([]byte, string, error) {
	dir, err := DecodeFileHandle(reader)
	if err != nil {
		return nil, "", err
	}
	name, err := DecodeString(reader)
	if err != nil {
		return nil, "", fmt.Errorf("decode name: %w", err)
	}
	return dir, name, nil
}

// DecodeTime decodes nfstime3.
func DecodeTime(reader io.Reader) (types.TimeVal, error) {
	var tv types.TimeVal
	if err := binary.Read(reader, binary.BigEndian, &tv); err != nil {
		return tv, fmt.Errorf("read nfstime3: %w", err)
	}
	return tv, nil
}

// DecodeSetAttrs decodes sattr3.
//
// Per RFC 1813 Section 2.5.3, each field is a discriminated union. For the
// time fields the discriminant is time_how:
//   - 0 DONT_CHANGE
//   - 1 SET_TO_SERVER_TIME
//   - 2 SET_TO_CLIENT_TIME (followed by nfstime3)
func DecodeSetAttrs(reader io.Reader) (vfs.SetAttr, error) {
	var attr vfs.SetAttr

	var err error
	if attr.Mode, err = decodeOptionalUint32(reader, "mode"); err != nil {
		return attr, err
	}
	if attr.UID, err = decodeOptionalUint32(reader, "uid"); err != nil {
		return attr, err
	}
	if attr.GID, err = decodeOptionalUint32(reader, "gid"); err != nil {
		return attr, err
	}

	setSize, err := DecodeBool(reader)
	if err != nil {
		return attr, fmt.Errorf("read set_size: %w", err)
	}
	if setSize {
		size, err := DecodeUint64(reader)
		if err != nil {
			return attr, fmt.Errorf("read size: %w", err)
		}
		attr.Size = &size
	}

	if attr.AtimeHow, attr.Atime, err = decodeSetTime(reader, "atime"); err != nil {
		return attr, err
	}
	if attr.MtimeHow, attr.Mtime, err = decodeSetTime(reader, "mtime"); err != nil {
		return attr, err
	}

	return attr, nil
}

func decodeOptionalUint32(reader io.Reader, field string) (*uint32, error) {
	set, err := DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("read set_%s: %w", field, err)
	}
	if !set {
		return nil, nil
	}
	v, err := DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return &v, nil
}

func decodeSetTime(reader io.Reader, field string) (vfs.TimeHow, time.Time, error) {
	how, err := DecodeUint32(reader)
	if err != nil {
		return vfs.DontChange, time.Time{}, fmt.Errorf("read set_%s: %w", field, err)
	}

	switch vfs.TimeHow(how) {
	case vfs.DontChange, vfs.SetToServerTime:
		return vfs.TimeHow(how), time.Time{}, nil
	case vfs.SetToClientTime:
		tv, err := DecodeTime(reader)
		if err != nil {
			return vfs.DontChange, time.Time{}, fmt.Errorf("read %s: %w", field, err)
		}
		return vfs.SetToClientTime, TimeValToTime(tv), nil
	}

	return vfs.DontChange, time.Time{}, fmt.Errorf("invalid set_%s value: %d", field, how)
}

// DecodeTimeGuard decodes sattrguard3.
func DecodeTimeGuard(reader io.Reader) (types.TimeGuard, error) {
	var guard types.TimeGuard

	check, err := DecodeBool(reader)
	if err != nil {
		return guard, fmt.Errorf("read guard check: %w", err)
	}
	guard.Check = check

	if check {
		if guard.Time, err = DecodeTime(reader); err != nil {
			return guard, fmt.Errorf("read guard ctime: %w", err)
		}
	}

	return guard, nil
}
