package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/forgefs/internal/protocol/nfs/types"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// ============================================================================
// XDR Encoding Helpers - Go Structures → Wire Format
// ============================================================================

var padding [4]byte

func EncodeUint32(buf *bytes.Buffer, v uint32) error {
	return binary.Write(buf, binary.BigEndian, v)
}

func EncodeUint64(buf *bytes.Buffer, v uint64) error {
	return binary.Write(buf, binary.BigEndian, v)
}

func EncodeBool(buf *bytes.Buffer, v bool) error {
	if v {
		return EncodeUint32(buf, 1)
	}
	return EncodeUint32(buf, 0)
}

// EncodeOpaque writes [length][data][padding].
func EncodeOpaque(buf *bytes.Buffer, data []byte) error {
	if err := EncodeUint32(buf, uint32(len(data))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	return EncodeFixedOpaque(buf, data)
}

// EncodeFixedOpaque writes data followed by zero padding to a 4-byte boundary.
func EncodeFixedOpaque(buf *bytes.Buffer, data []byte) error {
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		if _, err := buf.Write(padding[:pad]); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
	}
	return nil
}

func EncodeString(buf *bytes.Buffer, s string) error {
	return EncodeOpaque(buf, []byte(s))
}

// EncodeOptionalOpaque encodes optional opaque data (post_op_fh3).
// Format: [present:uint32] if present=1: [length:uint32][data][padding]
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 {
		return EncodeBool(buf, false)
	}
	if err := EncodeBool(buf, true); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return EncodeOpaque(buf, data)
}

// EncodeFixed marshals a fixed-layout wire struct (fattr3, wcc_attr,
// FSSTAT/FSINFO/PATHCONF bodies) field by field in declaration order.
func EncodeFixed(buf *bytes.Buffer, v any) error {
	if _, err := xdr.Marshal(buf, v); err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return nil
}

// EncodeFileAttr encodes fattr3 (RFC 1813 Section 2.3.5).
func EncodeFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}
	return EncodeFixed(buf, attr)
}

// EncodeOptionalFileAttr encodes post_op_attr.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return EncodeBool(buf, false)
	}
	if err := EncodeBool(buf, true); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	return EncodeFileAttr(buf, attr)
}

// EncodePreOpAttr encodes pre_op_attr.
func EncodePreOpAttr(buf *bytes.Buffer, attr *types.WccAttr) error {
	if attr == nil {
		return EncodeBool(buf, false)
	}
	if err := EncodeBool(buf, true); err != nil {
		return fmt.Errorf("write before present: %w", err)
	}
	return EncodeFixed(buf, attr)
}

// EncodeWccData encodes wcc_data.
//
//	struct wcc_data {
//	    pre_op_attr   before;
//	    post_op_attr  after;
//	};
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.NFSFileAttr) error {
	if err := EncodePreOpAttr(buf, before); err != nil {
		return fmt.Errorf("encode before attributes: %w", err)
	}
	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}
	return nil
}
