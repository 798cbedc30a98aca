package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Record marking (RFC 5531 Section 11).
//
// Every fragment is preceded by a 4-byte big-endian header: bit 31 flags the
// last fragment of a record and the low 31 bits hold the fragment length.
const (
	lastFragmentFlag = 0x80000000
	fragmentLenMask  = 0x7FFFFFFF

	// DefaultMaxRecordSize bounds a reassembled record.
	DefaultMaxRecordSize = 4 << 20
)

// ErrRecordTooLarge is returned when a record would exceed the configured
// maximum. The connection carrying it must be closed.
var ErrRecordTooLarge = errors.New("rpc: record exceeds maximum size")

// FrameRecord prefixes msg with a single last-fragment header.
func FrameRecord(msg []byte) []byte {
	framed := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(framed, lastFragmentFlag|uint32(len(msg)))
	copy(framed[4:], msg)
	return framed
}

// RecordWriter writes single-fragment records.
type RecordWriter struct {
	w io.Writer
}

func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// WriteRecord frames msg and writes it in one call.
func (rw *RecordWriter) WriteRecord(msg []byte) error {
	if _, err := rw.w.Write(FrameRecord(msg)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// RecordReader reads whole records from a blocking stream.
type RecordReader struct {
	r       io.Reader
	maxSize int
}

// NewRecordReader returns a reader enforcing maxSize; values <= 0 select
// DefaultMaxRecordSize.
func NewRecordReader(r io.Reader, maxSize int) *RecordReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	return &RecordReader{r: r, maxSize: maxSize}
}

// ReadRecord returns the next complete record. io.EOF is returned only
// between records.
func (rr *RecordReader) ReadRecord() ([]byte, error) {
	var record []byte
	var header [4]byte

	for {
		if _, err := io.ReadFull(rr.r, header[:]); err != nil {
			if errors.Is(err, io.EOF) && record != nil {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		h := binary.BigEndian.Uint32(header[:])
		length := int(h & fragmentLenMask)
		if len(record)+length > rr.maxSize {
			return nil, fmt.Errorf("fragment of %d bytes after %d: %w", length, len(record), ErrRecordTooLarge)
		}

		start := len(record)
		if record == nil {
			record = make([]byte, 0, length)
		}
		record = append(record, make([]byte, length)...)
		if _, err := io.ReadFull(rr.r, record[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		if h&lastFragmentFlag != 0 {
			return record, nil
		}
	}
}

// Reassembler is the push-based counterpart of RecordReader: callers feed
// it arbitrary chunks of the byte stream and it returns every record the
// chunk completes.
type Reassembler struct {
	maxSize int

	header    [4]byte
	headerLen int

	inFragment bool
	remaining  int
	last       bool

	record []byte
}

// NewReassembler returns a Reassembler enforcing maxSize; values <= 0 select
// DefaultMaxRecordSize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	return &Reassembler{maxSize: maxSize}
}

// Feed consumes chunk. The returned records are owned by the caller. After
// ErrRecordTooLarge the Reassembler must not be used again.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	var complete [][]byte

	for len(chunk) > 0 || r.fragmentDone() {
		if r.fragmentDone() {
			r.inFragment = false
			if r.last {
				if r.record == nil {
					r.record = []byte{}
				}
				complete = append(complete, r.record)
				r.record = nil
			}
			continue
		}

		if !r.inFragment {
			n := copy(r.header[r.headerLen:], chunk)
			r.headerLen += n
			chunk = chunk[n:]
			if r.headerLen < len(r.header) {
				break
			}

			h := binary.BigEndian.Uint32(r.header[:])
			r.headerLen = 0
			r.last = h&lastFragmentFlag != 0
			r.remaining = int(h & fragmentLenMask)
			if len(r.record)+r.remaining > r.maxSize {
				return complete, fmt.Errorf("fragment of %d bytes after %d: %w", r.remaining, len(r.record), ErrRecordTooLarge)
			}
			r.inFragment = true
			continue
		}

		n := min(r.remaining, len(chunk))
		r.record = append(r.record, chunk[:n]...)
		r.remaining -= n
		chunk = chunk[n:]
	}

	return complete, nil
}

func (r *Reassembler) fragmentDone() bool {
	return r.inFragment && r.remaining == 0
}

// Pending reports whether a partial record is buffered.
func (r *Reassembler) Pending() bool {
	return r.headerLen > 0 || r.inFragment || r.record != nil
}
