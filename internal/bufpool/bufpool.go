// Package bufpool recycles the byte slices and buffers used on the hot path:
// socket read chunks, reassembled RPC records and reply encoding.
package bufpool

import (
	"bytes"
	"sync"
)

const (
	SmallSize  = 4 << 10  // 4KB
	MediumSize = 64 << 10 // 64KB
	LargeSize  = 1 << 20  // 1MB

	// Buffers that grew beyond this are dropped instead of pooled.
	maxPooledBuffer = 4 << 20
)

type tieredPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newTier(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

var (
	slices = &tieredPool{
		small:  newTier(SmallSize),
		medium: newTier(MediumSize),
		large:  newTier(LargeSize),
	}

	buffers = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}
)

// Get returns a slice of length size. Sizes above LargeSize are allocated
// directly and not recycled by Put.
func Get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= SmallSize:
		bufPtr = slices.small.Get().(*[]byte)
	case size <= MediumSize:
		bufPtr = slices.medium.Get().(*[]byte)
	case size <= LargeSize:
		bufPtr = slices.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// Put returns a slice obtained from Get. Slices of any other capacity are
// ignored.
func Put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case SmallSize:
		slices.small.Put(&full)
	case MediumSize:
		slices.medium.Put(&full)
	case LargeSize:
		slices.large.Put(&full)
	}
}

// GetBuffer returns an empty bytes.Buffer.
func GetBuffer() *bytes.Buffer {
	buf := buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer recycles buf. Callers must not retain buf.Bytes() afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	buffers.Put(buf)
}
