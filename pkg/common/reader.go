package common

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ByteReader is a little-endian cursor over an in-memory buffer. The
// first out-of-bounds read latches an error; subsequent reads return
// zero values so decode loops only need to check Err at their
// boundaries.
type ByteReader struct {
	buf []byte
	pos int
	err error
}

func NewByteReader(buf []byte) *ByteReader {
	return &ByteReader{buf: buf}
}

func (r *ByteReader) Err() error   { return r.err }
func (r *ByteReader) Pos() int     { return r.pos }
func (r *ByteReader) Remaining() int { return len(r.buf) - r.pos }

func (r *ByteReader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrTruncated, n, r.pos, len(r.buf)-r.pos)
	}
}

// Seek moves the cursor to an absolute offset.
func (r *ByteReader) Seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.buf) {
		r.fail(off - r.pos)
		return
	}
	r.pos = off
}

func (r *ByteReader) Skip(n int) {
	if r.err != nil {
		return
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.fail(n)
		return
	}
	r.pos += n
}

// Bytes returns the next n bytes without copying.
func (r *ByteReader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.fail(n)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *ByteReader) U8() uint8 {
	b := r.Bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *ByteReader) U16() uint16 {
	b := r.Bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *ByteReader) U32() uint32 {
	b := r.Bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *ByteReader) U64() uint64 {
	b := r.Bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *ByteReader) I32() int32 { return int32(r.U32()) }
func (r *ByteReader) I64() int64 { return int64(r.U64()) }

func (r *ByteReader) F32() float32 { return math.Float32frombits(r.U32()) }
func (r *ByteReader) F64() float64 { return math.Float64frombits(r.U64()) }
