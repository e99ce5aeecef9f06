// Package tlv implements the little-endian type-length-value record format
// and the framed file header shared by every on-disk format in this module
// (manifest, plan, installed-state, journal).
package tlv

import (
	"encoding/binary"

	"github.com/dominium/dsu/logic/dsuerr"
)

// Record is a single decoded TLV: type:u16 LE, len:u32 LE, value[len].
type Record struct {
	Type  uint16
	Value []byte
}

// Writer accumulates TLV records into a byte buffer in append order.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty TLV writer.
func NewWriter() *Writer { return &Writer{buf: make([]byte, 0, 256)} }

// Put appends one record of the given type with value payload.
func (w *Writer) Put(typ uint16, value []byte) {
	var head [6]byte
	binary.LittleEndian.PutUint16(head[0:2], typ)
	binary.LittleEndian.PutUint32(head[2:6], uint32(len(value)))
	w.buf = append(w.buf, head[:]...)
	w.buf = append(w.buf, value...)
}

// PutU32 appends a uint32 value TLV, little-endian.
func (w *Writer) PutU32(typ uint16, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Put(typ, b[:])
}

// PutU64 appends a uint64 value TLV, little-endian.
func (w *Writer) PutU64(typ uint16, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.Put(typ, b[:])
}

// PutString appends a raw-bytes string TLV (UTF-8, no NUL terminator).
func (w *Writer) PutString(typ uint16, s string) {
	w.Put(typ, []byte(s))
}

// Bytes returns the accumulated TLV stream.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Reader walks a TLV stream, enforcing off+len <= buf_len on every record.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a reader over buf.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Len reports remaining unread bytes.
func (r *Reader) Len() int { return len(r.buf) - r.off }

// Next reads the next record, or returns (Record{}, false, nil) at end of
// stream. A malformed header or an out-of-bounds length yields a ParseError.
func (r *Reader) Next() (Record, bool, error) {
	if r.off == len(r.buf) {
		return Record{}, false, nil
	}
	if r.off+6 > len(r.buf) {
		return Record{}, false, dsuerr.New(dsuerr.KindParse, "tlv.Reader.Next", errTruncated)
	}
	typ := binary.LittleEndian.Uint16(r.buf[r.off : r.off+2])
	length := binary.LittleEndian.Uint32(r.buf[r.off+2 : r.off+6])
	valueStart := r.off + 6
	valueEnd := valueStart + int(length)
	if length > uint32(len(r.buf)) || valueEnd < valueStart || valueEnd > len(r.buf) {
		return Record{}, false, dsuerr.New(dsuerr.KindParse, "tlv.Reader.Next", errTruncated)
	}
	value := r.buf[valueStart:valueEnd]
	r.off = valueEnd
	return Record{Type: typ, Value: value}, true, nil
}

// ReadU32 decodes a little-endian uint32 value, failing if len != 4.
func ReadU32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, dsuerr.New(dsuerr.KindParse, "tlv.ReadU32", errBadLength)
	}
	return binary.LittleEndian.Uint32(v), nil
}

// ReadU64 decodes a little-endian uint64 value, failing if len != 8.
func ReadU64(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, dsuerr.New(dsuerr.KindParse, "tlv.ReadU64", errBadLength)
	}
	return binary.LittleEndian.Uint64(v), nil
}

type sentinel string

func (e sentinel) Error() string { return string(e) }

const (
	errTruncated sentinel = "tlv: truncated or out-of-bounds record"
	errBadLength sentinel = "tlv: unexpected value length"
)
