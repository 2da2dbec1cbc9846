// Package buffer implements the append/consume byte log shared by the wire
// codec: a contiguous slice with a read cursor, big-endian integer helpers,
// and length-prefixed string/sub-buffer framing.
package buffer

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by every read when fewer bytes are available
// than requested. The cursor is left untouched so callers can treat this as
// an incomplete-packet signal and retry once more data arrives.
var ErrShortBuffer = errors.New("buffer: not enough data")

// Buffer is a contiguous byte log with a read cursor. Writes always append;
// reads always start at the cursor and advance it only on success.
type Buffer struct {
	b      []byte
	cursor int
}

// New returns an empty Buffer; bytes appended to it can be read back from
// the start.
func New() *Buffer {
	return &Buffer{}
}

// NewFrom wraps an existing slice for reading. The slice is used directly,
// not copied.
func NewFrom(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Bytes returns the full underlying slice, including already-consumed bytes.
func (d *Buffer) Bytes() []byte { return d.b }

// Len returns the number of bytes appended so far.
func (d *Buffer) Len() int { return len(d.b) }

// ReadableBytes returns len(b) - cursor: the bytes still available to read.
func (d *Buffer) ReadableBytes() int { return len(d.b) - d.cursor }

// Reset discards all content and rewinds the cursor.
func (d *Buffer) Reset() {
	d.b = d.b[:0]
	d.cursor = 0
}

// Pos returns the current cursor position, for callers that need to roll
// back a multi-read decode (e.g. a variable byte integer) on short input.
func (d *Buffer) Pos() int { return d.cursor }

// SeekTo rewinds (or advances) the cursor to an absolute position previously
// obtained from Pos.
func (d *Buffer) SeekTo(pos int) { d.cursor = pos }

// --- append ---

// WriteByte appends a single byte.
func (d *Buffer) WriteByte(v byte) error {
	d.b = append(d.b, v)
	return nil
}

// WriteUint16 appends v as 2 big-endian bytes.
func (d *Buffer) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	d.b = append(d.b, tmp[:]...)
}

// WriteUint32 appends v as 4 big-endian bytes.
func (d *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	d.b = append(d.b, tmp[:]...)
}

// Write appends raw bytes verbatim.
func (d *Buffer) Write(p []byte) (int, error) {
	d.b = append(d.b, p...)
	return len(p), nil
}

// WriteString appends a UTF-8 string body prefixed by a big-endian uint16
// length, per MQTT string framing.
func (d *Buffer) WriteString(s string) {
	d.WriteUint16(uint16(len(s)))
	d.b = append(d.b, s...)
}

// WriteBinary appends a binary blob using the same length-prefixed framing
// as WriteString.
func (d *Buffer) WriteBinary(p []byte) {
	d.WriteUint16(uint16(len(p)))
	d.b = append(d.b, p...)
}

// WriteSub appends another Buffer's full content (not just its unread
// portion) verbatim, for splicing a nested frame into a parent one.
func (d *Buffer) WriteSub(sub *Buffer) {
	d.b = append(d.b, sub.b...)
}

// --- consume ---

// ReadByte reads a single byte at the cursor.
func (d *Buffer) ReadByte() (byte, error) {
	if d.ReadableBytes() < 1 {
		return 0, ErrShortBuffer
	}
	v := d.b[d.cursor]
	d.cursor++
	return v, nil
}

// ReadUint16 reads 2 big-endian bytes at the cursor.
func (d *Buffer) ReadUint16() (uint16, error) {
	if d.ReadableBytes() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint16(d.b[d.cursor : d.cursor+2])
	d.cursor += 2
	return v, nil
}

// ReadUint32 reads 4 big-endian bytes at the cursor.
func (d *Buffer) ReadUint32() (uint32, error) {
	if d.ReadableBytes() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint32(d.b[d.cursor : d.cursor+4])
	d.cursor += 4
	return v, nil
}

// ReadBytes reads exactly n raw bytes. The returned slice aliases the
// Buffer's storage and must be copied by the caller if retained past the
// next mutation.
func (d *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.ReadableBytes() < n {
		return nil, ErrShortBuffer
	}
	v := d.b[d.cursor : d.cursor+n]
	d.cursor += n
	return v, nil
}

// ReadAll reads every remaining byte without requiring a length prefix; used
// for PUBLISH payloads whose length is implicit in the frame.
func (d *Buffer) ReadAll() []byte {
	v := d.b[d.cursor:]
	d.cursor = len(d.b)
	return v
}

// ReadString reads a uint16-length-prefixed UTF-8 string body.
func (d *Buffer) ReadString() (string, error) {
	n, err := d.ReadUint16()
	if err != nil {
		return "", err
	}
	if d.ReadableBytes() < int(n) {
		return "", ErrShortBuffer
	}
	v, _ := d.ReadBytes(int(n))
	return string(v), nil
}

// ReadBinary reads a uint16-length-prefixed binary blob.
func (d *Buffer) ReadBinary() ([]byte, error) {
	n, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	if d.ReadableBytes() < int(n) {
		return nil, ErrShortBuffer
	}
	v, _ := d.ReadBytes(int(n))
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Sub carves out the next n unread bytes as a new read-only Buffer,
// advancing this Buffer's cursor past them. Used to hand a packet's body to
// a type-specific decoder without copying.
func (d *Buffer) Sub(n int) (*Buffer, error) {
	v, err := d.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewFrom(v), nil
}
