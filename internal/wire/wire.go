// Package wire implements the fixed binary primitives shared by the schema
// table and the object file.
//
// Integers are little-endian and fixed width. Strings are written as a uvarint
// byte length followed by the UTF-8 bytes. Both Writer and Reader keep the
// first error they hit and turn every later call into a no-op, so callers can
// check Err once after a sequence of calls.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxStringLen bounds a single decoded string to reject corrupt length prefixes
// before allocating.
const MaxStringLen = 16 << 20

// ErrStringTooLong is returned when a decoded string length exceeds MaxStringLen.
var ErrStringTooLong = errors.New("string length exceeds limit")

// Writer writes primitives to an underlying io.Writer.
type Writer struct {
	w   io.Writer
	err error
	buf [binary.MaxVarintLen64]byte
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// Raw writes p as is.
func (w *Writer) Raw(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf[0] = b
	w.Raw(w.buf[:1])
}

// Bool writes 1 for true and 0 for false.
func (w *Writer) Bool(b bool) {
	if b {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// Int16 writes a little-endian 16 bits integer.
func (w *Writer) Int16(v int16) {
	binary.LittleEndian.PutUint16(w.buf[:2], uint16(v))
	w.Raw(w.buf[:2])
}

// Int32 writes a little-endian 32 bits integer.
func (w *Writer) Int32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[:4], uint32(v))
	w.Raw(w.buf[:4])
}

// Int64 writes a little-endian 64 bits integer.
func (w *Writer) Int64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[:8], uint64(v))
	w.Raw(w.buf[:8])
}

// Uvarint writes a variable length unsigned integer.
func (w *Writer) Uvarint(v uint64) {
	n := binary.PutUvarint(w.buf[:], v)
	w.Raw(w.buf[:n])
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) {
	w.Uvarint(uint64(len(s)))
	if w.err != nil || len(s) == 0 {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

// Bytes writes a length-prefixed byte slice.
func (w *Writer) Bytes(p []byte) {
	w.Uvarint(uint64(len(p)))
	w.Raw(p)
}

// Reader reads primitives from an underlying io.Reader.
type Reader struct {
	r   *bufio.Reader
	err error
	buf [8]byte
}

// NewReader returns a Reader on r. The Reader buffers, so r must not be read
// directly afterwards; use Rest to drain what is left.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{r: br}
	}
	return &Reader{r: bufio.NewReader(r)}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) fill(p []byte) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.r, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return false
	}
	return true
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	if !r.fill(r.buf[:1]) {
		return 0
	}
	return r.buf[0]
}

// Bool reads a byte and reports whether it is non-zero.
func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

// Int16 reads a little-endian 16 bits integer.
func (r *Reader) Int16() int16 {
	if !r.fill(r.buf[:2]) {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(r.buf[:2]))
}

// Int32 reads a little-endian 32 bits integer.
func (r *Reader) Int32() int32 {
	if !r.fill(r.buf[:4]) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(r.buf[:4]))
}

// Int64 reads a little-endian 64 bits integer.
func (r *Reader) Int64() int64 {
	if !r.fill(r.buf[:8]) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(r.buf[:8]))
}

// Uvarint reads a variable length unsigned integer.
func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = err
		return 0
	}
	return v
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	p := r.Bytes()
	return string(p)
}

// Bytes reads a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n > MaxStringLen {
		r.err = fmt.Errorf("%w: %d", ErrStringTooLong, n)
		return nil
	}
	if n == 0 {
		return nil
	}
	p := make([]byte, n)
	if !r.fill(p) {
		return nil
	}
	return p
}

// Rest reads everything left in the stream.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	p, err := io.ReadAll(r.r)
	if err != nil {
		r.err = err
		return nil
	}
	return p
}
