package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const word = 4

var (
	// ErrMalformed is returned when a payload is shorter or longer than its
	// header describes.
	ErrMalformed = errors.New("malformed blob")

	// ErrOverrun is returned when a Writer is asked to write past its capacity.
	ErrOverrun = errors.New("blob writer overrun")

	// ErrUnexpectedOp is returned when a decode call sees the wrong op tag.
	ErrUnexpectedOp = errors.New("unexpected op tag")
)

var order = binary.LittleEndian

// Blob is an owned, opaque byte buffer; the unit of transfer.
type Blob []byte

// Writer appends fixed-width values to a buffer of fixed capacity.
type Writer struct {
	buf []byte
	off int
}

// NewWriter allocates a Writer able to hold exactly size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, size)}
}

func (w *Writer) reserve(n int) ([]byte, error) {
	if n < 0 || w.off+n > len(w.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, capacity %d", ErrOverrun, n, w.off, len(w.buf))
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b, nil
}

// Int32 writes one 32-bit integer.
func (w *Writer) Int32(v int32) error {
	b, err := w.reserve(word)
	if err != nil {
		return err
	}
	order.PutUint32(b, uint32(v))
	return nil
}

// Int32s writes a run of 32-bit integers.
func (w *Writer) Int32s(vs []int32) error {
	b, err := w.reserve(len(vs) * word)
	if err != nil {
		return err
	}
	for i, v := range vs {
		order.PutUint32(b[i*word:], uint32(v))
	}
	return nil
}

// Float32s writes a run of 32-bit floats.
func (w *Writer) Float32s(vs []float32) error {
	b, err := w.reserve(len(vs) * word)
	if err != nil {
		return err
	}
	for i, v := range vs {
		order.PutUint32(b[i*word:], math.Float32bits(v))
	}
	return nil
}

// Remaining reports the unwritten capacity in bytes.
func (w *Writer) Remaining() int { return len(w.buf) - w.off }

// Blob returns the encoded buffer. It fails if the buffer was not filled
// exactly, which always indicates a size computation bug in the encoder.
func (w *Writer) Blob() (Blob, error) {
	if w.off != len(w.buf) {
		return nil, fmt.Errorf("%w: %d of %d bytes written", ErrMalformed, w.off, len(w.buf))
	}
	return Blob(w.buf), nil
}

// Reader consumes fixed-width values from a Blob.
type Reader struct {
	buf []byte
	off int
}

// NewReader starts a cursor at the beginning of b.
func NewReader(b Blob) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.buf))
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Int32 reads one 32-bit integer.
func (r *Reader) Int32() (int32, error) {
	b, err := r.take(word)
	if err != nil {
		return 0, err
	}
	return int32(order.Uint32(b)), nil
}

// Count reads a 32-bit integer that must be non-negative.
func (r *Reader) Count() (int, error) {
	v, err := r.Int32()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrMalformed, v)
	}
	return int(v), nil
}

// Int32s reads n 32-bit integers into a new slice.
func (r *Reader) Int32s(n int) ([]int32, error) {
	b, err := r.take(n * word)
	if err != nil {
		return nil, err
	}
	vs := make([]int32, n)
	for i := range vs {
		vs[i] = int32(order.Uint32(b[i*word:]))
	}
	return vs, nil
}

// Float32s reads n 32-bit floats into a new slice.
func (r *Reader) Float32s(n int) ([]float32, error) {
	b, err := r.take(n * word)
	if err != nil {
		return nil, err
	}
	vs := make([]float32, n)
	for i := range vs {
		vs[i] = math.Float32frombits(order.Uint32(b[i*word:]))
	}
	return vs, nil
}

// Remaining reports the unread length in bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Finish fails if any bytes were left unread.
func (r *Reader) Finish() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf)-r.off)
	}
	return nil
}
