package rawimage

import (
	"errors"
	"fmt"
	"io"
)

// chunkSize is how much a streamed reader asks for per refill.
const chunkSize = 32 << 10

// maxEmptyReads is how many (0, nil) reads in a row are taken as a stalled source.
const maxEmptyReads = 100

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// reader is a forward cursor over a byte slice or a chunked io.Reader.
// Reads past the end panic with ErrEndOfInput; they are recovered at the decode entry point.
type reader struct {
	src  io.Reader // nil for in-memory sources
	buf  []byte    // window; for in-memory sources the whole input
	pos  int       // read cursor in buf
	end  int       // number of valid bytes in buf
	eof  bool      // src is exhausted
	base int64     // absolute offset of buf[0]
	size int64     // total length if known, else -1
}

func newBytesReader(data []byte) *reader {
	return &reader{buf: data, end: len(data), eof: true, size: int64(len(data))}
}

func newStreamReader(r io.Reader) *reader {
	size := int64(-1)
	if rl, ok := r.(readerWithLen); ok {
		size = int64(rl.Len())
	}

	return &reader{src: r, size: size}
}

// fill tries to make n bytes available past pos. It returns false if the source ends first.
func (r *reader) fill(n int) bool {
	if r.end-r.pos >= n {
		return true
	}

	if r.eof {
		return false
	}

	// Compact the window and grow it if the request does not fit.
	if r.pos > 0 {
		copy(r.buf, r.buf[r.pos:r.end])
		r.base += int64(r.pos)
		r.end -= r.pos
		r.pos = 0
	}

	if want := n + chunkSize; cap(r.buf) < want {
		nb := make([]byte, want)
		copy(nb, r.buf[:r.end])
		r.buf = nb
	}

	r.buf = r.buf[:cap(r.buf)]

	for empty := 0; r.end < n; {
		m, err := r.src.Read(r.buf[r.end:])
		r.end += m

		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true

				break
			}

			panic(errDecode{fmt.Errorf("rawimage: read: %w", err)})
		}

		if m > 0 {
			empty = 0

			continue
		}

		if empty++; empty >= maxEmptyReads {
			panic(errDecode{&FormatError{Kind: ErrEndOfInput, Reason: io.ErrNoProgress.Error()}})
		}
	}

	return r.end-r.pos >= n
}

// offset returns the absolute position of the cursor.
func (r *reader) offset() int64 {
	return r.base + int64(r.pos)
}

// atEnd reports whether no bytes remain.
func (r *reader) atEnd() bool {
	return !r.fill(1)
}

// need fails early if the total length is known and fewer than n bytes remain.
func (r *reader) need(n int64) {
	if r.size >= 0 && n > r.size-r.offset() {
		fail(ErrEndOfInput, "declared data exceeds input")
	}
}

// peek returns up to n upcoming bytes without consuming them.
func (r *reader) peek(n int) []byte {
	r.fill(n)

	end := r.pos + n
	if end > r.end {
		end = r.end
	}

	return r.buf[r.pos:end]
}

// u8 reads one byte.
func (r *reader) u8() byte {
	if r.pos < r.end {
		b := r.buf[r.pos]
		r.pos++

		return b
	}

	if !r.fill(1) {
		fail(ErrEndOfInput, "unexpected end of data")
	}

	b := r.buf[r.pos]
	r.pos++

	return b
}

// byteOK reads one byte, reporting false instead of failing at the end.
func (r *reader) byteOK() (byte, bool) {
	if r.pos >= r.end && !r.fill(1) {
		return 0, false
	}

	b := r.buf[r.pos]
	r.pos++

	return b, true
}

// next returns a view of the next n bytes. The view is valid until the next reader call.
func (r *reader) next(n int) []byte {
	if n < 0 {
		fail(ErrCorruptData, "negative length")
	}

	if !r.fill(n) {
		fail(ErrEndOfInput, "unexpected end of data")
	}

	b := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n

	return b
}

// readFull copies len(p) bytes into p.
func (r *reader) readFull(p []byte) {
	for len(p) > 0 {
		if r.pos >= r.end && !r.fill(1) {
			fail(ErrEndOfInput, "unexpected end of data")
		}

		n := copy(p, r.buf[r.pos:r.end])
		r.pos += n
		p = p[n:]
	}
}

// skip discards n bytes.
func (r *reader) skip(n int) {
	if n < 0 {
		fail(ErrCorruptData, "negative skip")
	}

	for n > 0 {
		if r.pos >= r.end && !r.fill(1) {
			fail(ErrEndOfInput, "unexpected end of data")
		}

		k := r.end - r.pos
		if k > n {
			k = n
		}

		r.pos += k
		n -= k
	}
}

func (r *reader) u16be() int {
	b := r.next(2)

	return int(b[0])<<8 | int(b[1])
}

func (r *reader) u16le() int {
	b := r.next(2)

	return int(b[0]) | int(b[1])<<8
}

func (r *reader) u32be() uint32 {
	b := r.next(4)

	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (r *reader) u32le() uint32 {
	b := r.next(4)

	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
