package rawimage

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Process-wide allocation accounting. Advisory only, decoding never reads it.
var (
	allocTotal atomic.Int64
	allocLive  atomic.Int64
)

// Allocations returns the number of scratch allocations made since process start.
func Allocations() int64 {
	return allocTotal.Load()
}

// LiveAllocations returns the number of scratch allocations not yet released.
// It is back to its previous value once a decode call returns.
func LiveAllocations() int64 {
	return allocLive.Load()
}

// Byte buffers are recycled in power-of-two classes from 4 KiB to 16 MiB.
const (
	minClassBits = 12
	maxClassBits = 24
	numClasses   = maxClassBits - minClassBits + 1
)

var bytePools [numClasses]sync.Pool

// lutPool recycles JPEG Huffman lookup tables, which are large and fixed size.
var lutPool = sync.Pool{
	New: func() any {
		return new(huffLUT)
	},
}

// arena owns the transient memory of one decode call.
// It is not safe for concurrent use.
type arena struct {
	bufs [][]byte
	luts []*huffLUT
	n    int64 // allocations currently held
}

// class returns the pool class for a buffer of n bytes, or -1 if it is not pooled.
func class(n int) int {
	if n <= 0 || n > 1<<maxClassBits {
		return -1
	}

	b := bits.Len(uint(n - 1))
	if b < minClassBits {
		b = minClassBits
	}

	return b - minClassBits
}

func (a *arena) count() {
	a.n++
	allocTotal.Add(1)
	allocLive.Add(1)
}

// bytes returns a zeroed scratch slice of length n.
func (a *arena) bytes(n int) []byte {
	a.count()

	c := class(n)
	if c < 0 {
		return make([]byte, n)
	}

	var b []byte
	if p, ok := bytePools[c].Get().(*[]byte); ok {
		b = (*p)[:n]
		clear(b)
	} else {
		b = make([]byte, n, 1<<(c+minClassBits))
	}

	a.bufs = append(a.bufs, b)

	return b
}

// grow returns a scratch slice holding b with room for at least extra more bytes.
func (a *arena) grow(b []byte, extra int) []byte {
	if len(b)+extra <= cap(b) {
		return b
	}

	size := 2 * cap(b)
	if size < len(b)+extra {
		size = len(b) + extra
	}

	nb := a.bytes(size)[:len(b)]
	copy(nb, b)

	return nb
}

// lut returns a cleared Huffman lookup table.
func (a *arena) lut() *huffLUT {
	a.count()

	t := lutPool.Get().(*huffLUT)
	*t = huffLUT{}
	a.luts = append(a.luts, t)

	return t
}

// output allocates a caller-owned pixel buffer. It is counted but never recycled.
func (a *arena) output(n int) []byte {
	allocTotal.Add(1)

	return make([]byte, n)
}

// scratch returns a zeroed typed scratch slice of length n.
func scratch[T any](a *arena, n int) []T {
	a.count()

	return make([]T, n)
}

// release returns pooled memory and drops all references. The arena can be reused afterwards.
func (a *arena) release() {
	for i, b := range a.bufs {
		if c := class(cap(b)); c >= 0 && cap(b) == 1<<(c+minClassBits) {
			b = b[:0]
			bytePools[c].Put(&b)
		}

		a.bufs[i] = nil
	}

	for i, t := range a.luts {
		lutPool.Put(t)
		a.luts[i] = nil
	}

	allocLive.Add(-a.n)

	a.bufs = a.bufs[:0]
	a.luts = a.luts[:0]
	a.n = 0
}
