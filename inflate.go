package rawimage

import (
	"hash/adler32"
	"sync"
)

// Deflate decoding, RFC 1950 and RFC 1951.

const (
	fastBits = 9 // Width of the direct Huffman lookup.
	fastMask = 1<<fastBits - 1
)

var (
	lengthBase  = [31]uint16{3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258, 0, 0}
	lengthExtra = [31]uint8{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0, 0, 0}
	distBase    = [32]uint16{1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577, 0, 0}
	distExtra   = [32]uint8{0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13, 0, 0}

	// Order in which code length code lengths are transmitted.
	codeLengthOrder = [19]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}
)

// Fixed Huffman tables, shared read-only after the first use.
var (
	fixedOnce sync.Once
	fixedLit  huffman
	fixedDist huffman
)

func buildFixed() {
	var lengths [288]uint8
	for i := range lengths {
		switch {
		case i < 144:
			lengths[i] = 8
		case i < 256:
			lengths[i] = 9
		case i < 280:
			lengths[i] = 7
		default:
			lengths[i] = 8
		}
	}

	fixedLit.build(lengths[:])

	var dist [32]uint8
	for i := range dist {
		dist[i] = 5
	}

	fixedDist.build(dist[:])
}

// huffman is a canonical Huffman decoder. Codes up to fastBits long resolve
// with one lookup; longer ones fall back to a per-length search.
type huffman struct {
	fast      [1 << fastBits]uint16 // length<<9 | symbol, 0 when the code is longer
	firstCode [16]uint16
	maxCode   [17]int // first code past each length, shifted to 16 bits
	firstSym  [16]uint16
	size      [288]uint8
	value     [288]uint16
}

// bitReverse reverses the low n bits of v.
func bitReverse(v, n int) int {
	r := 0
	for i := 0; i < n; i++ {
		r = r<<1 | v&1
		v >>= 1
	}

	return r
}

// build constructs the decoder from per-symbol code lengths.
func (h *huffman) build(lengths []uint8) {
	var sizes [17]int
	var nextCode [16]int

	h.fast = [1 << fastBits]uint16{}

	for _, l := range lengths {
		sizes[l]++
	}

	sizes[0] = 0

	for i := 1; i < 16; i++ {
		if sizes[i] > 1<<i {
			fail(ErrCorruptData, "bad huffman code lengths")
		}
	}

	code, k := 0, 0

	for i := 1; i < 16; i++ {
		nextCode[i] = code
		h.firstCode[i] = uint16(code)
		h.firstSym[i] = uint16(k)
		code += sizes[i]

		if sizes[i] != 0 && code-1 >= 1<<i {
			fail(ErrCorruptData, "huffman code lengths over-subscribed")
		}

		h.maxCode[i] = code << (16 - i)
		code <<= 1
		k += sizes[i]
	}

	h.maxCode[16] = 0x10000

	for sym, l := range lengths {
		if l == 0 {
			continue
		}

		c := nextCode[l] - int(h.firstCode[l]) + int(h.firstSym[l])
		h.size[c] = l
		h.value[c] = uint16(sym)

		if l <= fastBits {
			for j := bitReverse(nextCode[l], int(l)); j < 1<<fastBits; j += 1 << l {
				h.fast[j] = uint16(l)<<9 | uint16(sym)
			}
		}

		nextCode[l]++
	}
}

// inflater holds the state of one deflate stream.
type inflater struct {
	src    []byte
	pos    int
	bits   uint64 // LSB-first bit buffer
	nbits  int
	padded int // zero bits appended past the end of src

	out []byte
	n   int

	lit, dist *huffman
	dyn       []huffman // code length, literal and distance tables of dynamic blocks
}

// maxExpansion bounds deflate output per input byte: a 258-byte match coded in two bits.
const maxExpansion = 1032

// inflate decompresses src into exactly size bytes. A zlib stream carries a
// header and an Adler-32 trailer; a raw stream has neither.
func inflate(a *arena, src []byte, size int, raw bool) []byte {
	if int64(size) > int64(len(src))*maxExpansion+64 {
		failf(ErrCorruptData, "%d bytes of compressed data can't hold %d bytes", len(src), size)
	}

	z := &inflater{src: src, out: a.bytes(size)}

	if !raw {
		z.zlibHeader()
	}

	fixedOnce.Do(buildFixed)

	for {
		final := z.getBits(1)
		typ := z.getBits(2)

		switch typ {
		case 0:
			z.stored()
		case 1:
			z.lit, z.dist = &fixedLit, &fixedDist
			z.codes()
		case 2:
			z.dynamicTables(a)
			z.codes()
		default:
			fail(ErrCorruptData, "bad deflate block type")
		}

		if final == 1 {
			break
		}
	}

	if z.n != size {
		failf(ErrCorruptData, "not enough image data: %d of %d bytes", z.n, size)
	}

	if !raw {
		z.align()

		want := uint32(z.getBits(8))<<24 | uint32(z.getBits(8))<<16 | uint32(z.getBits(8))<<8 | uint32(z.getBits(8))
		if adler32.Checksum(z.out) != want {
			fail(ErrCorruptData, "adler32 mismatch")
		}
	}

	return z.out
}

func (z *inflater) zlibHeader() {
	if len(z.src) < 2 {
		fail(ErrEndOfInput, "missing zlib header")
	}

	cmf, flg := int(z.src[0]), int(z.src[1])
	z.pos = 2

	switch {
	case (cmf*256+flg)%31 != 0:
		fail(ErrCorruptData, "bad zlib header")
	case flg&32 != 0:
		fail(ErrCorruptData, "preset dictionary not allowed")
	case cmf&15 != 8:
		fail(ErrCorruptData, "bad compression method")
	}
}

// fill tops the bit buffer up to at least 57 bits, padding with zeros past the end.
func (z *inflater) fill() {
	for z.nbits <= 56 {
		var b byte
		if z.pos < len(z.src) {
			b = z.src[z.pos]
			z.pos++
		} else {
			z.padded += 8
		}

		z.bits |= uint64(b) << uint(z.nbits)
		z.nbits += 8
	}
}

// consume drops n bits and fails if that reaches into the padding.
func (z *inflater) consume(n int) {
	z.bits >>= uint(n)
	z.nbits -= n

	if z.nbits < z.padded {
		fail(ErrEndOfInput, "deflate stream truncated")
	}
}

func (z *inflater) getBits(n int) int {
	if z.nbits < n {
		z.fill()
	}

	v := int(z.bits & (1<<uint(n) - 1))
	z.consume(n)

	return v
}

// align discards bits up to the next byte boundary.
func (z *inflater) align() {
	if r := z.nbits & 7; r != 0 {
		z.getBits(r)
	}
}

func (z *inflater) decodeSym(h *huffman) int {
	if z.nbits < 16 {
		z.fill()
	}

	if b := h.fast[z.bits&fastMask]; b != 0 {
		z.consume(int(b >> 9))

		return int(b & 511)
	}

	k := bitReverse(int(z.bits&0xffff), 16)

	s := fastBits + 1
	for k >= h.maxCode[s] {
		s++
	}

	if s >= 16 {
		fail(ErrCorruptData, "bad huffman code")
	}

	c := k>>(16-s) - int(h.firstCode[s]) + int(h.firstSym[s])
	if c >= len(h.size) || int(h.size[c]) != s {
		fail(ErrCorruptData, "bad huffman code")
	}

	z.consume(s)

	return int(h.value[c])
}

func (z *inflater) stored() {
	z.align()

	length := z.getBits(16)
	nlength := z.getBits(16)

	if length != nlength^0xffff {
		fail(ErrCorruptData, "corrupt stored block length")
	}

	if z.n+length > len(z.out) {
		fail(ErrCorruptData, "too much image data")
	}

	// Drain whole bytes still held in the bit buffer.
	for length > 0 && z.nbits > 0 {
		z.out[z.n] = byte(z.getBits(8))
		z.n++
		length--
	}

	if length == 0 {
		return
	}

	if z.pos+length > len(z.src) {
		fail(ErrEndOfInput, "stored block truncated")
	}

	copy(z.out[z.n:], z.src[z.pos:z.pos+length])
	z.pos += length
	z.n += length
}

func (z *inflater) dynamicTables(a *arena) {
	hlit := z.getBits(5) + 257
	hdist := z.getBits(5) + 1
	hclen := z.getBits(4) + 4

	if hlit > 286 || hdist > 30 {
		fail(ErrCorruptData, "too many length or distance codes")
	}

	var clLengths [19]uint8
	for i := 0; i < hclen; i++ {
		clLengths[codeLengthOrder[i]] = uint8(z.getBits(3))
	}

	if z.dyn == nil {
		z.dyn = scratch[huffman](a, 3)
	}

	cl, lit, dist := &z.dyn[0], &z.dyn[1], &z.dyn[2]
	cl.build(clLengths[:])

	var lengths [286 + 30]uint8

	total := hlit + hdist
	for n := 0; n < total; {
		c := z.decodeSym(cl)

		switch {
		case c < 16:
			lengths[n] = uint8(c)
			n++

			continue
		case c == 16:
			if n == 0 {
				fail(ErrCorruptData, "repeat with no previous length")
			}

			c = z.getBits(2) + 3
			if n+c > total {
				fail(ErrCorruptData, "bad code lengths")
			}

			prev := lengths[n-1]
			for ; c > 0; c-- {
				lengths[n] = prev
				n++
			}
		case c == 17, c == 18:
			if c == 17 {
				c = z.getBits(3) + 3
			} else {
				c = z.getBits(7) + 11
			}

			if n+c > total {
				fail(ErrCorruptData, "bad code lengths")
			}

			n += c // lengths are already zero
		default:
			fail(ErrCorruptData, "bad code lengths")
		}
	}

	lit.build(lengths[:hlit])
	dist.build(lengths[hlit:total])

	z.lit, z.dist = lit, dist
}

// codes decodes one Huffman-compressed block with the current tables.
func (z *inflater) codes() {
	out := z.out

	for {
		sym := z.decodeSym(z.lit)

		if sym < 256 {
			if z.n >= len(out) {
				fail(ErrCorruptData, "too much image data")
			}

			out[z.n] = byte(sym)
			z.n++

			continue
		}

		if sym == 256 {
			return
		}

		sym -= 257
		if sym >= 29 {
			fail(ErrCorruptData, "bad length code")
		}

		length := int(lengthBase[sym])
		if e := lengthExtra[sym]; e != 0 {
			length += z.getBits(int(e))
		}

		ds := z.decodeSym(z.dist)
		if ds >= 30 {
			fail(ErrCorruptData, "bad distance code")
		}

		dist := int(distBase[ds])
		if e := distExtra[ds]; e != 0 {
			dist += z.getBits(int(e))
		}

		if dist > z.n {
			fail(ErrCorruptData, "distance too far back")
		}

		if z.n+length > len(out) {
			fail(ErrCorruptData, "too much image data")
		}

		if dist >= length {
			copy(out[z.n:z.n+length], out[z.n-dist:])
			z.n += length

			continue
		}

		// Overlapping copy repeats the last dist bytes.
		for i := 0; i < length; i++ {
			out[z.n] = out[z.n-dist]
			z.n++
		}
	}
}
