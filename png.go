package rawimage

import (
	"hash/crc32"
)

// PNG color types.
const (
	ctGrayscale      = 0
	ctTrueColor      = 2
	ctPaletted       = 3
	ctGrayscaleAlpha = 4
	ctTrueColorAlpha = 6
)

// Filter types.
const (
	ftNone    = 0
	ftSub     = 1
	ftUp      = 2
	ftAverage = 3
	ftPaeth   = 4
)

// Adam7 pass geometry.
var adam7 = [7]struct{ xoff, yoff, xstep, ystep int }{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// pngDecoder holds the state of one PNG decode.
type pngDecoder struct {
	r   *reader
	a   *arena
	ctx *decodeContext

	width, height int
	depth         int
	colorType     int
	interlace     int
	iphone        bool // CgBI: raw deflate, BGR(A) order

	palette    [256][4]byte
	paletteLen int
	hasTRNS    bool
	trnsKey    [3]uint16

	idat     []byte
	seenIHDR bool
	seenIDAT bool

	tmp [3 * 256]byte
}

// channels is the number of samples per pixel stored in the file.
func (d *pngDecoder) channels() int {
	switch d.colorType {
	case ctTrueColor:
		return 3
	case ctGrayscaleAlpha:
		return 2
	case ctTrueColorAlpha:
		return 4
	}

	return 1
}

// outComponents is the native channel count of the decoded image.
func (d *pngDecoder) outComponents() int {
	switch d.colorType {
	case ctPaletted:
		if d.hasTRNS {
			return 4
		}

		return 3
	case ctGrayscale, ctTrueColor:
		if d.hasTRNS {
			return d.channels() + 1
		}
	}

	return d.channels()
}

// decodePNG reads the signature, then chunks until IEND.
// If configOnly is true, it stops at the first IDAT chunk.
func decodePNG(ctx *decodeContext, configOnly bool) *rawImage {
	d := &pngDecoder{r: ctx.r, a: &ctx.a, ctx: ctx}

	if string(d.r.next(len(pngSignature))) != string(pngSignature) {
		fail(ErrInvalidHeader, "not a PNG file")
	}

	for first := true; ; first = false {
		length := d.r.u32be()
		if length > 1<<31-1 {
			fail(ErrCorruptData, "chunk too long")
		}

		var typ [4]byte
		d.r.readFull(typ[:])

		n := int(length)
		crc := crc32.Update(0, crc32.IEEETable, typ[:])

		if !d.seenIHDR && string(typ[:]) != "IHDR" && !(first && string(typ[:]) == "CgBI") {
			fail(ErrCorruptData, "first chunk is not IHDR")
		}

		switch string(typ[:]) {
		case "CgBI":
			if !first {
				fail(ErrUnsupported, "misplaced CgBI chunk")
			}

			d.iphone = true
			d.skip(n, crc)
		case "IHDR":
			if d.seenIHDR {
				fail(ErrCorruptData, "multiple IHDR chunks")
			}

			if n != 13 {
				fail(ErrInvalidHeader, "bad IHDR length")
			}

			d.parseIHDR(d.small(n, crc))
		case "PLTE":
			if n > 3*256 || n%3 != 0 || n == 0 {
				fail(ErrCorruptData, "bad PLTE length")
			}

			if d.seenIDAT {
				fail(ErrCorruptData, "PLTE after IDAT")
			}

			d.parsePLTE(d.small(n, crc))
		case "tRNS":
			if d.seenIDAT {
				fail(ErrCorruptData, "tRNS after IDAT")
			}

			if n > 256 {
				fail(ErrCorruptData, "bad tRNS length")
			}

			d.parseTRNS(d.small(n, crc))
		case "IDAT":
			if d.colorType == ctPaletted && d.paletteLen == 0 {
				fail(ErrCorruptData, "missing PLTE")
			}

			if !d.seenIDAT {
				d.seenIDAT = true
				// 16-bit samples are inflated at full width before they are narrowed.
				d.ctx.checkSize(d.width, d.height, max(d.outComponents(), d.channels()*d.depth/8))

				if configOnly {
					return &rawImage{w: d.width, h: d.height, comp: d.outComponents()}
				}
			}

			d.readIDAT(n, crc)
		case "IEND":
			if !d.seenIDAT {
				fail(ErrCorruptData, "no image data")
			}

			d.skip(n, crc)

			return d.decodeImage()
		default:
			if typ[0]&0x20 == 0 {
				failf(ErrUnsupported, "unknown critical chunk %q", typ[:])
			}

			d.skip(n, crc)
		}
	}
}

// checkCRC reads a chunk CRC and compares it.
func (d *pngDecoder) checkCRC(crc uint32) {
	if d.r.u32be() != crc {
		fail(ErrCorruptData, "invalid checksum")
	}
}

// small reads a chunk payload that fits in tmp and verifies its CRC.
func (d *pngDecoder) small(n int, crc uint32) []byte {
	p := d.tmp[:n]
	d.r.readFull(p)
	d.checkCRC(crc32.Update(crc, crc32.IEEETable, p))

	return p
}

// skip discards a chunk payload and verifies its CRC.
func (d *pngDecoder) skip(n int, crc uint32) {
	d.r.need(int64(n) + 4)

	for n > 0 {
		p := d.r.next(min(n, chunkSize))
		crc = crc32.Update(crc, crc32.IEEETable, p)
		n -= len(p)
	}

	d.checkCRC(crc)
}

// readIDAT appends a chunk payload to the compressed stream.
// The buffer grows as data arrives, so a lying length can't force a large allocation.
func (d *pngDecoder) readIDAT(n int, crc uint32) {
	d.r.need(int64(n) + 4)

	for n > 0 {
		p := d.r.next(min(n, chunkSize))
		crc = crc32.Update(crc, crc32.IEEETable, p)
		d.idat = append(d.a.grow(d.idat, len(p)), p...)
		n -= len(p)
	}

	d.checkCRC(crc)
}

func (d *pngDecoder) parseIHDR(p []byte) {
	w := int(uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]))
	h := int(uint32(p[4])<<24 | uint32(p[5])<<16 | uint32(p[6])<<8 | uint32(p[7]))

	d.ctx.checkSize(w, h, 1)

	d.width, d.height = w, h
	d.depth = int(p[8])
	d.colorType = int(p[9])

	valid := false

	switch d.colorType {
	case ctGrayscale:
		valid = d.depth == 1 || d.depth == 2 || d.depth == 4 || d.depth == 8 || d.depth == 16
	case ctTrueColor, ctGrayscaleAlpha, ctTrueColorAlpha:
		valid = d.depth == 8 || d.depth == 16
	case ctPaletted:
		valid = d.depth == 1 || d.depth == 2 || d.depth == 4 || d.depth == 8
	}

	if !valid {
		failf(ErrInvalidHeader, "bit depth %d, color type %d", d.depth, d.colorType)
	}

	if p[10] != 0 {
		fail(ErrInvalidHeader, "bad compression method")
	}

	if p[11] != 0 {
		fail(ErrInvalidHeader, "bad filter method")
	}

	if p[12] > 1 {
		fail(ErrInvalidHeader, "bad interlace method")
	}

	d.interlace = int(p[12])
	d.seenIHDR = true
}

func (d *pngDecoder) parsePLTE(p []byte) {
	d.paletteLen = len(p) / 3

	for i := 0; i < d.paletteLen; i++ {
		d.palette[i] = [4]byte{p[3*i], p[3*i+1], p[3*i+2], 0xff}
	}
}

func (d *pngDecoder) parseTRNS(p []byte) {
	switch d.colorType {
	case ctPaletted:
		if d.paletteLen == 0 {
			fail(ErrCorruptData, "tRNS before PLTE")
		}

		if len(p) > d.paletteLen {
			fail(ErrCorruptData, "bad tRNS length")
		}

		for i, a := range p {
			d.palette[i][3] = a
		}
	case ctGrayscale:
		if len(p) != 2 {
			fail(ErrCorruptData, "bad tRNS length")
		}

		d.trnsKey[0] = uint16(p[0])<<8 | uint16(p[1])
	case ctTrueColor:
		if len(p) != 6 {
			fail(ErrCorruptData, "bad tRNS length")
		}

		for i := range d.trnsKey {
			d.trnsKey[i] = uint16(p[2*i])<<8 | uint16(p[2*i+1])
		}
	default:
		fail(ErrCorruptData, "tRNS with alpha channel")
	}

	d.hasTRNS = true
}

// rowBytes is the length of a filtered row of w pixels, without the filter byte.
func (d *pngDecoder) rowBytes(w int) int {
	return (w*d.channels()*d.depth + 7) / 8
}

// rawSize is the inflated size of the image data.
func (d *pngDecoder) rawSize() int {
	if d.interlace == 0 {
		return d.height * (d.rowBytes(d.width) + 1)
	}

	size := 0

	for _, p := range adam7 {
		pw := (d.width - p.xoff + p.xstep - 1) / p.xstep
		ph := (d.height - p.yoff + p.ystep - 1) / p.ystep

		if pw > 0 && ph > 0 {
			size += ph * (d.rowBytes(pw) + 1)
		}
	}

	return size
}

// decodeImage inflates the collected IDAT data and builds the 8-bit image.
func (d *pngDecoder) decodeImage() *rawImage {
	raw := inflate(d.a, d.idat, d.rawSize(), d.iphone)

	comp := d.outComponents()
	dst := d.a.output(d.width * d.height * comp)

	if d.interlace == 0 {
		d.decodePass(raw, dst, comp, d.width, d.height, 0, 0, 1, 1)
	} else {
		for _, p := range adam7 {
			pw := (d.width - p.xoff + p.xstep - 1) / p.xstep
			ph := (d.height - p.yoff + p.ystep - 1) / p.ystep

			if pw == 0 || ph == 0 {
				continue
			}

			raw = d.decodePass(raw, dst, comp, pw, ph, p.xoff, p.yoff, p.xstep, p.ystep)
		}
	}

	if d.iphone && d.ctx.opts.ConvertIPhone && comp >= 3 {
		deIPhone(dst, comp, d.ctx.opts.Unpremultiply)
	}

	return &rawImage{w: d.width, h: d.height, comp: comp, pix: dst}
}

// decodePass unfilters a pw x ph pass in place and scatters its pixels into dst.
// It returns the data following the pass.
func (d *pngDecoder) decodePass(raw, dst []byte, comp, pw, ph, xoff, yoff, xstep, ystep int) []byte {
	n := d.rowBytes(pw)
	bpp := max(1, d.channels()*d.depth/8)

	prev := d.a.bytes(n)

	var line []byte
	if xstep != 1 {
		line = d.a.bytes(pw * comp)
	}

	for y := 0; y < ph; y++ {
		ft := raw[0]
		cur := raw[1 : 1+n]
		raw = raw[1+n:]

		unfilter(ft, cur, prev, bpp)
		prev = cur

		dy := yoff + y*ystep

		if xstep == 1 {
			d.expandRow(dst[dy*d.width*comp:(dy+1)*d.width*comp], cur, pw, comp)

			continue
		}

		d.expandRow(line, cur, pw, comp)

		for x := 0; x < pw; x++ {
			o := (dy*d.width + xoff + x*xstep) * comp
			copy(dst[o:o+comp], line[x*comp:])
		}
	}

	return raw
}

// unfilter reverses the filter of one row. prev is the unfiltered previous row, zero for the first.
func unfilter(ft byte, cur, prev []byte, bpp int) {
	switch ft {
	case ftNone:
	case ftSub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case ftUp:
		for i, p := range prev {
			cur[i] += p
		}
	case ftAverage:
		for i := 0; i < bpp; i++ {
			cur[i] += prev[i] / 2
		}

		for i := bpp; i < len(cur); i++ {
			cur[i] += uint8((int(cur[i-bpp]) + int(prev[i])) / 2)
		}
	case ftPaeth:
		filterPaeth(cur, prev, bpp)
	default:
		failf(ErrCorruptData, "bad filter type %d", ft)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}

func filterPaeth(cur, prev []byte, bpp int) {
	for i := 0; i < bpp; i++ {
		cur[i] += prev[i]
	}

	for i := bpp; i < len(cur); i++ {
		a, b, c := int(cur[i-bpp]), int(prev[i]), int(prev[i-bpp])
		p := a + b - c
		pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)

		switch {
		case pa <= pb && pa <= pc:
			cur[i] += uint8(a)
		case pb <= pc:
			cur[i] += uint8(b)
		default:
			cur[i] += uint8(c)
		}
	}
}

// depthScale maps a sub-byte grey sample to 8 bits.
var depthScale = [9]byte{0, 0xff, 0x55, 0, 0x11, 0, 0, 0, 0x01}

// expandRow converts one unfiltered row of w pixels to comp 8-bit channels.
func (d *pngDecoder) expandRow(dst, src []byte, w, comp int) {
	switch {
	case d.colorType == ctPaletted:
		for x := 0; x < w; x++ {
			i := d.sample(src, x)

			e := [4]byte{0, 0, 0, 0xff}
			if i < d.paletteLen {
				e = d.palette[i]
			}

			copy(dst[x*comp:x*comp+comp], e[:comp])
		}
	case d.depth < 8:
		key := int(d.trnsKey[0])

		for x := 0; x < w; x++ {
			v := d.sample(src, x)
			dst[x*comp] = byte(v) * depthScale[d.depth]

			if comp == 2 {
				dst[x*2+1] = alphaFor(v == key)
			}
		}
	case d.depth == 8:
		ch := d.channels()

		for x := 0; x < w; x++ {
			s := src[x*ch : x*ch+ch]
			copy(dst[x*comp:], s)

			if comp > ch {
				match := int(s[0]) == int(d.trnsKey[0])
				if ch == 3 {
					match = match && int(s[1]) == int(d.trnsKey[1]) && int(s[2]) == int(d.trnsKey[2])
				}

				dst[x*comp+ch] = alphaFor(match)
			}
		}
	default:
		ch := d.channels()

		for x := 0; x < w; x++ {
			s := src[x*ch*2 : (x+1)*ch*2]
			match := true

			for c := 0; c < ch; c++ {
				dst[x*comp+c] = s[2*c]

				if c < 3 && uint16(s[2*c])<<8|uint16(s[2*c+1]) != d.trnsKey[c] {
					match = false
				}
			}

			if comp > ch {
				dst[x*comp+ch] = alphaFor(match)
			}
		}
	}
}

// sample returns the x-th sub-byte or 8-bit sample of a single-channel row.
func (d *pngDecoder) sample(src []byte, x int) int {
	if d.depth == 8 {
		return int(src[x])
	}

	bit := x * d.depth
	shift := 8 - d.depth - bit&7

	return int(src[bit>>3]>>uint(shift)) & (1<<d.depth - 1)
}

func alphaFor(transparent bool) byte {
	if transparent {
		return 0
	}

	return 0xff
}

// deIPhone swaps BGR(A) to RGB(A), optionally dividing out premultiplied alpha.
func deIPhone(pix []byte, comp int, unpremultiply bool) {
	for i := 0; i+comp <= len(pix); i += comp {
		p := pix[i : i+comp]
		p[0], p[2] = p[2], p[0]

		if comp != 4 || !unpremultiply {
			continue
		}

		a := int(p[3])
		if a == 0 {
			continue
		}

		for c := 0; c < 3; c++ {
			p[c] = byte(min(255, (int(p[c])*255+a/2)/a))
		}
	}
}
