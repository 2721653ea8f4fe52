package rawimage

import "math/bits"

// Compression methods.
const (
	bmpRGB       = 0
	bmpRLE8      = 1
	bmpRLE4      = 2
	bmpBitfields = 3
)

// bmpMask extracts one channel from a 16 or 32-bit pixel.
type bmpMask struct {
	mask  uint32
	shift uint
	max   uint32
}

func newBMPMask(m uint32) bmpMask {
	if m == 0 {
		return bmpMask{}
	}

	shift := uint(bits.TrailingZeros32(m))

	return bmpMask{mask: m, shift: shift, max: m >> shift}
}

// value scales the masked field to 8 bits.
func (m bmpMask) value(v uint32) byte {
	if m.max == 0 {
		return 0
	}

	f := (v & m.mask) >> m.shift

	return byte((f*255 + m.max/2) / m.max)
}

type bmpDecoder struct {
	r   *reader
	ctx *decodeContext

	width, height int
	topDown       bool
	bpp           int
	compression   int
	hsz           int

	masks      [4]bmpMask // r, g, b, a
	palette    [256][3]byte
	paletteLen int
}

// decodeBMP reads the file and info headers, the palette or masks, then the pixel rows.
func decodeBMP(ctx *decodeContext, configOnly bool) *rawImage {
	d := &bmpDecoder{r: ctx.r, ctx: ctx}
	r := d.r

	if string(r.next(2)) != "BM" {
		fail(ErrInvalidHeader, "not a BMP file")
	}

	r.skip(8) // file size, reserved
	offset := int64(r.u32le())

	d.hsz = int(r.u32le())
	switch d.hsz {
	case 12, 40, 56, 108, 124:
	default:
		failf(ErrUnsupported, "DIB header size %d", d.hsz)
	}

	if d.hsz == 12 {
		d.width = r.u16le()
		d.height = r.u16le()
	} else {
		d.width = int(int32(r.u32le()))
		d.height = int(int32(r.u32le()))
	}

	if r.u16le() != 1 {
		fail(ErrInvalidHeader, "planes must be 1")
	}

	d.bpp = r.u16le()

	var headerMasks [4]uint32
	colors := 0

	if d.hsz != 12 {
		d.compression = int(r.u32le())
		r.skip(12) // image size, resolution
		colors = int(r.u32le())
		r.skip(4) // important colors

		if d.hsz >= 56 {
			for i := range headerMasks {
				headerMasks[i] = r.u32le()
			}
		}

		r.skip(14 + d.hsz - int(r.offset()))
	}

	if d.height < 0 {
		d.topDown = true
		d.height = -d.height
	}

	d.checkFormat()

	comp := d.setupMasks(headerMasks)
	d.ctx.checkSize(d.width, d.height, comp)

	if d.bpp <= 8 {
		d.readPalette(colors, offset)
	}

	if configOnly {
		return &rawImage{w: d.width, h: d.height, comp: comp}
	}

	if pos := r.offset(); offset < pos {
		failf(ErrCorruptData, "pixel data offset %d inside the headers", offset)
	} else {
		r.need(offset - pos)
		r.skip(int(offset - pos))
	}

	dst := ctx.a.output(d.width * d.height * comp)

	if d.compression == bmpRLE8 || d.compression == bmpRLE4 {
		d.readRLE(dst)
	} else {
		d.readRows(dst, comp)
	}

	if comp == 4 {
		opaqueIfNoAlpha(dst)
	}

	return &rawImage{w: d.width, h: d.height, comp: comp, pix: dst}
}

// checkFormat validates the combination of depth and compression.
func (d *bmpDecoder) checkFormat() {
	switch d.compression {
	case bmpRGB, bmpRLE8, bmpRLE4, bmpBitfields:
	default:
		failf(ErrUnsupported, "compression %d", d.compression)
	}

	switch d.bpp {
	case 1, 4, 8, 16, 24, 32:
	default:
		failf(ErrInvalidHeader, "%d bits per pixel", d.bpp)
	}

	switch {
	case d.compression == bmpRLE8 && d.bpp != 8, d.compression == bmpRLE4 && d.bpp != 4:
		failf(ErrInvalidHeader, "RLE with %d bits per pixel", d.bpp)
	case d.compression == bmpBitfields && d.bpp != 16 && d.bpp != 32:
		failf(ErrInvalidHeader, "bitfields with %d bits per pixel", d.bpp)
	case (d.compression == bmpRLE8 || d.compression == bmpRLE4) && d.topDown:
		fail(ErrInvalidHeader, "top-down RLE bitmap")
	}
}

// setupMasks picks the channel masks and returns the native channel count.
func (d *bmpDecoder) setupMasks(header [4]uint32) int {
	if d.bpp != 16 && d.bpp != 32 {
		return 3
	}

	m := header

	switch {
	case d.compression == bmpBitfields && d.hsz == 40:
		// The masks follow a plain info header.
		m = [4]uint32{d.r.u32le(), d.r.u32le(), d.r.u32le(), 0}
	case d.compression == bmpBitfields:
	case d.bpp == 16:
		m = [4]uint32{0x7c00, 0x03e0, 0x001f, 0}
	default:
		m = [4]uint32{0xff0000, 0xff00, 0xff, 0xff000000}
	}

	if d.bpp == 16 {
		m[3] &= 0xffff
	}

	for i, v := range m {
		if bits.OnesCount32(v) > 8 {
			failf(ErrUnsupported, "%d-bit channel mask 0x%x", bits.OnesCount32(v), v)
		}

		d.masks[i] = newBMPMask(v)
	}

	if m[0] == 0 && m[1] == 0 && m[2] == 0 {
		fail(ErrCorruptData, "empty color masks")
	}

	if m[3] != 0 {
		return 4
	}

	return 3
}

// readPalette reads up to 1<<bpp entries, stopping at the pixel data offset.
func (d *bmpDecoder) readPalette(colors int, offset int64) {
	entry := 4
	if d.hsz == 12 {
		entry = 3
	}

	n := colors
	if n == 0 || d.hsz == 12 {
		n = 1 << d.bpp
	}

	if n > 256 {
		failf(ErrInvalidHeader, "%d palette entries", n)
	}

	if avail := (offset - d.r.offset()) / int64(entry); avail >= 0 && avail < int64(n) {
		n = int(avail)
	}

	for i := 0; i < n; i++ {
		p := d.r.next(entry)
		d.palette[i] = [3]byte{p[2], p[1], p[0]}
	}

	d.paletteLen = n
}

// rowOffset returns where the i-th stored row lands in dst.
func (d *bmpDecoder) rowOffset(i, comp int) int {
	y := i
	if !d.topDown {
		y = d.height - 1 - i
	}

	return y * d.width * comp
}

func (d *bmpDecoder) readRows(dst []byte, comp int) {
	w := d.width
	stride := (w*d.bpp + 31) / 32 * 4

	d.r.need(int64(stride) * int64(d.height))

	for i := 0; i < d.height; i++ {
		row := d.r.next(stride)
		out := dst[d.rowOffset(i, comp):]

		switch d.bpp {
		case 1, 4, 8:
			for x := 0; x < w; x++ {
				var idx byte

				switch d.bpp {
				case 8:
					idx = row[x]
				case 4:
					idx = row[x/2] >> (4 - 4*uint(x&1)) & 0x0f
				default:
					idx = row[x/8] >> (7 - uint(x&7)) & 1
				}

				copy(out[x*3:x*3+3], d.palette[idx][:])
			}
		case 24:
			for x := 0; x < w; x++ {
				out[x*3], out[x*3+1], out[x*3+2] = row[x*3+2], row[x*3+1], row[x*3]
			}
		case 16:
			for x := 0; x < w; x++ {
				d.putMasked(out[x*comp:x*comp+comp], uint32(row[2*x])|uint32(row[2*x+1])<<8)
			}
		case 32:
			for x := 0; x < w; x++ {
				p := row[4*x : 4*x+4]
				d.putMasked(out[x*comp:x*comp+comp], uint32(p[0])|uint32(p[1])<<8|uint32(p[2])<<16|uint32(p[3])<<24)
			}
		}
	}
}

func (d *bmpDecoder) putMasked(px []byte, v uint32) {
	for c := range px {
		px[c] = d.masks[c].value(v)
	}
}

// readRLE expands RLE8 or RLE4 data. Skipped pixels stay black.
func (d *bmpDecoder) readRLE(dst []byte) {
	r := d.r
	x, y := 0, 0

	put := func(idx byte) {
		if x < d.width && y < d.height {
			o := d.rowOffset(y, 3) + x*3
			copy(dst[o:o+3], d.palette[idx][:])
		}

		x++
	}

	for {
		n, c := int(r.u8()), r.u8()

		if n > 0 {
			for i := 0; i < n; i++ {
				if d.compression == bmpRLE8 {
					put(c)
				} else if i&1 == 0 {
					put(c >> 4)
				} else {
					put(c & 0x0f)
				}
			}

			continue
		}

		switch c {
		case 0: // end of line
			x = 0
			y++
		case 1: // end of bitmap
			return
		case 2: // delta
			x += int(r.u8())
			y += int(r.u8())
		default: // absolute run
			count := int(c)
			size := count
			if d.compression == bmpRLE4 {
				size = (count + 1) / 2
			}

			p := r.next(size)
			for i := 0; i < count; i++ {
				if d.compression == bmpRLE8 {
					put(p[i])
				} else {
					put(p[i/2] >> (4 - 4*uint(i&1)) & 0x0f)
				}
			}

			if size&1 != 0 {
				r.skip(1)
			}
		}
	}
}

// opaqueIfNoAlpha sets alpha to 255 when every alpha byte is zero.
func opaqueIfNoAlpha(pix []byte) {
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0 {
			return
		}
	}

	for i := 3; i < len(pix); i += 4 {
		pix[i] = 0xff
	}
}
