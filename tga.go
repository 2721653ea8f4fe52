package rawimage

// Image types.
const (
	tgaColorMapped = 1
	tgaTrueColor   = 2
	tgaGrey        = 3
	tgaRLE         = 8
)

const tgaTopLeft = 1 << 5

type tgaDecoder struct {
	r   *reader
	ctx *decodeContext

	width, height int
	imageType     int
	rle           bool
	depth         int // bits per stored pixel or index
	comp          int
	pixelDepth    int // bits per color, from the palette for mapped images

	cmapType  int
	cmapFirst int
	cmapLen   int
	cmapDepth int
	palette   []byte
}

// decodeTGA reads the fixed header, the optional ID field and color map, then the pixels.
func decodeTGA(ctx *decodeContext, configOnly bool) *rawImage {
	d := &tgaDecoder{r: ctx.r, ctx: ctx}
	r := d.r

	idLen := int(r.u8())
	d.cmapType = int(r.u8())
	d.imageType = int(r.u8())
	d.cmapFirst = r.u16le()
	d.cmapLen = r.u16le()
	d.cmapDepth = int(r.u8())
	r.skip(4) // origin
	d.width = r.u16le()
	d.height = r.u16le()
	d.depth = int(r.u8())
	desc := r.u8()

	if d.imageType >= tgaRLE {
		d.rle = true
		d.imageType -= tgaRLE
	}

	d.checkFormat()
	d.ctx.checkSize(d.width, d.height, d.comp)

	if configOnly {
		return &rawImage{w: d.width, h: d.height, comp: d.comp}
	}

	r.skip(idLen)

	if d.cmapType == 1 {
		if d.imageType == tgaColorMapped {
			d.readPalette()
		} else {
			r.skip(d.cmapLen * ((d.cmapDepth + 7) / 8))
		}
	}

	n := d.width * d.height
	if !d.rle {
		r.need(int64(n) * int64((d.depth+7)/8))
	}

	dst := ctx.a.output(n * d.comp)

	if d.rle {
		d.readRLE(dst, n)
	} else {
		for i := 0; i < n; i++ {
			d.readPixel(dst[i*d.comp : i*d.comp+d.comp])
		}
	}

	if desc&tgaTopLeft == 0 {
		flipRows(dst, d.width*d.comp, d.height)
	}

	return &rawImage{w: d.width, h: d.height, comp: d.comp, pix: dst}
}

// checkFormat validates types and depths and sets the native channel count.
func (d *tgaDecoder) checkFormat() {
	switch d.imageType {
	case tgaColorMapped, tgaTrueColor, tgaGrey:
	default:
		failf(ErrUnsupported, "image type %d", d.imageType)
	}

	if d.cmapType > 1 {
		failf(ErrInvalidHeader, "color map type %d", d.cmapType)
	}

	d.pixelDepth = d.depth

	if d.imageType == tgaColorMapped {
		if d.cmapType != 1 || d.cmapLen == 0 {
			fail(ErrInvalidHeader, "color-mapped image without a color map")
		}

		if d.depth != 8 && d.depth != 16 {
			failf(ErrInvalidHeader, "%d-bit color map index", d.depth)
		}

		d.pixelDepth = d.cmapDepth
	}

	switch d.pixelDepth {
	case 8:
		d.comp = 1
	case 15, 16:
		d.comp = 3
		if d.imageType == tgaGrey && d.pixelDepth == 16 {
			d.comp = 2
		}
	case 24:
		d.comp = 3
	case 32:
		d.comp = 4
	default:
		failf(ErrInvalidHeader, "%d bits per pixel", d.pixelDepth)
	}

	if d.imageType == tgaColorMapped && d.comp == 1 {
		fail(ErrInvalidHeader, "8-bit color map entries")
	}
}

func (d *tgaDecoder) readPalette() {
	d.palette = d.ctx.a.bytes(d.cmapLen * d.comp)

	for i := 0; i < d.cmapLen; i++ {
		d.readColor(d.palette[i*d.comp : i*d.comp+d.comp])
	}
}

// readColor reads one stored color of pixelDepth bits into px, swapping BGR to RGB.
func (d *tgaDecoder) readColor(px []byte) {
	if d.comp == 3 && d.pixelDepth <= 16 {
		v := d.r.u16le()
		px[0] = byte((v >> 10 & 31) * 255 / 31)
		px[1] = byte((v >> 5 & 31) * 255 / 31)
		px[2] = byte((v & 31) * 255 / 31)

		return
	}

	b := d.r.next(len(px))
	copy(px, b)

	if len(px) >= 3 {
		px[0], px[2] = px[2], px[0]
	}
}

// readPixel reads a color or a palette index.
func (d *tgaDecoder) readPixel(px []byte) {
	if d.imageType != tgaColorMapped {
		d.readColor(px)

		return
	}

	var idx int
	if d.depth == 8 {
		idx = int(d.r.u8())
	} else {
		idx = d.r.u16le()
	}

	idx -= d.cmapFirst
	if idx < 0 || idx >= d.cmapLen {
		idx = 0
	}

	copy(px, d.palette[idx*d.comp:])
}

// readRLE expands run-length packets. Packets may span rows; surplus pixels are dropped.
func (d *tgaDecoder) readRLE(dst []byte, n int) {
	var run [4]byte

	px := run[:d.comp]

	for i := 0; i < n; {
		h := d.r.u8()
		count := int(h&0x7f) + 1

		if h&0x80 != 0 {
			d.readPixel(px)

			for ; count > 0 && i < n; count-- {
				copy(dst[i*d.comp:], px)
				i++
			}

			continue
		}

		for ; count > 0; count-- {
			d.readPixel(px)

			if i < n {
				copy(dst[i*d.comp:], px)
				i++
			}
		}
	}
}
