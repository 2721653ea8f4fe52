package rawimage

// Disposal methods.
const (
	disposalNone              = 0
	disposalDoNotDispose      = 1
	disposalRestoreBackground = 2
	disposalRestorePrevious   = 3
)

// Block introducers and extension labels.
const (
	gifExtension       = 0x21
	gifImageDescriptor = 0x2c
	gifTrailer         = 0x3b

	gifGraphicControl = 0xf9
)

// Screen and image descriptor flags.
const (
	fColorTable     = 1 << 7
	fColorTableSize = 7
	fInterlace      = 1 << 6

	gcTransparent = 1 << 0
	gcDisposal    = 7 << 2
)

const lzwMaxCodes = 4096

// Interlaced rows are sent in four passes.
var gifPasses = [4]struct{ start, step int }{
	{0, 8},
	{4, 8},
	{2, 4},
	{1, 2},
}

type gifRect struct{ x, y, w, h int }

// lzwEntry is one string of the LZW table: its prefix code, first and last byte.
type lzwEntry struct {
	prefix int16
	first  byte
	suffix byte
}

// gifDecoder parses the block stream and composites frames onto an RGBA canvas.
type gifDecoder struct {
	r   *reader
	a   *arena
	ctx *decodeContext

	width, height int
	bgIndex       int
	global        [256][4]byte
	globalLen     int

	// Graphic control for the next image.
	disposal    int
	delay       int
	transparent int

	canvas       []byte
	snapshot     []byte // canvas before the last frame, for RestorePrevious
	drawn        []byte // pixels covered by the first frame
	lastDisposal int
	lastRect     gifRect
	lastDelay    int
	frames       int
	done         bool

	local [256][4]byte
	codes []lzwEntry
	stack []byte
	sub   [255]byte
}

// newGIFDecoder reads the header, logical screen descriptor and global color table.
func newGIFDecoder(ctx *decodeContext) *gifDecoder {
	d := &gifDecoder{r: ctx.r, a: &ctx.a, ctx: ctx, transparent: -1}

	sig := d.r.next(6)
	if string(sig) != "GIF87a" && string(sig) != "GIF89a" {
		fail(ErrInvalidHeader, "not a GIF file")
	}

	d.width = d.r.u16le()
	d.height = d.r.u16le()
	flags := d.r.u8()
	d.bgIndex = int(d.r.u8())
	d.r.u8() // aspect ratio

	if d.width == 0 || d.height == 0 {
		failf(ErrInvalidHeader, "zero logical screen %dx%d", d.width, d.height)
	}

	d.ctx.checkSize(d.width, d.height, 4)

	if flags&fColorTable != 0 {
		d.globalLen = 2 << (flags & fColorTableSize)
		d.readColorTable(&d.global, d.globalLen)
	}

	return d
}

func (d *gifDecoder) readColorTable(t *[256][4]byte, n int) {
	p := d.r.next(3 * n)

	for i := 0; i < n; i++ {
		t[i] = [4]byte{p[3*i], p[3*i+1], p[3*i+2], 0xff}
	}
}

// decodeGIF decodes the first frame, then walks the rest of the stream to the trailer.
func decodeGIF(ctx *decodeContext, configOnly bool) *rawImage {
	d := newGIFDecoder(ctx)

	if configOnly {
		return &rawImage{w: d.width, h: d.height, comp: 4}
	}

	d.canvas = d.a.output(d.width * d.height * 4)

	if !d.nextFrame() {
		fail(ErrCorruptData, "no image in file")
	}

	d.skipToTrailer()

	return &rawImage{w: d.width, h: d.height, comp: 4, pix: d.canvas}
}

// nextFrame composites the next image onto the canvas.
// It returns false once the trailer is reached.
func (d *gifDecoder) nextFrame() bool {
	if d.done {
		return false
	}

	for {
		switch b := d.r.u8(); b {
		case gifExtension:
			d.readExtension()
		case gifImageDescriptor:
			d.readImage()

			return true
		case gifTrailer:
			d.done = true

			return false
		default:
			failf(ErrCorruptData, "unknown block type 0x%02x", b)
		}
	}
}

// skipToTrailer checks the structure of the remaining blocks without decoding images.
func (d *gifDecoder) skipToTrailer() {
	for {
		switch b := d.r.u8(); b {
		case gifExtension:
			d.r.u8()
			d.skipSubBlocks()
		case gifImageDescriptor:
			d.r.skip(8)

			if flags := d.r.u8(); flags&fColorTable != 0 {
				d.r.skip(3 * (2 << (flags & fColorTableSize)))
			}

			d.r.u8() // minimum code size
			d.skipSubBlocks()
		case gifTrailer:
			d.done = true

			return
		default:
			failf(ErrCorruptData, "unknown block type 0x%02x", b)
		}
	}
}

func (d *gifDecoder) skipSubBlocks() {
	for {
		n := int(d.r.u8())
		if n == 0 {
			return
		}

		d.r.skip(n)
	}
}

func (d *gifDecoder) readExtension() {
	label := d.r.u8()
	if label != gifGraphicControl {
		d.skipSubBlocks()

		return
	}

	n := int(d.r.u8())
	if n != 4 {
		d.r.skip(n)
		d.skipSubBlocks()

		return
	}

	flags := d.r.u8()
	d.delay = d.r.u16le() * 10
	idx := int(d.r.u8())

	d.disposal = int(flags&gcDisposal) >> 2
	d.transparent = -1

	if flags&gcTransparent != 0 {
		d.transparent = idx
	}

	d.skipSubBlocks()
}

// dispose applies the previous frame's disposal to the canvas.
func (d *gifDecoder) dispose() {
	if d.frames == 0 {
		return
	}

	rc := d.lastRect

	switch d.lastDisposal {
	case disposalNone, disposalDoNotDispose:
	case disposalRestoreBackground:
		for y := rc.y; y < rc.y+rc.h; y++ {
			o := (y*d.width + rc.x) * 4
			clear(d.canvas[o : o+rc.w*4])
		}
	case disposalRestorePrevious:
		for y := rc.y; y < rc.y+rc.h; y++ {
			o := (y*d.width + rc.x) * 4
			copy(d.canvas[o:o+rc.w*4], d.snapshot[o:])
		}
	}
}

// readImage decodes one image descriptor and its data onto the canvas.
func (d *gifDecoder) readImage() {
	d.dispose()

	rc := gifRect{x: d.r.u16le(), y: d.r.u16le(), w: d.r.u16le(), h: d.r.u16le()}
	flags := d.r.u8()

	if rc.x+rc.w > d.width || rc.y+rc.h > d.height {
		failf(ErrCorruptData, "frame %dx%d at (%d, %d) outside the %dx%d screen", rc.w, rc.h, rc.x, rc.y, d.width, d.height)
	}

	table, tableLen := &d.global, d.globalLen

	if flags&fColorTable != 0 {
		tableLen = 2 << (flags & fColorTableSize)
		d.readColorTable(&d.local, tableLen)
		table = &d.local
	}

	if tableLen == 0 {
		fail(ErrCorruptData, "no color table")
	}

	if d.disposal == disposalRestorePrevious {
		if d.snapshot == nil {
			d.snapshot = d.a.bytes(len(d.canvas))
		}

		copy(d.snapshot, d.canvas)
	}

	if d.frames == 0 && d.bgIndex > 0 && d.bgIndex < d.globalLen {
		d.drawn = d.a.bytes(d.width * d.height)
	}

	d.lzw(rc, flags&fInterlace != 0, table, tableLen)

	if d.drawn != nil {
		bg := d.global[d.bgIndex]

		for i, v := range d.drawn {
			if v == 0 {
				copy(d.canvas[i*4:i*4+4], bg[:])
			}
		}

		d.drawn = nil
	}

	d.lastDisposal, d.lastRect, d.lastDelay = d.disposal, rc, d.delay
	d.disposal, d.transparent, d.delay = disposalNone, -1, 0
	d.frames++
}

// gifWriter places decoded indices into the frame rectangle, row by row.
type gifWriter struct {
	d          *gifDecoder
	rc         gifRect
	table      *[256][4]byte
	tableLen   int
	x, y, pass int
	interlaced bool
}

func (w *gifWriter) put(idx byte) {
	if w.y >= w.rc.h {
		return
	}

	d := w.d
	p := (w.rc.y+w.y)*d.width + w.rc.x + w.x

	if d.drawn != nil {
		d.drawn[p] = 1
	}

	// Transparent and out-of-table indices leave the canvas alone.
	if int(idx) != d.transparent && int(idx) < w.tableLen {
		copy(d.canvas[p*4:p*4+4], w.table[idx][:])
	}

	w.x++
	if w.x < w.rc.w {
		return
	}

	w.x = 0

	if !w.interlaced {
		w.y++

		return
	}

	w.y += gifPasses[w.pass].step
	for w.y >= w.rc.h && w.pass < len(gifPasses)-1 {
		w.pass++
		w.y = gifPasses[w.pass].start
	}
}

// lzw decodes the image data sub-blocks.
func (d *gifDecoder) lzw(rc gifRect, interlaced bool, table *[256][4]byte, tableLen int) {
	minSize := int(d.r.u8())
	if minSize < 1 || minSize > 11 {
		failf(ErrCorruptData, "bad LZW minimum code size %d", minSize)
	}

	if d.codes == nil {
		d.codes = scratch[lzwEntry](d.a, lzwMaxCodes)
		d.stack = d.a.bytes(lzwMaxCodes)
	}

	w := gifWriter{d: d, rc: rc, table: table, tableLen: tableLen, interlaced: interlaced}
	if rc.w == 0 {
		w.y = rc.h
	}

	clearCode := 1 << minSize
	eoi := clearCode + 1

	for i := 0; i < clearCode; i++ {
		d.codes[i] = lzwEntry{prefix: -1, first: byte(i), suffix: byte(i)}
	}

	size := minSize + 1
	mask := 1<<size - 1
	avail := clearCode + 2
	old := -1
	started := false

	var bits uint32
	nbits := 0
	block := d.sub[:0]

	for {
		for nbits < size {
			if len(block) == 0 {
				n := int(d.r.u8())
				if n == 0 {
					// Data ended without an end code.
					return
				}

				block = d.sub[:n]
				d.r.readFull(block)
			}

			bits |= uint32(block[0]) << uint(nbits)
			block = block[1:]
			nbits += 8
		}

		code := int(bits) & mask
		bits >>= uint(size)
		nbits -= size

		switch {
		case code == clearCode:
			size = minSize + 1
			mask = 1<<size - 1
			avail = clearCode + 2
			old = -1
			started = true

			continue
		case code == eoi:
			d.skipSubBlocks()

			return
		case !started:
			fail(ErrCorruptData, "LZW data does not start with a clear code")
		case code > avail:
			failf(ErrCorruptData, "LZW code %d past the table end %d", code, avail)
		case code == avail && old < 0:
			fail(ErrCorruptData, "illegal LZW code")
		}

		if old >= 0 && avail < lzwMaxCodes {
			e := &d.codes[avail]
			e.prefix = int16(old)
			e.first = d.codes[old].first
			e.suffix = d.codes[code].first

			if code == avail {
				e.suffix = e.first
			}

			avail++

			if avail&mask == 0 && avail < lzwMaxCodes {
				size++
				mask = 1<<size - 1
			}
		}

		// Unwind the string backwards, then emit it in order.
		n := 0
		for c := code; c >= 0; c = int(d.codes[c].prefix) {
			d.stack[n] = d.codes[c].suffix
			n++
		}

		for n > 0 {
			n--
			w.put(d.stack[n])
		}

		old = code
	}
}
