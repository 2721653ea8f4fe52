package rawimage

// component stores information about a single color component (e.g., Y, Cb, or Cr).
type component struct {
	id                 int     // Component identifier (e.g., 1 for Y, 2 for Cb, 3 for Cr).
	ssX, ssY           int     // Sampling factors for X and Y axes.
	width, height      int     // Samples covering the image.
	bw, bh             int     // Block grid of the plane, padded to whole MCUs.
	stride             int     // The number of bytes from one row of samples to the next.
	qtSel              int     // Quantization table selector.
	acTabSel, dcTabSel int     // Huffman table selectors for AC and DC coefficients.
	dcPred             int     // DC prediction value for differential coding.
	pixels             []byte  // Decoded samples.
	coefs              []int16 // Progressive coefficients in natural order, 64 per block.
}

// jpegDecoder holds the state of the JPEG decoding process.
type jpegDecoder struct {
	r   *reader
	a   *arena
	ctx *decodeContext

	width, height     int // Dimensions of the final image.
	mbWidth, mbHeight int // Dimensions of the image in MCUs.
	mbSizeX, mbSizeY  int // Dimensions of a single MCU in pixels.
	ssxMax, ssyMax    int
	ncomp             int
	comp              [4]component
	progressive       bool
	frameSeen         bool
	scans             int

	qtab    [4][64]uint16 // Natural order.
	qtAvail int           // Bitmask of defined quantization tables.
	dcTab   [4]*huffLUT
	acTab   [4]*huffLUT

	buf     uint64 // Bit buffer, newest bits at the bottom.
	bufBits int    // Number of valid bits in buf.
	marker  byte   // Marker that ended the entropy data, 0 if none yet.
	eof     bool   // Input ended inside entropy data.

	block       [64]int32 // Work block for dequantization and IDCT.
	rstInterval int       // Restart interval in MCUs.
	eobrun      int       // Remaining blocks of a progressive EOB run.

	jfif           bool
	adobeTransform int // -1 without an Adobe APP14 segment.
	orientation    int
}

// decodeJPEG reads SOI, then marker segments until EOI.
// If configOnly is true, it stops after the frame header.
func decodeJPEG(ctx *decodeContext, configOnly bool) *rawImage {
	d := &jpegDecoder{r: ctx.r, a: &ctx.a, ctx: ctx, adobeTransform: -1}

	if d.r.u8() != 0xff || d.r.u8() != 0xd8 {
		fail(ErrInvalidHeader, "missing SOI marker")
	}

	for {
		m := d.nextMarker()

		switch {
		case m == 0xc0 || m == 0xc1 || m == 0xc2: // SOF0, SOF1, SOF2
			d.decodeSOF(m == 0xc2, configOnly)
			if configOnly {
				return &rawImage{w: d.width, h: d.height, comp: d.outComponents()}
			}
		case m == 0xc4: // DHT
			d.decodeDHT()
		case m == 0xcc: // DAC
			fail(ErrUnsupported, "arithmetic coding")
		case m >= 0xc3 && m <= 0xcf:
			failf(ErrUnsupported, "SOF%d frame", m-0xc0)
		case m == 0xdb: // DQT
			d.decodeDQT()
		case m == 0xdd: // DRI
			d.decodeDRI()
		case m == 0xda: // SOS
			d.decodeScan()
		case m == 0xd9: // EOI
			return d.finish()
		case m >= 0xd0 && m <= 0xd8, m == 0x01:
			// RSTn outside a scan, SOI and TEM carry no payload.
		case m == 0xe0: // APP0
			if p := d.segment(); len(p) >= 5 && string(p[:5]) == "JFIF\x00" {
				d.jfif = true
			}
		case m == 0xe1: // APP1
			p := d.segment()
			if d.ctx.opts.AutoRotate && len(p) >= 6 && string(p[:6]) == "Exif\x00\x00" {
				d.orientation = exifOrientation(p[6:])
			}
		case m == 0xee: // APP14
			if p := d.segment(); len(p) >= 12 && string(p[:5]) == "Adobe" {
				d.adobeTransform = int(p[11])
			}
		default:
			// COM, other APPn, DNL and reserved segments.
			d.segment()
		}
	}
}

// segment reads a length-prefixed marker segment and returns its payload.
func (d *jpegDecoder) segment() []byte {
	n := d.r.u16be()
	if n < 2 {
		fail(ErrCorruptData, "bad segment length")
	}

	return d.r.next(n - 2)
}

// nextMarker returns the marker that ended the entropy data, or scans forward to the next one.
func (d *jpegDecoder) nextMarker() byte {
	if m := d.marker; m != 0 {
		d.marker = 0

		return m
	}

	for {
		b, ok := d.r.byteOK()
		if !ok {
			fail(ErrEndOfInput, "missing EOI marker")
		}

		if b != 0xff {
			continue
		}

		for b == 0xff {
			if b, ok = d.r.byteOK(); !ok {
				fail(ErrEndOfInput, "missing EOI marker")
			}
		}

		if b != 0 {
			return b
		}
	}
}

// decodeSOF decodes the Start of Frame segment. It extracts image dimensions,
// number of components, and component-specific information like subsampling factors.
func (d *jpegDecoder) decodeSOF(progressive, configOnly bool) {
	if d.frameSeen {
		fail(ErrCorruptData, "multiple frames")
	}

	p := d.segment()
	if len(p) < 6 {
		fail(ErrCorruptData, "short SOF segment")
	}

	if p[0] != 8 {
		failf(ErrUnsupported, "%d-bit precision", p[0])
	}

	d.height = int(p[1])<<8 | int(p[2])
	d.width = int(p[3])<<8 | int(p[4])
	d.ncomp = int(p[5])

	switch d.ncomp {
	case 1, 3, 4:
	default:
		failf(ErrInvalidHeader, "%d components", d.ncomp)
	}

	if len(p) != 6+3*d.ncomp {
		fail(ErrInvalidHeader, "bad SOF length")
	}

	if d.height == 0 {
		fail(ErrInvalidHeader, "zero height, DNL is not supported")
	}

	d.ssxMax, d.ssyMax = 0, 0

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		q := p[6+3*i:]
		c.id = int(q[0])
		c.ssX = int(q[1] >> 4)
		c.ssY = int(q[1] & 15)
		c.qtSel = int(q[2])

		if c.ssX < 1 || c.ssX > 4 || c.ssY < 1 || c.ssY > 4 {
			failf(ErrInvalidHeader, "bad sampling factors %dx%d", c.ssX, c.ssY)
		}

		if c.qtSel > 3 {
			fail(ErrInvalidHeader, "bad quantization table selector")
		}

		d.ssxMax = max(d.ssxMax, c.ssX)
		d.ssyMax = max(d.ssyMax, c.ssY)
	}

	if d.ncomp == 1 {
		// Single-component frames are never interleaved.
		d.comp[0].ssX, d.comp[0].ssY = 1, 1
		d.ssxMax, d.ssyMax = 1, 1
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		if d.ssxMax%c.ssX != 0 || d.ssyMax%c.ssY != 0 {
			fail(ErrInvalidHeader, "sampling factors are not integer ratios")
		}
	}

	d.ctx.checkSize(d.width, d.height, d.ncomp)

	d.mbSizeX = d.ssxMax << 3
	d.mbSizeY = d.ssyMax << 3
	d.mbWidth = (d.width + d.mbSizeX - 1) / d.mbSizeX
	d.mbHeight = (d.height + d.mbSizeY - 1) / d.mbSizeY

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.width = (d.width*c.ssX + d.ssxMax - 1) / d.ssxMax
		c.height = (d.height*c.ssY + d.ssyMax - 1) / d.ssyMax
		c.bw = d.mbWidth * c.ssX
		c.bh = d.mbHeight * c.ssY
		c.stride = c.bw << 3
	}

	d.frameSeen = true
	d.progressive = progressive

	if configOnly {
		return
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.pixels = d.a.bytes(c.stride * c.bh << 3)

		if progressive {
			c.coefs = scratch[int16](d.a, c.bw*c.bh*64)
		}
	}
}

// decodeDHT decodes the Define Huffman Table segment and builds the lookup tables.
func (d *jpegDecoder) decodeDHT() {
	p := d.segment()

	for len(p) > 0 {
		if len(p) < 17 {
			fail(ErrCorruptData, "short DHT segment")
		}

		tc, th := p[0]>>4, p[0]&15
		if tc > 1 || th > 3 {
			fail(ErrCorruptData, "bad DHT table id")
		}

		var counts [16]uint8
		n := 0

		for i := range counts {
			counts[i] = p[1+i]
			n += int(counts[i])
		}

		if n > 256 || len(p) < 17+n {
			fail(ErrCorruptData, "bad DHT code counts")
		}

		tab := &d.dcTab[th]
		if tc == 1 {
			tab = &d.acTab[th]
		}

		if *tab == nil {
			*tab = d.a.lut()
		} else {
			**tab = huffLUT{}
		}

		buildLUT(*tab, &counts, p[17:17+n])
		p = p[17+n:]
	}
}

// decodeDQT decodes the Define Quantization Table segment. Tables are stored in natural order.
func (d *jpegDecoder) decodeDQT() {
	p := d.segment()

	for len(p) > 0 {
		pq, tq := p[0]>>4, int(p[0]&15)
		if pq > 1 || tq > 3 {
			fail(ErrCorruptData, "bad DQT table id")
		}

		n := 64 << pq
		if len(p) < 1+n {
			fail(ErrCorruptData, "short DQT segment")
		}

		t := &d.qtab[tq]
		for j := 0; j < 64; j++ {
			if pq == 0 {
				t[zz[j]] = uint16(p[1+j])
			} else {
				t[zz[j]] = uint16(p[1+2*j])<<8 | uint16(p[2+2*j])
			}
		}

		d.qtAvail |= 1 << tq
		p = p[1+n:]
	}
}

// decodeDRI decodes the Define Restart Interval segment.
func (d *jpegDecoder) decodeDRI() {
	p := d.segment()
	if len(p) != 2 {
		fail(ErrCorruptData, "bad DRI length")
	}

	d.rstInterval = int(p[0])<<8 | int(p[1])
}

// outComponents is the native channel count of the decoded image.
func (d *jpegDecoder) outComponents() int {
	if d.ncomp == 1 {
		return 1
	}

	return 3
}

// isRGB reports whether three components hold RGB rather than YCbCr.
func (d *jpegDecoder) isRGB() bool {
	if d.comp[0].id == 'R' && d.comp[1].id == 'G' && d.comp[2].id == 'B' {
		return true
	}

	return d.adobeTransform == 0 && !d.jfif
}

// finish completes the image at EOI: progressive reconstruction, upsampling and color conversion.
func (d *jpegDecoder) finish() *rawImage {
	if !d.frameSeen {
		fail(ErrCorruptData, "no frame header")
	}

	if d.scans == 0 {
		fail(ErrCorruptData, "no scan data")
	}

	if d.progressive {
		d.reconstruct()
	}

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		fx, fy := d.ssxMax/c.ssX, d.ssyMax/c.ssY

		if fx > 1 || fy > 1 {
			upsample(d.a, c, d.width, d.height, fx, fy, d.ctx.opts.UpsampleMethod)
		}
	}

	comp := d.outComponents()
	dst := d.a.output(d.width * d.height * comp)
	c := &d.comp

	switch {
	case d.ncomp == 1:
		grayToGray(&c[0], dst, d.width, d.height)
	case d.ncomp == 3 && d.isRGB():
		rgbToRGB(&c[0], &c[1], &c[2], dst, d.width, d.height)
	case d.ncomp == 4 && d.adobeTransform == 0:
		cmykToRGB(&c[0], &c[1], &c[2], &c[3], dst, d.width, d.height)
	case d.ncomp == 4 && d.adobeTransform == 2:
		ycckToRGB(&c[0], &c[1], &c[2], &c[3], dst, d.width, d.height)
	default:
		// YCbCr; a fourth component without a known transform is ignored.
		yCbCrToRGB(&c[0], &c[1], &c[2], dst, d.width, d.height)
	}

	return &rawImage{w: d.width, h: d.height, comp: comp, pix: dst, orientation: d.orientation}
}
