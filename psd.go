package rawimage

const psdMaxChannels = 16

type psdDecoder struct {
	r   *reader
	ctx *decodeContext

	width, height int
	channels      int
	depth         int
}

// decodePSD reads the merged composite image of an RGB Photoshop document.
// Layers are not decoded.
func decodePSD(ctx *decodeContext, configOnly bool) *rawImage {
	d := &psdDecoder{r: ctx.r, ctx: ctx}
	r := d.r

	if string(r.next(4)) != "8BPS" {
		fail(ErrInvalidHeader, "not a PSD file")
	}

	if v := r.u16be(); v != 1 {
		failf(ErrInvalidHeader, "version %d", v)
	}

	r.skip(6) // reserved

	d.channels = r.u16be()
	if d.channels > psdMaxChannels {
		failf(ErrInvalidHeader, "%d channels", d.channels)
	}

	d.height = int(r.u32be())
	d.width = int(r.u32be())
	d.depth = r.u16be()

	if d.depth != 8 && d.depth != 16 {
		failf(ErrUnsupported, "%d bits per channel", d.depth)
	}

	if mode := r.u16be(); mode != 3 {
		failf(ErrUnsupported, "color mode %d", mode)
	}

	d.ctx.checkSize(d.width, d.height, 4)

	if configOnly {
		return &rawImage{w: d.width, h: d.height, comp: 4}
	}

	// Color mode data, image resources, layer and mask information.
	for i := 0; i < 3; i++ {
		n := int64(r.u32be())
		r.need(n)
		r.skip(int(n))
	}

	compression := r.u16be()

	n := d.width * d.height
	dst := ctx.a.output(n * 4)

	switch compression {
	case 0:
		d.readRaw(dst, n)
	case 1:
		r.skip(d.height * d.channels * 2) // byte counts per row
		d.readRLE(dst, n)
	default:
		failf(ErrUnsupported, "compression %d", compression)
	}

	if d.channels >= 4 {
		unmatte(dst)
	}

	return &rawImage{w: d.width, h: d.height, comp: 4, pix: dst}
}

// fillMissing sets a channel absent from the file: opaque alpha, zero color.
func fillMissing(dst []byte, c int) {
	v := byte(0)
	if c == 3 {
		v = 0xff
	}

	for i := c; i < len(dst); i += 4 {
		dst[i] = v
	}
}

// readRaw reads planar samples, keeping the high byte of 16-bit ones.
func (d *psdDecoder) readRaw(dst []byte, n int) {
	size := d.depth / 8
	used := min(d.channels, 4)

	d.r.need(int64(n) * int64(size) * int64(used))

	for c := 0; c < 4; c++ {
		if c >= d.channels {
			fillMissing(dst, c)

			continue
		}

		for i := 0; i < n; i++ {
			dst[i*4+c] = d.r.next(size)[0]
		}
	}
}

// readRLE expands one PackBits plane per channel.
func (d *psdDecoder) readRLE(dst []byte, n int) {
	size := d.depth / 8
	plane := d.ctx.a.bytes(n * size)

	for c := 0; c < 4; c++ {
		if c >= d.channels {
			fillMissing(dst, c)

			continue
		}

		d.unpackBits(plane)

		for i := 0; i < n; i++ {
			dst[i*4+c] = plane[i*size]
		}
	}
}

// unpackBits fills plane from PackBits packets.
func (d *psdDecoder) unpackBits(plane []byte) {
	r := d.r

	for i := 0; i < len(plane); {
		h := int(r.u8())

		switch {
		case h == 128:
		case h < 128:
			count := h + 1
			if i+count > len(plane) {
				fail(ErrCorruptData, "literal run overflows the plane")
			}

			r.readFull(plane[i : i+count])
			i += count
		default:
			count := 257 - h
			if i+count > len(plane) {
				fail(ErrCorruptData, "repeat run overflows the plane")
			}

			v := r.u8()
			for end := i + count; i < end; i++ {
				plane[i] = v
			}
		}
	}
}

// unmatte removes the white matte Photoshop blends into semi-transparent composite pixels.
func unmatte(pix []byte) {
	for i := 0; i < len(pix); i += 4 {
		a := pix[i+3]
		if a == 0 || a == 255 {
			continue
		}

		ra := 255 / float32(a)
		inv := 255 * (1 - ra)

		for c := 0; c < 3; c++ {
			pix[i+c] = byte(max(float32(pix[i+c])*ra+inv, 0))
		}
	}
}
