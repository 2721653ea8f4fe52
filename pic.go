package rawimage

import "bytes"

const (
	picHeaderLen  = 92
	picMaxPackets = 10
)

// Packet encodings.
const (
	picUncompressed = 0
	picPureRLE      = 1
	picMixedRLE     = 2
)

const picAlpha = 0x10

// picPacket says how one group of channels is stored in each scanline.
type picPacket struct {
	chained  bool
	size     int
	encoding int
	channels byte // 0x80 red, 0x40 green, 0x20 blue, 0x10 alpha
}

type picDecoder struct {
	r       *reader
	packets []picPacket
	width   int
}

// decodePIC reads the Softimage header and channel packets, then the scanlines.
func decodePIC(ctx *decodeContext, configOnly bool) *rawImage {
	d := &picDecoder{r: ctx.r}
	r := d.r

	hdr := r.next(picHeaderLen)
	if !bytes.HasPrefix(hdr, picMagic) || string(hdr[88:92]) != "PICT" {
		fail(ErrInvalidHeader, "not a Softimage PIC file")
	}

	w, h := r.u16be(), r.u16be()
	r.skip(8) // ratio, fields, pad

	var union byte

	for {
		if len(d.packets) == picMaxPackets {
			fail(ErrCorruptData, "too many channel packets")
		}

		p := r.next(4)
		pk := picPacket{chained: p[0] != 0, size: int(p[1]), encoding: int(p[2]), channels: p[3]}

		if pk.size != 8 {
			failf(ErrCorruptData, "%d-bit channel packet", pk.size)
		}

		if pk.encoding > picMixedRLE {
			failf(ErrCorruptData, "packet encoding %d", pk.encoding)
		}

		d.packets = append(d.packets, pk)
		union |= pk.channels

		if !pk.chained {
			break
		}
	}

	comp := 3
	if union&picAlpha != 0 {
		comp = 4
	}

	ctx.checkSize(w, h, comp)

	if configOnly {
		return &rawImage{w: w, h: h, comp: comp}
	}

	d.width = w

	var buf []byte
	if comp == 4 {
		buf = ctx.a.output(w * h * 4)
	} else {
		buf = ctx.a.bytes(w * h * 4)
	}

	for i := range buf {
		buf[i] = 0xff
	}

	for y := 0; y < h; y++ {
		row := buf[y*w*4 : (y+1)*w*4]

		for _, pk := range d.packets {
			d.readScanline(row, pk)
		}
	}

	if comp == 4 {
		return &rawImage{w: w, h: h, comp: 4, pix: buf}
	}

	dst := ctx.a.output(w * h * 3)
	for i := 0; i < w*h; i++ {
		copy(dst[i*3:i*3+3], buf[i*4:i*4+3])
	}

	return &rawImage{w: w, h: h, comp: 3, pix: dst}
}

// readValue reads the channels named by mask into px.
func (d *picDecoder) readValue(mask byte, px []byte) {
	for i := 0; i < 4; i++ {
		if mask&(0x80>>i) != 0 {
			px[i] = d.r.u8()
		}
	}
}

func (d *picDecoder) readScanline(row []byte, pk picPacket) {
	r := d.r
	var value [4]byte

	switch pk.encoding {
	case picUncompressed:
		for x := 0; x < d.width; x++ {
			d.readValue(pk.channels, row[x*4:x*4+4])
		}
	case picPureRLE:
		for x := 0; x < d.width; {
			count := int(r.u8())
			if count == 0 || count > d.width-x {
				fail(ErrCorruptData, "scanline overrun")
			}

			d.readValue(pk.channels, value[:])
			for end := x + count; x < end; x++ {
				d.copyValue(row[x*4:x*4+4], value[:], pk.channels)
			}
		}
	case picMixedRLE:
		for x := 0; x < d.width; {
			count := int(r.u8())

			if count >= 128 {
				// Repeated run; 128 takes a 16-bit count.
				if count == 128 {
					count = r.u16be()
				} else {
					count -= 127
				}

				if count == 0 || count > d.width-x {
					fail(ErrCorruptData, "scanline overrun")
				}

				d.readValue(pk.channels, value[:])
				for end := x + count; x < end; x++ {
					d.copyValue(row[x*4:x*4+4], value[:], pk.channels)
				}

				continue
			}

			count++
			if count > d.width-x {
				fail(ErrCorruptData, "scanline overrun")
			}

			for end := x + count; x < end; x++ {
				d.readValue(pk.channels, row[x*4:x*4+4])
			}
		}
	}
}

// copyValue copies the channels named by mask.
func (d *picDecoder) copyValue(dst, src []byte, mask byte) {
	for i := 0; i < 4; i++ {
		if mask&(0x80>>i) != 0 {
			dst[i] = src[i]
		}
	}
}
