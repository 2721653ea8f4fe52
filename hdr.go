package rawimage

import (
	"math"
	"strconv"
	"strings"
)

const (
	hdrMaxLine   = 1024
	hdrFormatKey = "FORMAT="
	hdrRGBE      = "32-bit_rle_rgbe"

	// Scanlines outside this width range are always stored flat.
	hdrMinRLEWidth = 8
	hdrMaxRLEWidth = 0x7fff
)

type hdrDecoder struct {
	r   *reader
	ctx *decodeContext

	width, height int
	line          [hdrMaxLine]byte
}

// readLine returns the next header line without its newline.
func (d *hdrDecoder) readLine() string {
	for n := 0; n < hdrMaxLine; n++ {
		c := d.r.u8()
		if c == '\n' {
			return string(d.line[:n])
		}

		d.line[n] = c
	}

	fail(ErrInvalidHeader, "header line too long")

	return ""
}

// decodeHDR reads the text header and resolution string, then tone maps RGBE scanlines to 8 bits.
func decodeHDR(ctx *decodeContext, configOnly bool) *rawImage {
	d := &hdrDecoder{r: ctx.r, ctx: ctx}

	if magic := d.readLine(); magic != "#?RADIANCE" && magic != "#?RGBE" {
		fail(ErrInvalidHeader, "not a Radiance file")
	}

	format := ""

	for {
		line := d.readLine()
		if line == "" {
			break
		}

		if v, ok := strings.CutPrefix(line, hdrFormatKey); ok {
			format = v
		}
	}

	if format != hdrRGBE {
		failf(ErrUnsupported, "pixel format %q", format)
	}

	d.parseResolution(d.readLine())
	d.ctx.checkSize(d.width, d.height, 3)

	if configOnly {
		return &rawImage{w: d.width, h: d.height, comp: 3}
	}

	dst := ctx.a.output(d.width * d.height * 3)
	tm := newToneMap(ctx.opts.HDRGamma, ctx.opts.HDRScale)

	if d.width < hdrMinRLEWidth || d.width > hdrMaxRLEWidth {
		d.readFlat(dst, tm, 0)
	} else {
		d.readRLE(dst, tm)
	}

	return &rawImage{w: d.width, h: d.height, comp: 3, pix: dst}
}

// parseResolution accepts the standard "-Y height +X width" orientation.
func (d *hdrDecoder) parseResolution(line string) {
	f := strings.Fields(line)
	if len(f) != 4 {
		failf(ErrInvalidHeader, "resolution string %q", line)
	}

	if f[0] != "-Y" || f[2] != "+X" {
		failf(ErrUnsupported, "orientation %s %s", f[0], f[2])
	}

	h, err1 := strconv.Atoi(f[1])
	w, err2 := strconv.Atoi(f[3])

	if err1 != nil || err2 != nil {
		failf(ErrInvalidHeader, "resolution string %q", line)
	}

	d.width, d.height = w, h
}

// readFlat reads uncompressed RGBE pixels from the given row to the end.
func (d *hdrDecoder) readFlat(dst []byte, tm *toneMap, row int) {
	n := d.width * (d.height - row)
	d.r.need(int64(n) * 4)

	out := dst[row*d.width*3:]
	for i := 0; i < n; i++ {
		tm.put(out[i*3:i*3+3], d.r.next(4))
	}
}

// readRLE decodes adaptive run-length scanlines. A scanline without the RLE marker
// means the rest of the file is flat.
func (d *hdrDecoder) readRLE(dst []byte, tm *toneMap) {
	w := d.width
	scan := d.ctx.a.bytes(w * 4)

	for y := 0; y < d.height; y++ {
		p := d.r.peek(4)
		if len(p) < 4 {
			fail(ErrEndOfInput, "unexpected end of data")
		}

		if p[0] != 2 || p[1] != 2 || p[2]&0x80 != 0 {
			d.readFlat(dst, tm, y)

			return
		}

		if n := int(p[2])<<8 | int(p[3]); n != w {
			failf(ErrCorruptData, "scanline length %d, want %d", n, w)
		}

		d.r.skip(4)

		for c := 0; c < 4; c++ {
			for i := 0; i < w; {
				count := int(d.r.u8())
				left := w - i

				if count > 128 {
					count -= 128
					if count > left {
						fail(ErrCorruptData, "run overflows the scanline")
					}

					v := d.r.u8()
					for ; count > 0; count-- {
						scan[i*4+c] = v
						i++
					}

					continue
				}

				if count == 0 || count > left {
					fail(ErrCorruptData, "bad dump length")
				}

				for _, v := range d.r.next(count) {
					scan[i*4+c] = v
					i++
				}
			}
		}

		out := dst[y*w*3:]
		for i := 0; i < w; i++ {
			tm.put(out[i*3:i*3+3], scan[i*4:i*4+4])
		}
	}
}

// toneMap converts RGBE to 8-bit with pow(v*scale, 1/gamma).
type toneMap struct {
	invGamma, scale float64
}

func newToneMap(gamma, scale float64) *toneMap {
	return &toneMap{invGamma: 1 / gamma, scale: scale}
}

func (tm *toneMap) put(px, rgbe []byte) {
	if rgbe[3] == 0 {
		px[0], px[1], px[2] = 0, 0, 0

		return
	}

	f := math.Ldexp(1, int(rgbe[3])-(128+8))

	for c := 0; c < 3; c++ {
		v := math.Pow(float64(rgbe[c])*f*tm.scale, tm.invGamma)*255 + 0.5
		px[c] = byte(min(max(v, 0), 255))
	}
}
