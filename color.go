package rawimage

// ycc converts one YCbCr sample to RGB.
func ycc(y, cb, cr byte) (byte, byte, byte) {
	yy := int32(y) << 8
	cbb := int32(cb) - 128
	crr := int32(cr) - 128

	r := (yy + 359*crr + 128) >> 8
	g := (yy - 88*cbb - 183*crr + 128) >> 8
	b := (yy + 454*cbb + 128) >> 8

	return clamp(r), clamp(g), clamp(b)
}

// blinn multiplies two 8-bit values as fractions of 255, rounded.
func blinn(x, y byte) byte {
	t := uint32(x)*uint32(y) + 128

	return byte((t + (t >> 8)) >> 8)
}

// grayToGray copies the visible part of a luminance plane.
func grayToGray(c *component, dst []byte, width, height int) {
	for y := 0; y < height; y++ {
		copy(dst[y*width:(y+1)*width], c.pixels[y*c.stride:])
	}
}

// yCbCrToRGB converts three full-resolution planes to interleaved RGB.
func yCbCrToRGB(y, cb, cr *component, dst []byte, width, height int) {
	o := 0
	py, pcb, pcr := 0, 0, 0

	for j := 0; j < height; j++ {
		for x := 0; x < width; x++ {
			dst[o], dst[o+1], dst[o+2] = ycc(y.pixels[py+x], cb.pixels[pcb+x], cr.pixels[pcr+x])
			o += 3
		}

		py += y.stride
		pcb += cb.stride
		pcr += cr.stride
	}
}

// rgbToRGB interleaves three planes that already hold RGB.
func rgbToRGB(r, g, b *component, dst []byte, width, height int) {
	o := 0
	pr, pg, pb := 0, 0, 0

	for j := 0; j < height; j++ {
		for x := 0; x < width; x++ {
			dst[o] = r.pixels[pr+x]
			dst[o+1] = g.pixels[pg+x]
			dst[o+2] = b.pixels[pb+x]
			o += 3
		}

		pr += r.stride
		pg += g.stride
		pb += b.stride
	}
}

// cmykToRGB converts Adobe CMYK planes, which are stored inverted, to RGB.
func cmykToRGB(c, m, y, k *component, dst []byte, width, height int) {
	o := 0

	for j := 0; j < height; j++ {
		pc, pm, py, pk := j*c.stride, j*m.stride, j*y.stride, j*k.stride

		for x := 0; x < width; x++ {
			kk := k.pixels[pk+x]
			dst[o] = blinn(c.pixels[pc+x], kk)
			dst[o+1] = blinn(m.pixels[pm+x], kk)
			dst[o+2] = blinn(y.pixels[py+x], kk)
			o += 3
		}
	}
}

// ycckToRGB converts YCCK planes: YCbCr to RGB, inverted, then scaled by K.
func ycckToRGB(y, cb, cr, k *component, dst []byte, width, height int) {
	o := 0

	for j := 0; j < height; j++ {
		py, pcb, pcr, pk := j*y.stride, j*cb.stride, j*cr.stride, j*k.stride

		for x := 0; x < width; x++ {
			r, g, b := ycc(y.pixels[py+x], cb.pixels[pcb+x], cr.pixels[pcr+x])
			kk := k.pixels[pk+x]
			dst[o] = blinn(255-r, kk)
			dst[o+1] = blinn(255-g, kk)
			dst[o+2] = blinn(255-b, kk)
			o += 3
		}
	}
}
