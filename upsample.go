package rawimage

// Upsampling

// Constants for a 4-tap Catmull-Rom upsampling filter.
const (
	cf4A = -9
	cf4B = 111
	cf4C = 29
	cf4D = -3
	cf3A = 28
	cf3B = 109
	cf3C = -9
	cf3X = 104
	cf3Y = 27
	cf3Z = -3
	cf2A = 139
	cf2B = -11
)

// cf applies the final step of the filter calculation.
func cf(x int32) byte {
	return clamp((x + 64) >> 7)
}

// upsample brings a subsampled component plane to width x height.
func upsample(a *arena, c *component, width, height, fx, fy int, method UpsampleMethod) {
	if method == CatmullRom && canCatmullRom(c, fx, fy) {
		upsampleCatmullRom(a, c, width, height)

		return
	}

	upsampleNearestNeighbor(a, c, width, height, fx, fy)
}

// canCatmullRom reports whether the filter applies: 2x steps on planes of at least 3 samples.
func canCatmullRom(c *component, fx, fy int) bool {
	if fx&(fx-1) != 0 || fy&(fy-1) != 0 {
		return false
	}

	return (fx == 1 || c.width >= 3) && (fy == 1 || c.height >= 3)
}

// upsampleCatmullRom performs upsampling by using the 4-tap Catmull-Rom interpolation filter.
func upsampleCatmullRom(a *arena, c *component, width, height int) {
	for c.width < width || c.height < height {
		if c.width < width {
			upsampleH(a, c)
		}

		if c.height < height {
			upsampleV(a, c)
		}
	}
}

// upsampleH performs a 2x horizontal upsampling on a component's pixel data.
func upsampleH(a *arena, c *component) {
	newWidth := c.width << 1
	out := a.bytes(newWidth * c.height)

	lin := c.pixels
	lout := out

	for y := 0; y < c.height; y++ {
		baseIn := y * c.stride
		baseOut := y * newWidth

		// Left edge
		p0L := int32(lin[baseIn+0])
		p1L := int32(lin[baseIn+1])
		p2L := int32(lin[baseIn+2])

		lout[baseOut+0] = cf(cf2A*p0L + cf2B*p1L)
		lout[baseOut+1] = cf(cf3X*p0L + cf3Y*p1L + cf3Z*p2L)
		lout[baseOut+2] = cf(cf3A*p0L + cf3B*p1L + cf3C*p2L)

		for x := 0; x < c.width-3; x++ {
			p0 := int32(lin[baseIn+x])
			p1 := int32(lin[baseIn+x+1])
			p2 := int32(lin[baseIn+x+2])
			p3 := int32(lin[baseIn+x+3])

			lout[baseOut+(x<<1)+3] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			lout[baseOut+(x<<1)+4] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)
		}

		// Right edge, mirrored.
		p0R := int32(lin[baseIn+c.width-1])
		p1R := int32(lin[baseIn+c.width-2])
		p2R := int32(lin[baseIn+c.width-3])

		lout[baseOut+newWidth-3] = cf(cf3A*p0R + cf3B*p1R + cf3C*p2R)
		lout[baseOut+newWidth-2] = cf(cf3X*p0R + cf3Y*p1R + cf3Z*p2R)
		lout[baseOut+newWidth-1] = cf(cf2A*p0R + cf2B*p1R)
	}

	c.width = newWidth
	c.stride = newWidth
	c.pixels = out
}

// upsampleV performs a 2x vertical upsampling with the same filter and symmetric edges.
func upsampleV(a *arena, c *component) {
	w := c.width
	s1 := c.stride
	s2 := s1 + s1
	s3 := s2 + s1
	newHeight := c.height << 1

	out := a.bytes(w * newHeight)

	for x := 0; x < w; x++ {
		cin := x
		cout := x

		// Top edge
		p0T := int32(c.pixels[cin])
		p1T := int32(c.pixels[cin+s1])
		p2T := int32(c.pixels[cin+s2])

		out[cout] = cf(cf2A*p0T + cf2B*p1T)
		cout += w
		out[cout] = cf(cf3X*p0T + cf3Y*p1T + cf3Z*p2T)
		cout += w
		out[cout] = cf(cf3A*p0T + cf3B*p1T + cf3C*p2T)

		for y := 0; y < c.height-3; y++ {
			p0 := int32(c.pixels[cin])
			p1 := int32(c.pixels[cin+s1])
			p2 := int32(c.pixels[cin+s2])
			p3 := int32(c.pixels[cin+s3])

			cout += w
			out[cout] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			cout += w
			out[cout] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)

			cin += s1
		}

		// Bottom edge, mirrored.
		p0B := int32(c.pixels[cin+s2])
		p1B := int32(c.pixels[cin+s1])
		p2B := int32(c.pixels[cin])

		cout += w
		out[cout] = cf(cf3A*p0B + cf3B*p1B + cf3C*p2B)
		cout += w
		out[cout] = cf(cf3X*p0B + cf3Y*p1B + cf3Z*p2B)
		cout += w
		out[cout] = cf(cf2A*p0B + cf2B*p1B)
	}

	c.height = newHeight
	c.stride = c.width
	c.pixels = out
}

// upsampleNearestNeighbor replicates samples by integer factors fx and fy into a width x height plane.
func upsampleNearestNeighbor(a *arena, c *component, width, height, fx, fy int) {
	out := a.bytes(width * height)

	// Common 4:2:0 case.
	if fx == 2 && fy == 2 {
		for y := 0; y < height; y += 2 {
			srcRow := c.pixels[(y>>1)*c.stride:]
			dstRow := out[y*width : (y+1)*width]

			for x := 0; x < width; x++ {
				dstRow[x] = srcRow[x>>1]
			}

			if y+1 < height {
				copy(out[(y+1)*width:(y+2)*width], dstRow)
			}
		}
	} else {
		for y := 0; y < height; y++ {
			lin := c.pixels[(y/fy)*c.stride:]
			lout := out[y*width : (y+1)*width]

			for x := 0; x < width; x++ {
				lout[x] = lin[x/fx]
			}
		}
	}

	c.width = width
	c.height = height
	c.stride = width
	c.pixels = out
}
