package rawimage

// luma computes BT.601 luminance in 8.8 fixed point.
func luma(r, g, b byte) byte {
	return byte((77*int(r) + 150*int(g) + 29*int(b)) >> 8)
}

// convertChannels reshapes n pixels of src from comp to want channels.
// When the layouts match, src is returned as is.
func convertChannels(a *arena, src []byte, n, comp, want int) []byte {
	if comp == want {
		return src
	}

	dst := a.output(n * want)

	// Pack (from, to) into one switch key.
	switch comp*8 + want {
	case 1*8 + 2:
		for i := 0; i < n; i++ {
			dst[i*2] = src[i]
			dst[i*2+1] = 0xff
		}
	case 1*8 + 3:
		for i := 0; i < n; i++ {
			g := src[i]
			dst[i*3], dst[i*3+1], dst[i*3+2] = g, g, g
		}
	case 1*8 + 4:
		for i := 0; i < n; i++ {
			g := src[i]
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = g, g, g, 0xff
		}
	case 2*8 + 1:
		for i := 0; i < n; i++ {
			dst[i] = src[i*2]
		}
	case 2*8 + 3:
		for i := 0; i < n; i++ {
			g := src[i*2]
			dst[i*3], dst[i*3+1], dst[i*3+2] = g, g, g
		}
	case 2*8 + 4:
		for i := 0; i < n; i++ {
			g := src[i*2]
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = g, g, g, src[i*2+1]
		}
	case 3*8 + 1:
		for i := 0; i < n; i++ {
			dst[i] = luma(src[i*3], src[i*3+1], src[i*3+2])
		}
	case 3*8 + 2:
		for i := 0; i < n; i++ {
			dst[i*2] = luma(src[i*3], src[i*3+1], src[i*3+2])
			dst[i*2+1] = 0xff
		}
	case 3*8 + 4:
		for i := 0; i < n; i++ {
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = src[i*3], src[i*3+1], src[i*3+2], 0xff
		}
	case 4*8 + 1:
		for i := 0; i < n; i++ {
			dst[i] = luma(src[i*4], src[i*4+1], src[i*4+2])
		}
	case 4*8 + 2:
		for i := 0; i < n; i++ {
			dst[i*2] = luma(src[i*4], src[i*4+1], src[i*4+2])
			dst[i*2+1] = src[i*4+3]
		}
	case 4*8 + 3:
		for i := 0; i < n; i++ {
			dst[i*3], dst[i*3+1], dst[i*3+2] = src[i*4], src[i*4+1], src[i*4+2]
		}
	default:
		failf(ErrUnsupported, "channel conversion %d to %d", comp, want)
	}

	return dst
}

// flipRows reverses the row order of an image in place.
func flipRows(pix []byte, stride, height int) {
	var tmp [2048]byte

	for top, bottom := 0, height-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]

		for len(a) > 0 {
			n := copy(tmp[:], a)
			copy(a, b[:n])
			copy(b, tmp[:n])
			a, b = a[n:], b[n:]
		}
	}
}

// orient applies an EXIF orientation (2 to 8) to an image of comp channels.
// Orientations 5 to 8 swap the width and height.
func orient(a *arena, src []byte, srcWidth, srcHeight, comp, orientation int) ([]byte, int, int) {
	dstWidth, dstHeight := srcWidth, srcHeight
	if orientation >= 5 {
		dstWidth, dstHeight = srcHeight, srcWidth
	}

	dst := a.output(dstWidth * dstHeight * comp)
	srcStride := srcWidth * comp
	dstStride := dstWidth * comp

	// Forward mapping from source (sx, sy) to destination (dx, dy).
	for sy := 0; sy < srcHeight; sy++ {
		for sx := 0; sx < srcWidth; sx++ {
			var dx, dy int

			switch orientation {
			case 2: // Flip horizontal
				dx, dy = srcWidth-1-sx, sy
			case 3: // Rotate 180
				dx, dy = srcWidth-1-sx, srcHeight-1-sy
			case 4: // Flip vertical
				dx, dy = sx, srcHeight-1-sy
			case 5: // Transpose
				dx, dy = sy, sx
			case 6: // Rotate 90 CW
				dx, dy = srcHeight-1-sy, sx
			case 7: // Transverse
				dx, dy = srcHeight-1-sy, srcWidth-1-sx
			case 8: // Rotate 270 CW
				dx, dy = sy, srcWidth-1-sx
			default:
				return src, srcWidth, srcHeight
			}

			so := sy*srcStride + sx*comp
			do := dy*dstStride + dx*comp
			copy(dst[do:do+comp], src[so:so+comp])
		}
	}

	return dst, dstWidth, dstHeight
}
