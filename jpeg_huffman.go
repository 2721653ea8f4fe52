package rawimage

// vlcCode represents a single entry in the pre-calculated Huffman lookup table.
// It stores the number of bits for the code and the decoded value.
type vlcCode struct {
	bits, code uint8
}

// huffLUT maps every 16-bit window of the bitstream to the code it starts with.
type huffLUT [65536]vlcCode

// zz is the zigzag ordering table. It maps the 1D order of coefficients in the JPEG stream to their 2D position in an 8x8 block.
var zz = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// buildLUT fills vlc from the 16 code-length counts and the symbol values of a DHT table.
func buildLUT(vlc *huffLUT, counts *[16]uint8, values []byte) {
	var huffCode uint32
	valueIdx := 0

	for codeLen := 1; codeLen <= 16; codeLen++ {
		numCodes := int(counts[codeLen-1])
		for k := 0; k < numCodes; k++ {
			// Codes must fit in codeLen bits.
			if huffCode >= 1<<codeLen {
				fail(ErrCorruptData, "huffman table over-subscribed")
			}

			huffVal := values[valueIdx]
			valueIdx++
			shift := 16 - codeLen
			numEntries := 1 << shift
			baseIndex := huffCode << shift

			for j := 0; j < numEntries; j++ {
				vlc[baseIndex+uint32(j)] = vlcCode{bits: uint8(codeLen), code: huffVal}
			}

			huffCode++
		}

		huffCode <<= 1
	}
}

// Bitstream handling

// fillBits tops the bit buffer up to at least 57 bits, unstuffing 0xFF00.
// A marker stops the fill; from then on the stream reads as zero bits.
func (d *jpegDecoder) fillBits() {
	for d.bufBits <= 56 {
		if d.marker != 0 || d.eof {
			return
		}

		b, ok := d.r.byteOK()
		if !ok {
			d.eof = true

			return
		}

		if b == 0xff {
			b2, ok := d.r.byteOK()
			for ok && b2 == 0xff {
				// Fill bytes before a marker.
				b2, ok = d.r.byteOK()
			}

			if !ok {
				d.eof = true

				return
			}

			if b2 != 0 {
				d.marker = b2

				return
			}
		}

		d.buf = d.buf<<8 | uint64(b)
		d.bufBits += 8
	}
}

// showBits returns the next n bits (n <= 16) without consuming them.
func (d *jpegDecoder) showBits(n int) int {
	if d.bufBits < n {
		d.fillBits()

		if d.bufBits < n {
			if d.eof {
				fail(ErrEndOfInput, "entropy data truncated")
			}

			// Past a marker, pad with zeros.
			d.buf <<= uint(n - d.bufBits)
			d.bufBits = n
		}
	}

	return int(d.buf>>uint(d.bufBits-n)) & (1<<n - 1)
}

func (d *jpegDecoder) skipBits(n int) {
	d.bufBits -= n
}

// getBits reads and consumes n bits from the bitstream.
func (d *jpegDecoder) getBits(n int) int {
	if n == 0 {
		return 0
	}

	v := d.showBits(n)
	d.bufBits -= n

	return v
}

func (d *jpegDecoder) getBit() int {
	return d.getBits(1)
}

// extend sign-extends a raw value of s bits.
func extend(v, s int) int {
	if v < 1<<(s-1) {
		v += -1<<s + 1
	}

	return v
}

// getHuffSymbol decodes a Huffman symbol without reading the value bits that follow it.
func (d *jpegDecoder) getHuffSymbol(vlc *huffLUT) int {
	entry := vlc[d.showBits(16)]
	if entry.bits == 0 {
		fail(ErrCorruptData, "undefined huffman code")
	}

	d.skipBits(int(entry.bits))

	return int(entry.code)
}

// getVLC decodes a single Variable-Length Code (VLC) and its magnitude bits.
// The symbol is stored in code if it is not nil.
func (d *jpegDecoder) getVLC(vlc *huffLUT, code *uint8) int {
	value16 := d.showBits(16)

	entry := vlc[value16]
	huffBits := int(entry.bits)
	if huffBits == 0 {
		fail(ErrCorruptData, "undefined huffman code")
	}

	if code != nil {
		*code = entry.code
	}

	valBits := int(entry.code & 15)
	if valBits == 0 {
		d.skipBits(huffBits)

		return 0
	}

	totalBits := huffBits + valBits

	// Fast path: the code and its value are both in the buffer.
	if d.bufBits >= totalBits {
		shift := uint(d.bufBits - totalBits)
		value := int((d.buf >> shift) & (1<<uint(valBits) - 1))
		d.bufBits -= totalBits

		return extend(value, valBits)
	}

	d.skipBits(huffBits)

	return extend(d.getBits(valBits), valBits)
}

// resetBits discards buffered bits at a restart or scan boundary.
func (d *jpegDecoder) resetBits() {
	d.buf = 0
	d.bufBits = 0
}
