package rawimage

// Entropy Decoding

// decodeScan parses the SOS header and decodes the entropy-coded segment that follows it.
func (d *jpegDecoder) decodeScan() {
	if !d.frameSeen {
		fail(ErrCorruptData, "scan before frame header")
	}

	p := d.segment()
	if len(p) < 1 {
		fail(ErrCorruptData, "short SOS segment")
	}

	ns := int(p[0])
	if ns < 1 || ns > d.ncomp || len(p) != 4+2*ns {
		fail(ErrCorruptData, "bad SOS length")
	}

	var scan [4]*component

	for i := 0; i < ns; i++ {
		id := int(p[1+2*i])
		sel := p[2+2*i]

		var c *component
		for k := 0; k < d.ncomp; k++ {
			if d.comp[k].id == id {
				c = &d.comp[k]

				break
			}
		}

		if c == nil {
			failf(ErrCorruptData, "scan references unknown component %d", id)
		}

		c.dcTabSel = int(sel >> 4)
		c.acTabSel = int(sel & 15)
		if c.dcTabSel > 3 || c.acTabSel > 3 {
			fail(ErrCorruptData, "bad huffman table selector")
		}

		scan[i] = c
	}

	q := p[1+2*ns:]
	ss, se := int(q[0]), int(q[1])
	ah, al := int(q[2]>>4), int(q[2]&15)

	if d.progressive {
		d.checkProgressive(scan[:ns], ss, se, ah, al)
	} else {
		d.checkBaseline(scan[:ns], ss, ah, al)
	}

	for i := range d.comp {
		d.comp[i].dcPred = 0
	}

	d.eobrun = 0
	d.resetBits()
	d.scans++

	switch {
	case !d.progressive:
		d.forEachBlock(scan[:ns], d.decodeBlock)
	case ss == 0:
		d.forEachBlock(scan[:ns], func(c *component, bx, by int) {
			d.decodeBlockDC(c, bx, by, ah, al)
		})
	case ah == 0:
		d.forEachBlock(scan[:ns], func(c *component, bx, by int) {
			d.decodeBlockACFirst(c, bx, by, ss, se, al)
		})
	default:
		d.forEachBlock(scan[:ns], func(c *component, bx, by int) {
			d.decodeBlockACRefine(c, bx, by, ss, se, al)
		})
	}

	d.resetBits()
}

func (d *jpegDecoder) checkBaseline(scan []*component, ss, ah, al int) {
	if ss != 0 || ah != 0 || al != 0 {
		fail(ErrCorruptData, "bad sequential scan parameters")
	}

	for _, c := range scan {
		if d.dcTab[c.dcTabSel] == nil || d.acTab[c.acTabSel] == nil {
			fail(ErrCorruptData, "scan references undefined huffman table")
		}

		if d.qtAvail&(1<<c.qtSel) == 0 {
			fail(ErrCorruptData, "scan references undefined quantization table")
		}
	}
}

func (d *jpegDecoder) checkProgressive(scan []*component, ss, se, ah, al int) {
	if ss > 63 || se > 63 || ss > se || ah > 13 || al > 13 {
		fail(ErrCorruptData, "bad spectral selection")
	}

	if ss == 0 && se != 0 {
		fail(ErrCorruptData, "DC scan with AC coefficients")
	}

	if ss > 0 && len(scan) != 1 {
		fail(ErrCorruptData, "interleaved AC scan")
	}

	for _, c := range scan {
		switch {
		case ss == 0 && ah == 0 && d.dcTab[c.dcTabSel] == nil,
			ss > 0 && d.acTab[c.acTabSel] == nil:
			fail(ErrCorruptData, "scan references undefined huffman table")
		}
	}
}

// forEachBlock walks the blocks of a scan in coding order and processes restart intervals.
// Non-interleaved scans cover only the blocks that intersect the image.
func (d *jpegDecoder) forEachBlock(scan []*component, fn func(c *component, bx, by int)) {
	nextRst := 0
	todo := d.rstInterval

	if len(scan) == 1 {
		c := scan[0]
		w := (c.width + 7) >> 3
		h := (c.height + 7) >> 3
		n, total := 0, w*h

		for by := 0; by < h; by++ {
			for bx := 0; bx < w; bx++ {
				fn(c, bx, by)
				n++

				if d.rstInterval != 0 {
					if todo--; todo == 0 && n < total {
						d.restart(&nextRst)
						todo = d.rstInterval
					}
				}
			}
		}

		return
	}

	n, total := 0, d.mbWidth*d.mbHeight

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for _, c := range scan {
				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						fn(c, mbx*c.ssX+sbx, mby*c.ssY+sby)
					}
				}
			}

			n++

			if d.rstInterval != 0 {
				if todo--; todo == 0 && n < total {
					d.restart(&nextRst)
					todo = d.rstInterval
				}
			}
		}
	}
}

// restart consumes the next RSTn marker, which must follow the expected sequence.
func (d *jpegDecoder) restart(next *int) {
	d.resetBits()

	if m := d.nextMarker(); m != 0xd0+byte(*next) {
		failf(ErrCorruptData, "expected RST%d marker, got %#02x", *next, m)
	}

	*next = (*next + 1) & 7

	for i := range d.comp {
		d.comp[i].dcPred = 0
	}

	d.eobrun = 0
}

// decodeBlock decodes a single 8x8 block of a sequential scan. This involves
// entropy decoding of DC and AC coefficients, dequantization, and applying the IDCT.
func (d *jpegDecoder) decodeBlock(c *component, bx, by int) {
	var code uint8

	d.block = [64]int32{}

	qt := &d.qtab[c.qtSel]
	dcVLC := d.dcTab[c.dcTabSel]
	acVLC := d.acTab[c.acTabSel]

	c.dcPred += d.getVLC(dcVLC, nil)
	d.block[0] = int32(c.dcPred) * int32(qt[0])

	coef := 1 // zigzag index
	for coef <= 63 {
		value := d.getVLC(acVLC, &code)

		if code == 0 { // EOB
			break
		}

		if (code & 0x0f) == 0 {
			if code != 0xf0 { // ZRL
				fail(ErrCorruptData, "bad AC run code")
			}

			coef += 16

			continue
		}

		coef += int(code >> 4)
		if coef > 63 {
			fail(ErrCorruptData, "coefficient index out of range")
		}

		nat := zz[coef]
		d.block[nat] = int32(value) * int32(qt[nat])
		coef++
	}

	idct(&d.block, c.pixels, (by<<3)*c.stride+(bx<<3), c.stride)
}

// blockCoefs returns the coefficient storage of one block.
func blockCoefs(c *component, bx, by int) []int16 {
	i := (by*c.bw + bx) * 64

	return c.coefs[i : i+64 : i+64]
}

// decodeBlockDC handles DC first and refinement passes of a progressive scan.
func (d *jpegDecoder) decodeBlockDC(c *component, bx, by, ah, al int) {
	coefs := blockCoefs(c, bx, by)

	if ah == 0 {
		t := d.getHuffSymbol(d.dcTab[c.dcTabSel])
		if t > 15 {
			fail(ErrCorruptData, "bad DC code")
		}

		diff := 0
		if t != 0 {
			diff = extend(d.getBits(t), t)
		}

		c.dcPred += diff
		coefs[0] = int16(c.dcPred * (1 << al))

		return
	}

	if d.getBit() != 0 {
		coefs[0] |= int16(1 << al)
	}
}

// decodeBlockACFirst handles the first pass (Ah=0) of AC coefficient decoding.
func (d *jpegDecoder) decodeBlockACFirst(c *component, bx, by, ss, se, al int) {
	if d.eobrun > 0 {
		d.eobrun--

		return
	}

	coefs := blockCoefs(c, bx, by)
	vlc := d.acTab[c.acTabSel]

	for k := ss; k <= se; {
		rs := d.getHuffSymbol(vlc)
		s, r := rs&15, rs>>4

		if s == 0 {
			if r < 15 {
				// EOB run, including this block.
				d.eobrun = 1 << r
				if r > 0 {
					d.eobrun += d.getBits(r)
				}

				d.eobrun--

				return
			}

			k += 16

			continue
		}

		k += r
		if k > 63 {
			fail(ErrCorruptData, "coefficient index out of range")
		}

		coefs[zz[k]] = int16(extend(d.getBits(s), s) * (1 << al))
		k++
	}
}

// decodeBlockACRefine handles the refinement pass (Ah>0) of AC coefficient decoding.
func (d *jpegDecoder) decodeBlockACRefine(c *component, bx, by, ss, se, al int) {
	coefs := blockCoefs(c, bx, by)
	delta := int16(1 << al)

	if d.eobrun > 0 {
		d.eobrun--
		d.refineNonZeroes(coefs, ss, se, delta)

		return
	}

	vlc := d.acTab[c.acTabSel]
	k := ss

	for k <= se {
		rs := d.getHuffSymbol(vlc)
		s, r := rs&15, rs>>4

		var z int16

		if s == 0 {
			if r < 15 {
				d.eobrun = 1<<r - 1
				if r > 0 {
					d.eobrun += d.getBits(r)
				}

				// Refine the rest of this block, then stop.
				r = 64
			}
		} else {
			if s != 1 {
				fail(ErrCorruptData, "bad refinement code")
			}

			z = delta
			if d.getBit() == 0 {
				z = -delta
			}
		}

		// Skip r zero-history coefficients, refining the non-zero ones on the way.
		for k <= se {
			p := &coefs[zz[k]]
			k++

			if *p != 0 {
				d.refine(p, delta)
			} else {
				if r == 0 {
					*p = z

					break
				}

				r--
			}
		}
	}
}

// refineNonZeroes refines every coefficient with history in [ss, se], for blocks inside an EOB run.
func (d *jpegDecoder) refineNonZeroes(coefs []int16, ss, se int, delta int16) {
	for k := ss; k <= se; k++ {
		if p := &coefs[zz[k]]; *p != 0 {
			d.refine(p, delta)
		}
	}
}

// refine adds one correction bit to a coefficient that already has history.
func (d *jpegDecoder) refine(p *int16, delta int16) {
	if d.getBit() == 0 || *p&delta != 0 {
		return
	}

	if *p >= 0 {
		*p += delta
	} else {
		*p -= delta
	}
}

// reconstruct dequantizes and transforms the progressive coefficients of every block.
func (d *jpegDecoder) reconstruct() {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]

		if d.qtAvail&(1<<c.qtSel) == 0 {
			fail(ErrCorruptData, "undefined quantization table")
		}

		qt := &d.qtab[c.qtSel]

		for by := 0; by < c.bh; by++ {
			for bx := 0; bx < c.bw; bx++ {
				coefs := blockCoefs(c, bx, by)

				for k := 0; k < 64; k++ {
					d.block[k] = int32(coefs[k]) * int32(qt[k])
				}

				idct(&d.block, c.pixels, (by<<3)*c.stride+(bx<<3), c.stride)
			}
		}
	}
}
