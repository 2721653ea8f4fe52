package rawimage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math/bits"
	"testing"
)

// baselineGray2x2 is a minimal 2x2, 8-bit grayscale, baseline JPEG.
var baselineGray2x2 = []byte{
	// SOI: Start of Image
	0xff, 0xd8,
	// APP0: JFIF segment
	0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46, 0x00, 0x01, 0x01, 0x00, 0x00, 0x01, 0x00, 0x01,
	0x00, 0x00,
	// DQT: Define Quantization Table
	0xff, 0xdb, 0x00, 0x43, 0x00, 0x03, 0x02, 0x02, 0x02, 0x02, 0x02, 0x03, 0x02, 0x02, 0x02, 0x03,
	0x03, 0x03, 0x03, 0x04, 0x06, 0x04, 0x04, 0x04, 0x05, 0x0a, 0x07, 0x07, 0x08, 0x0a, 0x0d, 0x0b,
	0x0d, 0x0c, 0x0c, 0x0b, 0x0b, 0x0c, 0x11, 0x0f, 0x12, 0x10, 0x13, 0x12, 0x11, 0x0f, 0x11, 0x10,
	0x10, 0x14, 0x18, 0x1a, 0x17, 0x14, 0x15, 0x18, 0x10, 0x10, 0x13, 0x1c, 0x15, 0x13, 0x15, 0x16,
	0x19, 0x1c, 0x19, 0x19, 0x19, // Trailing fill bytes before the next marker

	// SOF0: Start of Frame (Baseline DCT)
	0xff, 0xc0, 0x00, 0x0b, 0x08, 0x00, 0x02, 0x00, 0x02, 0x01, 0x01, 0x11, 0x00,

	// DHT for DC table 0 (Standard Luminance DC)
	0xff, 0xc4, 0x00, 0x1f, 0x00,
	// Counts (16 bytes)
	0x00, 0x01, 0x05, 0x01, 0x01, 0x01, 0x01, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	// Values (12 bytes)
	0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b,

	// DHT for AC table 0 (Standard Luminance AC)
	0xff, 0xc4, 0x00, 0xb5, 0x10,
	// Counts (16 bytes)
	0x00, 0x02, 0x01, 0x03, 0x03, 0x02, 0x04, 0x03, 0x05, 0x05, 0x04, 0x04, 0x00, 0x00, 0x01, 0x7d,
	// Values (162 bytes)
	0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12, 0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
	0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08, 0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
	0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
	0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
	0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
	0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79, 0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
	0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
	0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
	0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
	0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea, 0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
	0xf9, 0xfa,

	// SOS: Start of Scan
	0xff, 0xda, // Marker
	0x00, 0x08, // Length 8 (6 + 2*1 component)
	0x01,       // Ns=1 (1 component)
	0x01, 0x00, // Cs=1 (ID 1), Td/Ta=0 (DC/AC table 0)
	0x00, 0x3f, 0x00, // Ss=0, Se=63, Ah/Al=0 (Baseline parameters)

	// Scan data
	0xed, 0x9f, 0x2f, 0x84, 0xa2, 0x8b, 0x1f, 0x22, 0xa2, 0x80, 0x2a, 0x28,
	0xa2, 0x80, 0x2a, 0x28, 0xa2, 0x80, 0x2a, 0x28, 0xa2, 0x80, 0x3f, 0xff,

	// EOI: End of Image
	0xd9,
}

// A small tolerance is needed to account for differences in IDCT implementations.
const defaultTolerance = 2

// isClose checks if two color component values are within the allowed tolerance.
func isClose(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}

	return b-a <= tol
}

// testComp is one component of a synthesized JPEG. level returns the flat sample value
// of the block at (bx, by) in the component's own block grid.
type testComp struct {
	id    byte
	h, v  int
	level func(bx, by int) byte
}

// testJPEG writes JPEGs made of flat blocks. Quantization is 1 everywhere, the DC table
// codes category s as the 4-bit value s and the only AC code is EOB as a single 0 bit,
// so every block decodes exactly to its level.
type testJPEG struct {
	width, height int
	comps         []testComp
	progressive   bool
	restart       int
	adobe         int // Adobe transform, -1 for no APP14 segment
	jfif          bool
	exif          []byte
	precision     byte // 0 means 8
}

// bitWriter writes MSB-first entropy data with 0xFF stuffing.
type bitWriter struct {
	out *bytes.Buffer
	acc byte
	n   int
}

func (w *bitWriter) put(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.acc = w.acc<<1 | byte(v>>uint(i)&1)
		w.n++

		if w.n == 8 {
			w.out.WriteByte(w.acc)
			if w.acc == 0xff {
				w.out.WriteByte(0)
			}

			w.acc, w.n = 0, 0
		}
	}
}

// flush pads the last byte with 1 bits.
func (w *bitWriter) flush() {
	for w.n != 0 {
		w.put(1, 1)
	}
}

func (w *bitWriter) putDC(diff int) {
	mag := diff
	if mag < 0 {
		mag = -mag
	}

	s := bits.Len(uint(mag))
	w.put(uint32(s), 4)

	if s > 0 {
		if diff < 0 {
			diff += 1<<s - 1
		}

		w.put(uint32(diff), s)
	}
}

func writeSegment(out *bytes.Buffer, marker byte, payload []byte) {
	out.Write([]byte{0xff, marker, byte((len(payload) + 2) >> 8), byte(len(payload) + 2)})
	out.Write(payload)
}

func (j *testJPEG) maxSampling() (int, int) {
	hmax, vmax := 1, 1
	for _, c := range j.comps {
		hmax, vmax = max(hmax, c.h), max(vmax, c.v)
	}

	return hmax, vmax
}

// dc is the DC coefficient of a block: a flat block of value v has DC 8*(v-128).
func (j *testJPEG) dc(c testComp, bx, by int) int {
	return 8 * (int(c.level(bx, by)) - 128)
}

// blocks calls fn for every block of a scan in coding order and writes restart markers.
// onRestart runs after each marker.
func (j *testJPEG) blocks(w *bitWriter, comps []int, fn func(ci, bx, by int), onRestart func()) {
	hmax, vmax := j.maxSampling()
	units := 0
	rst := 0

	unitDone := func(last bool) {
		units++
		if j.restart > 0 && units%j.restart == 0 && !last {
			w.flush()
			w.out.Write([]byte{0xff, 0xd0 + byte(rst&7)})
			rst++

			if onRestart != nil {
				onRestart()
			}
		}
	}

	if len(comps) == 1 {
		c := j.comps[comps[0]]
		cw := (j.width*c.h + hmax - 1) / hmax
		ch := (j.height*c.v + vmax - 1) / vmax
		bw, bh := (cw+7)/8, (ch+7)/8

		for by := 0; by < bh; by++ {
			for bx := 0; bx < bw; bx++ {
				fn(comps[0], bx, by)
				unitDone(by == bh-1 && bx == bw-1)
			}
		}

		return
	}

	mbw := (j.width + 8*hmax - 1) / (8 * hmax)
	mbh := (j.height + 8*vmax - 1) / (8 * vmax)

	for my := 0; my < mbh; my++ {
		for mx := 0; mx < mbw; mx++ {
			for _, ci := range comps {
				c := j.comps[ci]
				for sy := 0; sy < c.v; sy++ {
					for sx := 0; sx < c.h; sx++ {
						fn(ci, mx*c.h+sx, my*c.v+sy)
					}
				}
			}

			unitDone(my == mbh-1 && mx == mbw-1)
		}
	}
}

func (j *testJPEG) scanHeader(out *bytes.Buffer, comps []int, ss, se, ah, al byte) {
	p := []byte{byte(len(comps))}
	for _, ci := range comps {
		p = append(p, j.comps[ci].id, 0x00)
	}

	writeSegment(out, 0xda, append(p, ss, se, ah<<4|al))
}

// dcScan writes a DC scan. With refine set it writes bit al of each coefficient,
// otherwise the coefficients shifted right by al, followed by an EOB when se is 63.
func (j *testJPEG) dcScan(out *bytes.Buffer, comps []int, refine bool, se, ah, al byte) {
	j.scanHeader(out, comps, 0, se, ah, al)

	w := &bitWriter{out: out}
	preds := make([]int, len(j.comps))

	j.blocks(w, comps, func(ci, bx, by int) {
		v := j.dc(j.comps[ci], bx, by)
		if refine {
			w.put(uint32(v>>al&1), 1)

			return
		}

		v >>= al
		w.putDC(v - preds[ci])
		preds[ci] = v

		if se == 63 {
			w.put(0, 1)
		}
	}, func() {
		clear(preds)
	})

	w.flush()
}

// acScan writes an AC scan of one component with an EOB in every block.
func (j *testJPEG) acScan(out *bytes.Buffer, ci int, ah, al byte) {
	j.scanHeader(out, []int{ci}, 1, 63, ah, al)

	w := &bitWriter{out: out}
	j.blocks(w, []int{ci}, func(int, int, int) {
		w.put(0, 1)
	}, nil)
	w.flush()
}

func (j *testJPEG) encode() []byte {
	var out bytes.Buffer

	out.Write([]byte{0xff, 0xd8})

	if j.jfif {
		writeSegment(&out, 0xe0, []byte("JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00"))
	}

	if j.exif != nil {
		writeSegment(&out, 0xe1, append([]byte("Exif\x00\x00"), j.exif...))
	}

	if j.adobe >= 0 {
		writeSegment(&out, 0xee, []byte{'A', 'd', 'o', 'b', 'e', 0, 100, 0, 0, 0, 0, byte(j.adobe)})
	}

	dqt := make([]byte, 65)
	for i := 1; i < 65; i++ {
		dqt[i] = 1
	}

	writeSegment(&out, 0xdb, dqt)

	precision := j.precision
	if precision == 0 {
		precision = 8
	}

	sof := []byte{precision, byte(j.height >> 8), byte(j.height), byte(j.width >> 8), byte(j.width), byte(len(j.comps))}
	for _, c := range j.comps {
		sof = append(sof, c.id, byte(c.h<<4|c.v), 0)
	}

	if j.progressive {
		writeSegment(&out, 0xc2, sof)
	} else {
		writeSegment(&out, 0xc0, sof)
	}

	dcCounts := make([]byte, 16)
	dcCounts[3] = 12
	writeSegment(&out, 0xc4, append(append([]byte{0x00}, dcCounts...), 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11))

	acCounts := make([]byte, 16)
	acCounts[0] = 1
	writeSegment(&out, 0xc4, append(append([]byte{0x10}, acCounts...), 0x00))

	if j.restart > 0 {
		writeSegment(&out, 0xdd, []byte{byte(j.restart >> 8), byte(j.restart)})
	}

	all := make([]int, len(j.comps))
	for i := range all {
		all[i] = i
	}

	if !j.progressive {
		j.dcScan(&out, all, false, 63, 0, 0)
	} else {
		j.dcScan(&out, all, false, 0, 0, 4)
		for ci := range j.comps {
			j.acScan(&out, ci, 0, 1)
		}

		j.dcScan(&out, all, true, 0, 4, 3)
		for ci := range j.comps {
			j.acScan(&out, ci, 1, 0)
		}
	}

	out.Write([]byte{0xff, 0xd9})

	return out.Bytes()
}

// checker returns a level function alternating between two values per block.
func checker(a, b byte) func(bx, by int) byte {
	return func(bx, by int) byte {
		if (bx+by)&1 == 0 {
			return a
		}

		return b
	}
}

// ramp returns a level function that changes per block.
func ramp(base byte) func(bx, by int) byte {
	return func(bx, by int) byte {
		return base + byte(bx*7+by*13)
	}
}

// expectPlanes computes the nearest-neighbor decoded planes of a testJPEG.
func (j *testJPEG) expectPlanes() [][]byte {
	hmax, vmax := j.maxSampling()
	planes := make([][]byte, len(j.comps))

	for i, c := range j.comps {
		fx, fy := hmax/c.h, vmax/c.v
		p := make([]byte, j.width*j.height)

		for y := 0; y < j.height; y++ {
			for x := 0; x < j.width; x++ {
				p[y*j.width+x] = c.level(x/fx/8, y/fy/8)
			}
		}

		planes[i] = p
	}

	return planes
}

// TestDecode2x2 tests the main Decode function with a valid grayscale baseline JPEG.
func TestDecode2x2(t *testing.T) {
	img, err := Decode(bytes.NewReader(baselineGray2x2), &Options{Components: RGBA})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if img.Width != 2 || img.Height != 2 {
		t.Fatalf("Expected 2x2 image, got %dx%d", img.Width, img.Height)
	}

	if img.Format != FormatJPEG || img.SourceComponents != 1 || img.Components != 4 {
		t.Fatalf("Unexpected layout: format %v, source %d, components %d", img.Format, img.SourceComponents, img.Components)
	}

	expected := color.RGBA{150, 150, 150, 255}

	for i := 0; i < 4; i++ {
		got := color.RGBA{img.Data[i*4], img.Data[i*4+1], img.Data[i*4+2], img.Data[i*4+3]}

		if !isClose(got.R, expected.R, defaultTolerance) ||
			!isClose(got.G, expected.G, defaultTolerance) ||
			!isClose(got.B, expected.B, defaultTolerance) ||
			got.A != expected.A {
			t.Errorf("Pixel %d - got RGBA%v, want close to RGBA%v", i, got, expected)
		}
	}
}

func TestDecodeConfigJPEG(t *testing.T) {
	cfg, err := DecodeConfigBytes(baselineGray2x2)
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}

	if cfg != (Config{Width: 2, Height: 2, Components: 1, Format: FormatJPEG}) {
		t.Errorf("Unexpected config %+v", cfg)
	}
}

// gradient returns a smooth test image of the given size.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: 255,
			})
		}
	}

	return img
}

func encodeStd(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	return buf.Bytes()
}

// TestDecodeAgainstStdLib compares 4:2:0 color and grayscale output with image/jpeg.
func TestDecodeAgainstStdLib(t *testing.T) {
	// Color conversion and chroma rounding add to the IDCT differences.
	const rgbTolerance = 3

	gray := image.NewGray(image.Rect(0, 0, 61, 37))
	for y := 0; y < 37; y++ {
		for x := 0; x < 61; x++ {
			gray.SetGray(x, y, color.Gray{Y: uint8(x*3 + y*2)})
		}
	}

	tests := []struct {
		name  string
		data  []byte
		tol   uint8
		ncomp int
	}{
		{"4:2:0 odd", encodeStd(t, gradient(77, 45)), rgbTolerance, 3},
		{"4:2:0 even", encodeStd(t, gradient(64, 48)), rgbTolerance, 3},
		{"gray", encodeStd(t, gray), defaultTolerance, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refImg, err := jpeg.Decode(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("std jpeg.Decode failed: %v", err)
			}
			refBounds := refImg.Bounds()

			img, err := Decode(bytes.NewReader(tt.data), &Options{Components: RGBA, UpsampleMethod: NearestNeighbor})
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if img.Width != refBounds.Dx() || img.Height != refBounds.Dy() {
				t.Fatalf("Bounds mismatch: got %dx%d, want %v", img.Width, img.Height, refBounds)
			}

			if img.SourceComponents != tt.ncomp {
				t.Errorf("SourceComponents = %d, want %d", img.SourceComponents, tt.ncomp)
			}

			got := img.ToImage().(*image.NRGBA)

			for y := 0; y < img.Height; y++ {
				for x := 0; x < img.Width; x++ {
					expected := color.RGBAModel.Convert(refImg.At(x, y)).(color.RGBA)
					g := got.NRGBAAt(x, y)

					if !isClose(g.R, expected.R, tt.tol) ||
						!isClose(g.G, expected.G, tt.tol) ||
						!isClose(g.B, expected.B, tt.tol) ||
						g.A != 255 {
						t.Fatalf("Pixel at (%d, %d) - got %v, want close to %v", x, y, g, expected)
					}
				}
			}
		})
	}
}

// TestDecodeCatmullRom checks the smooth upsampler against the stdlib reference.
func TestDecodeCatmullRom(t *testing.T) {
	// Catmull-Rom differs from the nearest-neighbor reference by design of the filter.
	const rgbaTolerance = 10

	data := encodeStd(t, gradient(96, 64))

	refImg, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	img, err := DecodeBytes(data, &Options{Components: RGB, UpsampleMethod: CatmullRom})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	pointsToCheck := []image.Point{
		{X: 0, Y: 0},
		{X: 95, Y: 63},
		{X: 48, Y: 32},
		{X: 17, Y: 50},
	}

	for _, p := range pointsToCheck {
		expected := color.RGBAModel.Convert(refImg.At(p.X, p.Y)).(color.RGBA)
		i := (p.Y*img.Width + p.X) * 3
		r, g, b := img.Data[i], img.Data[i+1], img.Data[i+2]

		if !isClose(r, expected.R, rgbaTolerance) ||
			!isClose(g, expected.G, rgbaTolerance) ||
			!isClose(b, expected.B, rgbaTolerance) {
			t.Errorf("Pixel at %v - got (%d, %d, %d), want close to %v", p, r, g, b, expected)
		}
	}
}

// TestDecodeSynthesized decodes flat-block JPEGs and checks every sample exactly.
func TestDecodeSynthesized(t *testing.T) {
	rgbIDs := func(h, v int) []testComp {
		return []testComp{
			{id: 'R', h: h, v: v, level: ramp(10)},
			{id: 'G', h: 1, v: 1, level: checker(40, 200)},
			{id: 'B', h: 1, v: 1, level: ramp(100)},
		}
	}

	tests := []struct {
		name string
		j    testJPEG
	}{
		{"gray", testJPEG{width: 20, height: 13, comps: []testComp{{id: 1, h: 1, v: 1, level: ramp(30)}}, adobe: -1}},
		{"gray restart", testJPEG{width: 33, height: 17, restart: 2, comps: []testComp{{id: 1, h: 1, v: 1, level: checker(16, 240)}}, adobe: -1}},
		{"4:4:4", testJPEG{width: 19, height: 9, comps: rgbIDs(1, 1), adobe: -1}},
		{"4:2:2", testJPEG{width: 35, height: 9, comps: rgbIDs(2, 1), adobe: -1}},
		{"4:4:0", testJPEG{width: 9, height: 35, comps: rgbIDs(1, 2), adobe: -1}},
		{"4:2:0", testJPEG{width: 37, height: 21, comps: rgbIDs(2, 2), adobe: -1}},
		{"4:1:1 restart", testJPEG{width: 70, height: 10, restart: 1, comps: rgbIDs(4, 1), adobe: -1}},
		{"adobe rgb", testJPEG{width: 16, height: 16, adobe: 0, comps: []testComp{
			{id: 1, h: 1, v: 1, level: ramp(0)},
			{id: 2, h: 1, v: 1, level: ramp(50)},
			{id: 3, h: 1, v: 1, level: ramp(100)},
		}}},
		{"progressive gray", testJPEG{width: 21, height: 11, progressive: true, comps: []testComp{{id: 1, h: 1, v: 1, level: ramp(3)}}, adobe: -1}},
		{"progressive 4:2:0", testJPEG{width: 30, height: 30, progressive: true, comps: rgbIDs(2, 2), adobe: -1}},
		{"progressive restart", testJPEG{width: 40, height: 24, progressive: true, restart: 3, comps: rgbIDs(2, 1), adobe: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.j.encode()

			img, err := DecodeBytes(data)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if img.Width != tt.j.width || img.Height != tt.j.height {
				t.Fatalf("Expected %dx%d image, got %dx%d", tt.j.width, tt.j.height, img.Width, img.Height)
			}

			planes := tt.j.expectPlanes()
			n := len(planes)

			for i := 0; i < img.Width*img.Height; i++ {
				for c := 0; c < n; c++ {
					if got, want := img.Data[i*n+c], planes[c][i]; got != want {
						t.Fatalf("Pixel (%d, %d) channel %d = %d, want %d",
							i%img.Width, i/img.Width, c, got, want)
					}
				}
			}
		})
	}
}

// TestDecodeYCbCrSynthesized checks the YCbCr path against the package color transform.
func TestDecodeYCbCrSynthesized(t *testing.T) {
	j := testJPEG{width: 24, height: 16, jfif: true, adobe: -1, comps: []testComp{
		{id: 1, h: 2, v: 2, level: ramp(60)},
		{id: 2, h: 1, v: 1, level: checker(90, 170)},
		{id: 3, h: 1, v: 1, level: checker(200, 60)},
	}}

	img, err := DecodeBytes(j.encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	planes := j.expectPlanes()

	for i := 0; i < img.Width*img.Height; i++ {
		r, g, b := ycc(planes[0][i], planes[1][i], planes[2][i])
		if img.Data[i*3] != r || img.Data[i*3+1] != g || img.Data[i*3+2] != b {
			t.Fatalf("Pixel %d = %v, want (%d, %d, %d)", i, img.Data[i*3:i*3+3], r, g, b)
		}
	}
}

// TestDecodeCMYK verifies Adobe CMYK and YCCK frames, which are stored inverted.
func TestDecodeCMYK(t *testing.T) {
	comps := []testComp{
		{id: 1, h: 1, v: 1, level: ramp(20)},
		{id: 2, h: 1, v: 1, level: checker(0, 255)},
		{id: 3, h: 1, v: 1, level: ramp(120)},
		{id: 4, h: 1, v: 1, level: checker(255, 128)},
	}

	t.Run("cmyk", func(t *testing.T) {
		j := testJPEG{width: 16, height: 16, adobe: 0, comps: comps}

		img, err := DecodeBytes(j.encode())
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}

		if img.SourceComponents != 3 {
			t.Errorf("SourceComponents = %d, want 3", img.SourceComponents)
		}

		planes := j.expectPlanes()
		for i := 0; i < 256; i++ {
			k := planes[3][i]
			want := []byte{blinn(planes[0][i], k), blinn(planes[1][i], k), blinn(planes[2][i], k)}

			if !bytes.Equal(img.Data[i*3:i*3+3], want) {
				t.Fatalf("Pixel %d = %v, want %v", i, img.Data[i*3:i*3+3], want)
			}
		}
	})

	t.Run("ycck", func(t *testing.T) {
		j := testJPEG{width: 16, height: 16, adobe: 2, comps: comps}

		img, err := DecodeBytes(j.encode())
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}

		planes := j.expectPlanes()
		for i := 0; i < 256; i++ {
			r, g, b := ycc(planes[0][i], planes[1][i], planes[2][i])
			k := planes[3][i]
			want := []byte{blinn(255-r, k), blinn(255-g, k), blinn(255-b, k)}

			if !bytes.Equal(img.Data[i*3:i*3+3], want) {
				t.Fatalf("Pixel %d = %v, want %v", i, img.Data[i*3:i*3+3], want)
			}
		}
	})
}

// TestDecodeAutoRotate verifies that the decoder rotates the image based on the EXIF orientation tag.
func TestDecodeAutoRotate(t *testing.T) {
	// A 24x16 image with orientation 6 (rotate 90 CW).
	j := testJPEG{
		width:  24,
		height: 16,
		adobe:  -1,
		exif:   makeTIFF(binary.BigEndian, tagOrientation, typeUnsignedShort, 1, 6),
		comps:  []testComp{{id: 1, h: 1, v: 1, level: ramp(40)}},
	}
	data := j.encode()

	ref, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("Decode reference failed: %v", err)
	}

	if ref.Width != 24 || ref.Height != 16 {
		t.Fatalf("Reference image dimensions incorrect: got %dx%d, want 24x16", ref.Width, ref.Height)
	}

	rot, err := DecodeBytes(data, &Options{AutoRotate: true})
	if err != nil {
		t.Fatalf("Decode with AutoRotate failed: %v", err)
	}

	if rot.Width != ref.Height || rot.Height != ref.Width {
		t.Fatalf("Dimensions not swapped correctly. Ref: %dx%d, Rotated: %dx%d", ref.Width, ref.Height, rot.Width, rot.Height)
	}

	// Original(sx, sy) -> Rotated(H-1-sy, sx).
	for sy := 0; sy < ref.Height; sy++ {
		for sx := 0; sx < ref.Width; sx++ {
			dx, dy := ref.Height-1-sy, sx
			if got, want := rot.Data[dy*rot.Width+dx], ref.Data[sy*ref.Width+sx]; got != want {
				t.Fatalf("Pixel mismatch at Rotated(%d, %d): got %d, want %d", dx, dy, got, want)
			}
		}
	}

	// Config reports the stored dimensions.
	cfg, err := DecodeConfigBytes(data)
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}

	if cfg.Width != 24 || cfg.Height != 16 {
		t.Errorf("DecodeConfig = %dx%d, want 24x16", cfg.Width, cfg.Height)
	}
}

// scanData returns the offset of the first entropy-coded byte.
func scanData(t *testing.T, data []byte) int {
	t.Helper()

	i := bytes.Index(data, []byte{0xff, 0xda})
	if i < 0 {
		t.Fatal("no SOS marker")
	}

	return i + 2 + (int(data[i+2])<<8 | int(data[i+3]))
}

func TestDecodeJPEGErrors(t *testing.T) {
	flat := func() []byte {
		j := testJPEG{width: 8, height: 8, adobe: -1, comps: []testComp{{id: 1, h: 1, v: 1, level: checker(128, 128)}}}

		return j.encode()
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, data []byte) []byte
		kind   error
	}{
		{
			name: "undefined huffman code",
			mutate: func(t *testing.T, data []byte) []byte {
				// DC category 0, then an AC code starting with 1 bits.
				data[scanData(t, data)] = 0x0f

				return data
			},
			kind: ErrCorruptData,
		},
		{
			name: "missing EOI",
			mutate: func(_ *testing.T, data []byte) []byte {
				return data[:len(data)-2]
			},
			kind: ErrEndOfInput,
		},
		{
			name: "lossless frame",
			mutate: func(_ *testing.T, data []byte) []byte {
				data[bytes.Index(data, []byte{0xff, 0xc0})+1] = 0xc3

				return data
			},
			kind: ErrUnsupported,
		},
		{
			name: "arithmetic coding",
			mutate: func(_ *testing.T, data []byte) []byte {
				data[bytes.Index(data, []byte{0xff, 0xc0})+1] = 0xc9

				return data
			},
			kind: ErrUnsupported,
		},
		{
			name: "12-bit precision",
			mutate: func(_ *testing.T, data []byte) []byte {
				data[bytes.Index(data, []byte{0xff, 0xc0})+4] = 12

				return data
			},
			kind: ErrUnsupported,
		},
		{
			name: "zero width",
			mutate: func(_ *testing.T, data []byte) []byte {
				i := bytes.Index(data, []byte{0xff, 0xc0})
				data[i+7], data[i+8] = 0, 0

				return data
			},
			kind: ErrInvalidHeader,
		},
		{
			name: "scan before frame",
			mutate: func(_ *testing.T, _ []byte) []byte {
				return []byte{0xff, 0xd8, 0xff, 0xda, 0x00, 0x08, 0x01, 0x01, 0x00, 0x00, 0x3f, 0x00, 0xff, 0xd9}
			},
			kind: ErrCorruptData,
		},
		{
			name: "no scan",
			mutate: func(_ *testing.T, data []byte) []byte {
				i := bytes.Index(data, []byte{0xff, 0xda})

				return append(data[:i:i], 0xff, 0xd9)
			},
			kind: ErrCorruptData,
		},
		{
			name: "truncated header",
			mutate: func(_ *testing.T, data []byte) []byte {
				return data[:bytes.Index(data, []byte{0xff, 0xc0})+5]
			},
			kind: ErrEndOfInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(t, flat())

			_, err := DecodeBytes(data)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("Decode error = %v, want %v", err, tt.kind)
			}

			var fe *FormatError
			if !errors.As(err, &fe) || fe.Format != FormatJPEG {
				t.Errorf("Decode error %v does not carry the JPEG format", err)
			}
		})
	}
}

func TestDecodeRestartMismatch(t *testing.T) {
	j := testJPEG{width: 32, height: 8, restart: 1, adobe: -1, comps: []testComp{{id: 1, h: 1, v: 1, level: ramp(0)}}}
	data := j.encode()

	i := bytes.Index(data[scanData(t, data):], []byte{0xff, 0xd0})
	if i < 0 {
		t.Fatal("no RST0 marker")
	}

	data[scanData(t, data)+i+1] = 0xd5

	if _, err := DecodeBytes(data); !errors.Is(err, ErrCorruptData) {
		t.Fatalf("Decode error = %v, want %v", err, ErrCorruptData)
	}
}

func TestDecodeStreamMatchesBytes(t *testing.T) {
	data := encodeStd(t, gradient(50, 40))

	a, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes failed: %v", err)
	}

	// Hide the length so the chunked path is used.
	b, err := Decode(struct{ io.Reader }{bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if !bytes.Equal(a.Data, b.Data) {
		t.Error("stream and in-memory decodes differ")
	}
}

// BenchmarkDecodeBaseline420 measures the performance of decoder.
func BenchmarkDecodeBaseline420(b *testing.B) {
	data := encodeStd(b, gradient(512, 512))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := Decode(bytes.NewReader(data))
		if err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}

// BenchmarkDecodeBaseline420StdLib measures the performance of the standard library's image/jpeg decoder.
func BenchmarkDecodeBaseline420StdLib(b *testing.B) {
	data := encodeStd(b, gradient(512, 512))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			b.Fatalf("jpeg.Decode failed: %v", err)
		}
	}
}

// BenchmarkDecodeConfig measures the performance of DecodeConfig.
func BenchmarkDecodeConfig(b *testing.B) {
	data := encodeStd(b, gradient(512, 512))

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := DecodeConfig(bytes.NewReader(data))
		if err != nil {
			b.Fatalf("DecodeConfig failed: %v", err)
		}
	}
}

// BenchmarkDecodeToRGBACatmullRom measures the performance of decoding to RGBA with CatmullRom upsampling.
func BenchmarkDecodeToRGBACatmullRom(b *testing.B) {
	data := encodeStd(b, gradient(512, 512))
	opts := &Options{Components: RGBA, UpsampleMethod: CatmullRom}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := DecodeBytes(data, opts)
		if err != nil {
			b.Fatalf("Decode failed: %v", err)
		}
	}
}
