package rawimage

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"testing"
)

func TestConvertChannels(t *testing.T) {
	// Two pixels per layout: (200, 100, 50, 128) and (0, 255, 10, 255).
	pixels := map[int][]byte{
		1: {luma(200, 100, 50), luma(0, 255, 10)},
		2: {luma(200, 100, 50), 128, luma(0, 255, 10), 255},
		3: {200, 100, 50, 0, 255, 10},
		4: {200, 100, 50, 128, 0, 255, 10, 255},
	}

	g0, g1 := luma(200, 100, 50), luma(0, 255, 10)

	tests := []struct {
		from, to int
		want     []byte
	}{
		{1, 2, []byte{g0, 255, g1, 255}},
		{1, 3, []byte{g0, g0, g0, g1, g1, g1}},
		{1, 4, []byte{g0, g0, g0, 255, g1, g1, g1, 255}},
		{2, 1, []byte{g0, g1}},
		{2, 3, []byte{g0, g0, g0, g1, g1, g1}},
		{2, 4, []byte{g0, g0, g0, 128, g1, g1, g1, 255}},
		{3, 1, []byte{g0, g1}},
		{3, 2, []byte{g0, 255, g1, 255}},
		{3, 4, []byte{200, 100, 50, 255, 0, 255, 10, 255}},
		{4, 1, []byte{g0, g1}},
		{4, 2, []byte{g0, 128, g1, 255}},
		{4, 3, []byte{200, 100, 50, 0, 255, 10}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d to %d", tt.from, tt.to), func(t *testing.T) {
			var a arena
			defer a.release()

			isEqual(t, convertChannels(&a, pixels[tt.from], 2, tt.from, tt.to), tt.want, "converted")
		})
	}

	t.Run("same layout", func(t *testing.T) {
		var a arena

		src := pixels[3]
		if got := convertChannels(&a, src, 2, 3, 3); &got[0] != &src[0] {
			t.Error("matching layouts were copied")
		}
	})
}

func TestLuma(t *testing.T) {
	tests := []struct {
		r, g, b, want byte
	}{
		{0, 0, 0, 0},
		{255, 255, 255, 255},
		{255, 0, 0, 76},
		{0, 255, 0, 149},
		{0, 0, 255, 28},
		{10, 20, 30, 18},
	}

	for _, tt := range tests {
		if got := luma(tt.r, tt.g, tt.b); got != tt.want {
			t.Errorf("luma(%d, %d, %d) = %d, want %d", tt.r, tt.g, tt.b, got, tt.want)
		}
	}
}

func TestFlipRows(t *testing.T) {
	// Rows wider than the swap buffer take several copies.
	for _, w := range []int{1, 3, 3000} {
		for _, h := range []int{1, 2, 5} {
			pix := make([]byte, w*h)
			for i := range pix {
				pix[i] = byte(i / w)
			}

			flipRows(pix, w, h)

			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					if got := pix[y*w+x]; got != byte(h-1-y) {
						t.Fatalf("%dx%d: pixel (%d, %d) = %d, want %d", w, h, x, y, got, h-1-y)
					}
				}
			}
		}
	}
}

// orientTransform maps a destination pixel of orientation o back to its source pixel.
func orientTransform(o, w, h int) func(dx, dy int) (int, int) {
	switch o {
	case 2:
		return func(dx, dy int) (int, int) { return w - 1 - dx, dy }
	case 3:
		return func(dx, dy int) (int, int) { return w - 1 - dx, h - 1 - dy }
	case 4:
		return func(dx, dy int) (int, int) { return dx, h - 1 - dy }
	case 5:
		return func(dx, dy int) (int, int) { return dy, dx }
	case 6:
		return func(dx, dy int) (int, int) { return dy, h - 1 - dx }
	case 7:
		return func(dx, dy int) (int, int) { return w - 1 - dy, h - 1 - dx }
	case 8:
		return func(dx, dy int) (int, int) { return w - 1 - dy, dx }
	}

	return func(dx, dy int) (int, int) { return dx, dy }
}

func TestOrient(t *testing.T) {
	const w, h, comp = 5, 3, 2

	src := make([]byte, w*h*comp)
	for i := range src {
		src[i] = byte(i)
	}

	for o := 1; o <= 8; o++ {
		t.Run(fmt.Sprintf("orientation %d", o), func(t *testing.T) {
			var a arena

			dst, dw, dh := orient(&a, src, w, h, comp, o)

			wantW, wantH := w, h
			if o >= 5 {
				wantW, wantH = h, w
			}

			if dw != wantW || dh != wantH {
				t.Fatalf("size = %dx%d, want %dx%d", dw, dh, wantW, wantH)
			}

			back := orientTransform(o, w, h)

			for dy := 0; dy < dh; dy++ {
				for dx := 0; dx < dw; dx++ {
					sx, sy := back(dx, dy)

					for c := 0; c < comp; c++ {
						got, want := dst[(dy*dw+dx)*comp+c], src[(sy*w+sx)*comp+c]
						if got != want {
							t.Fatalf("dst (%d, %d) = %d, want src (%d, %d) = %d", dx, dy, got, sx, sy, want)
						}
					}
				}
			}
		})
	}
}

func TestDecodeComponents(t *testing.T) {
	data := encodePNGStd(t, gradient(7, 5))

	for _, c := range []Components{Default, Grey, GreyAlpha, RGB, RGBA} {
		t.Run(c.String(), func(t *testing.T) {
			img, err := DecodeBytes(data, &Options{Components: c})
			if err != nil {
				t.Fatalf("DecodeBytes failed: %v", err)
			}

			want := int(c)
			if c == Default {
				want = img.SourceComponents
			}

			if img.Components != want || len(img.Data) != 7*5*want {
				t.Errorf("got %d components and %d bytes, want %d", img.Components, len(img.Data), want)
			}
		})
	}

	if _, err := DecodeBytes(data, &Options{Components: 5}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("5 components error = %v", err)
	}
}

func TestToImage(t *testing.T) {
	src := []byte{10, 20, 30, 40, 50, 60, 70, 80}

	tests := []struct {
		comp int
		want color.NRGBA
	}{
		{1, color.NRGBA{10, 10, 10, 255}},
		{2, color.NRGBA{10, 10, 10, 20}},
		{3, color.NRGBA{10, 20, 30, 255}},
		{4, color.NRGBA{10, 20, 30, 40}},
	}

	for _, tt := range tests {
		m := &Image{Width: 2, Height: 1, Components: tt.comp, Data: src[:2*tt.comp]}
		img := m.ToImage()

		if img.Bounds() != image.Rect(0, 0, 2, 1) {
			t.Errorf("%d components: bounds = %v", tt.comp, img.Bounds())
		}

		if got := nrgbaAt(img, 0, 0); got != tt.want {
			t.Errorf("%d components: pixel = %v, want %v", tt.comp, got, tt.want)
		}
	}
}
