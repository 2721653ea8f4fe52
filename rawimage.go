// Package rawimage decodes PNG, JPEG, GIF, BMP, TGA, PSD, Radiance HDR and Softimage PIC
// images into flat 8-bit pixel buffers.
package rawimage

import (
	"image"
	"image/color"
	"io"
)

// Components is the number of interleaved channels per pixel.
type Components int

const (
	// Default keeps the channel count of the source.
	Default Components = iota
	// Grey is one luminance channel.
	Grey
	// GreyAlpha is luminance followed by alpha.
	GreyAlpha
	// RGB is three color channels.
	RGB
	// RGBA is three color channels followed by alpha.
	RGBA
)

func (c Components) String() string {
	switch c {
	case Default:
		return "default"
	case Grey:
		return "grey"
	case GreyAlpha:
		return "grey+alpha"
	case RGB:
		return "rgb"
	case RGBA:
		return "rgba"
	}

	return "invalid"
}

// Format identifies a container format.
type Format int

const (
	// FormatUnknown is reported when no signature matched.
	FormatUnknown Format = iota
	// FormatPNG is PNG, including Apple's CgBI variant.
	FormatPNG
	// FormatJPEG is baseline or progressive JPEG.
	FormatJPEG
	// FormatGIF is GIF87a or GIF89a.
	FormatGIF
	// FormatBMP is a Windows or OS/2 bitmap.
	FormatBMP
	// FormatPSD is the composite image of a Photoshop file.
	FormatPSD
	// FormatHDR is Radiance RGBE.
	FormatHDR
	// FormatPIC is Softimage PIC.
	FormatPIC
	// FormatTGA is Truevision TGA.
	FormatTGA
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatPSD:
		return "psd"
	case FormatHDR:
		return "hdr"
	case FormatPIC:
		return "pic"
	case FormatTGA:
		return "tga"
	}

	return "unknown"
}

// UpsampleMethod defines the algorithm used for JPEG chroma upsampling.
type UpsampleMethod int

const (
	// NearestNeighbor is a fast but low-quality upsampling method.
	NearestNeighbor UpsampleMethod = iota
	// CatmullRom is a higher-quality bicubic upsampling method.
	// It applies to 2x steps on planes at least 3 samples wide and tall.
	CatmullRom
)

// Options specifies decoding parameters.
type Options struct {
	// Components is the channel count of the output. Default keeps the source layout.
	Components Components
	// FlipVertically returns rows bottom to top.
	FlipVertically bool
	// UpsampleMethod defines the algorithm used for JPEG chroma upsampling.
	UpsampleMethod UpsampleMethod
	// AutoRotate applies the JPEG EXIF orientation tag.
	// Orientations 5 to 8 swap the width and height of the result.
	AutoRotate bool
	// ConvertIPhone swaps Apple CgBI PNG data from BGR(A) to RGB(A).
	ConvertIPhone bool
	// Unpremultiply divides the alpha out of CgBI PNG data. It needs ConvertIPhone.
	Unpremultiply bool
	// HDRGamma is the gamma used to tone map Radiance HDR images. Zero means 2.2.
	HDRGamma float64
	// HDRScale multiplies HDR values before tone mapping. Zero means 1.
	HDRScale float64
	// MaxPixels bounds width*height of a decoded image. Zero means 1<<28.
	MaxPixels int
}

const (
	defaultHDRGamma  = 2.2
	defaultHDRScale  = 1.0
	defaultMaxPixels = 1 << 28
	maxDimension     = 1 << 24
)

// withDefaults resolves zero values. A nil receiver yields the defaults.
func (o *Options) withDefaults() Options {
	var opt Options
	if o != nil {
		opt = *o
	}

	if opt.HDRGamma <= 0 {
		opt.HDRGamma = defaultHDRGamma
	}

	if opt.HDRScale <= 0 {
		opt.HDRScale = defaultHDRScale
	}

	if opt.MaxPixels <= 0 {
		opt.MaxPixels = defaultMaxPixels
	}

	return opt
}

func resolveOptions(opts []*Options) (Options, error) {
	var o *Options
	if len(opts) > 0 {
		o = opts[0]
	}

	opt := o.withDefaults()
	if opt.Components < Default || opt.Components > RGBA {
		return opt, &FormatError{Kind: ErrUnsupported, Reason: "requested components " + opt.Components.String()}
	}

	return opt, nil
}

// Image is a decoded raster. Data is row-major, top row first, without padding.
type Image struct {
	Width, Height    int
	Components       int // Channels per pixel in Data.
	SourceComponents int // Channels the source natively carries.
	Format           Format
	Data             []byte
}

// ToImage wraps the pixels as an [image.Image].
// Grey and RGBA data are shared; the other layouts are copied into an *image.NRGBA.
func (m *Image) ToImage() image.Image {
	rect := image.Rect(0, 0, m.Width, m.Height)

	switch m.Components {
	case 1:
		return &image.Gray{Pix: m.Data, Stride: m.Width, Rect: rect}
	case 4:
		return &image.NRGBA{Pix: m.Data, Stride: m.Width * 4, Rect: rect}
	}

	img := image.NewNRGBA(rect)
	n := m.Width * m.Height

	switch m.Components {
	case 2:
		for i := 0; i < n; i++ {
			g, a := m.Data[i*2], m.Data[i*2+1]
			img.Pix[i*4+0] = g
			img.Pix[i*4+1] = g
			img.Pix[i*4+2] = g
			img.Pix[i*4+3] = a
		}
	case 3:
		for i := 0; i < n; i++ {
			img.Pix[i*4+0] = m.Data[i*3+0]
			img.Pix[i*4+1] = m.Data[i*3+1]
			img.Pix[i*4+2] = m.Data[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
	}

	return img
}

// Config holds the dimensions and native layout read from image headers.
type Config struct {
	Width, Height int
	Components    int
	Format        Format
}

// rawImage is what a format decoder hands to the normalizer.
type rawImage struct {
	w, h        int
	comp        int
	pix         []byte // nil when only headers were decoded
	orientation int    // EXIF orientation, 0 or 1 when none applies
}

// decodeContext is the state of one decode call.
type decodeContext struct {
	r      *reader
	a      arena
	opts   Options
	format Format
}

// checkSize fails when declared dimensions are out of bounds for an image of comp channels.
func (ctx *decodeContext) checkSize(w, h, comp int) {
	if w <= 0 || h <= 0 {
		failf(ErrInvalidHeader, "zero dimension %dx%d", w, h)
	}

	if w > maxDimension || h > maxDimension {
		failf(ErrInvalidHeader, "dimension %dx%d too large", w, h)
	}

	if int64(w)*int64(h)*int64(comp) > int64(ctx.opts.MaxPixels)*4 {
		failf(ErrInvalidHeader, "image %dx%dx%d exceeds pixel limit", w, h, comp)
	}
}

// decodeFormat runs the decoder for the sniffed format.
func (ctx *decodeContext) decodeFormat(configOnly bool) *rawImage {
	switch ctx.format {
	case FormatPNG:
		return decodePNG(ctx, configOnly)
	case FormatJPEG:
		return decodeJPEG(ctx, configOnly)
	case FormatGIF:
		return decodeGIF(ctx, configOnly)
	case FormatBMP:
		return decodeBMP(ctx, configOnly)
	case FormatPSD:
		return decodePSD(ctx, configOnly)
	case FormatHDR:
		return decodeHDR(ctx, configOnly)
	case FormatPIC:
		return decodePIC(ctx, configOnly)
	case FormatTGA:
		return decodeTGA(ctx, configOnly)
	}

	panic(errDecode{&FormatError{Kind: ErrUnrecognizedFormat, Reason: "unknown signature"}})
}

// finish normalizes channels and applies the orientation and flip transforms.
func (ctx *decodeContext) finish(raw *rawImage) *Image {
	want := int(ctx.opts.Components)
	if want == 0 {
		want = raw.comp
	}

	pix := convertChannels(&ctx.a, raw.pix, raw.w*raw.h, raw.comp, want)
	w, h := raw.w, raw.h

	if ctx.opts.AutoRotate && raw.orientation > 1 {
		pix, w, h = orient(&ctx.a, pix, w, h, want, raw.orientation)
	}

	if ctx.opts.FlipVertically {
		flipRows(pix, w*want, h)
	}

	return &Image{
		Width:            w,
		Height:           h,
		Components:       want,
		SourceComponents: raw.comp,
		Format:           ctx.format,
		Data:             pix,
	}
}

// Decode reads an image from r.
// It accepts an optional Options struct to control decoding parameters.
func Decode(r io.Reader, opts ...*Options) (*Image, error) {
	return decode(newStreamReader(r), opts)
}

// DecodeBytes decodes an image held in memory. The result does not reference data.
func DecodeBytes(data []byte, opts ...*Options) (*Image, error) {
	return decode(newBytesReader(data), opts)
}

func decode(rd *reader, opts []*Options) (img *Image, err error) {
	opt, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx := &decodeContext{r: rd, opts: opt}
	defer ctx.a.release()
	defer catch(&err, &ctx.format)

	ctx.format = sniff(rd)
	raw := ctx.decodeFormat(false)

	return ctx.finish(raw), nil
}

// DecodeConfig returns the dimensions and native channel count of an image without decoding pixel data.
// The dimensions are as stored in the file, ignoring any EXIF orientation.
func DecodeConfig(r io.Reader) (Config, error) {
	return decodeConfig(newStreamReader(r))
}

// DecodeConfigBytes is DecodeConfig for an in-memory image.
func DecodeConfigBytes(data []byte) (Config, error) {
	return decodeConfig(newBytesReader(data))
}

func decodeConfig(rd *reader) (cfg Config, err error) {
	ctx := &decodeContext{r: rd, opts: (*Options)(nil).withDefaults()}
	defer ctx.a.release()
	defer catch(&err, &ctx.format)

	ctx.format = sniff(rd)
	raw := ctx.decodeFormat(true)

	return Config{Width: raw.w, Height: raw.h, Components: raw.comp, Format: ctx.format}, nil
}

// init registers the formats the standard library has no decoder for.
// TGA has no signature and can't be registered.
func init() {
	decodeWrapper := func(r io.Reader) (image.Image, error) {
		m, err := Decode(r)
		if err != nil {
			return nil, err
		}

		return m.ToImage(), nil
	}

	configWrapper := func(r io.Reader) (image.Config, error) {
		c, err := DecodeConfig(r)
		if err != nil {
			return image.Config{}, err
		}

		cm := color.NRGBAModel
		if c.Components == 1 {
			cm = color.GrayModel
		}

		return image.Config{ColorModel: cm, Width: c.Width, Height: c.Height}, nil
	}

	image.RegisterFormat("psd", "8BPS", decodeWrapper, configWrapper)
	image.RegisterFormat("hdr", "#?RADIANCE", decodeWrapper, configWrapper)
	image.RegisterFormat("hdr", "#?RGBE", decodeWrapper, configWrapper)
	image.RegisterFormat("pic", "\x53\x80\xf6\x34", decodeWrapper, configWrapper)
}
