// Command rawimage decodes an image and writes it as PNG or as a raw pixel dump.
//
// Usage:
//
//	rawimage [flags] input
//
// Raw dumps start with a 16-byte header: the magic "RIMG" followed by the width,
// height and channel count as little-endian uint32 values. With -zstd the whole
// dump is zstd compressed.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/rawimage"
	"github.com/klauspost/compress/zstd"
)

const rawMagic = "RIMG"

type config struct {
	input      string
	output     string
	format     string
	components int
	zstdLevel  int
	frames     bool
	flip       bool
	rotate     bool
	upsample   string
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("rawimage: ")

	var cfg config

	flag.IntVar(&cfg.components, "c", 0, "output channels: 0 keeps the source layout, 1 grey, 2 grey+alpha, 3 rgb, 4 rgba")
	flag.StringVar(&cfg.output, "o", "", "output file (default: input name with a new extension)")
	flag.StringVar(&cfg.format, "format", "png", "output format: png or raw")
	flag.IntVar(&cfg.zstdLevel, "zstd", 0, "zstd level 1-22 for raw output, 0 disables compression")
	flag.BoolVar(&cfg.frames, "frames", false, "write every frame of an animated GIF")
	flag.BoolVar(&cfg.flip, "flip", false, "flip the image vertically")
	flag.BoolVar(&cfg.rotate, "rotate", false, "apply the EXIF orientation")
	flag.StringVar(&cfg.upsample, "upsample", "nearest", "JPEG chroma upsampling: nearest or catmullrom")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: rawimage [flags] input\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg.input = flag.Arg(0)

	if err := run(cfg); err != nil {
		log.Fatalf("%s: %v", cfg.input, err)
	}
}

func (c config) options() (*rawimage.Options, error) {
	opts := &rawimage.Options{
		Components:     rawimage.Components(c.components),
		FlipVertically: c.flip,
		AutoRotate:     c.rotate,
		ConvertIPhone:  true,
		Unpremultiply:  true,
	}

	switch c.upsample {
	case "nearest":
		opts.UpsampleMethod = rawimage.NearestNeighbor
	case "catmullrom":
		opts.UpsampleMethod = rawimage.CatmullRom
	default:
		return nil, fmt.Errorf("unknown upsample method %q", c.upsample)
	}

	if c.format != "png" && c.format != "raw" {
		return nil, fmt.Errorf("unknown output format %q", c.format)
	}

	if c.zstdLevel < 0 || c.zstdLevel > 22 {
		return nil, fmt.Errorf("zstd level %d out of range", c.zstdLevel)
	}

	return opts, nil
}

// outputName derives the output path for frame index i, or for the single image when i < 0.
func (c config) outputName(i int) string {
	ext := ".png"
	if c.format == "raw" {
		ext = ".raw"
		if c.zstdLevel > 0 {
			ext += ".zst"
		}
	}

	name := c.output
	if name == "" {
		name = strings.TrimSuffix(c.input, filepath.Ext(c.input)) + ext
	}

	if i < 0 {
		return name
	}

	base := strings.TrimSuffix(name, ext)

	return fmt.Sprintf("%s-%03d%s", base, i, ext)
}

func run(c config) error {
	opts, err := c.options()
	if err != nil {
		return err
	}

	f, err := os.Open(c.input)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	if !c.frames {
		img, err := rawimage.Decode(r, opts)
		if err != nil {
			return err
		}

		return c.save(c.outputName(-1), img)
	}

	fr, err := rawimage.NewFrameReader(r, opts)
	if err != nil {
		return err
	}
	defer fr.Close()

	for frame, err := range fr.All() {
		if err != nil {
			return err
		}

		name := c.outputName(frame.Index)
		if err := c.save(name, frame.Image); err != nil {
			return err
		}

		log.Printf("%s: frame %d, %d ms", name, frame.Index, frame.Delay)
	}

	return nil
}

func (c config) save(name string, img *rawimage.Image) (err error) {
	out, err := os.Create(name)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(out)

	if c.format == "png" {
		err = png.Encode(w, img.ToImage())
	} else {
		err = writeRaw(w, img, c.zstdLevel)
	}

	if err != nil {
		return err
	}

	return w.Flush()
}

// writeRaw writes the header and pixels, zstd compressed when level > 0.
func writeRaw(w io.Writer, img *rawimage.Image, level int) error {
	if level <= 0 {
		return writeRawData(w, img)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return err
	}

	if err := writeRawData(enc, img); err != nil {
		enc.Close()

		return err
	}

	return enc.Close()
}

func writeRawData(w io.Writer, img *rawimage.Image) error {
	var hdr [16]byte
	copy(hdr[:], rawMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(img.Width))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(img.Height))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(img.Components))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	_, err := w.Write(img.Data)

	return err
}
