package rawimage

import (
	"errors"
	"io"
	"iter"
)

var errClosed = errors.New("rawimage: frame reader closed")

// Frame is one composited frame of an animation.
type Frame struct {
	*Image
	Delay int // Display time in milliseconds.
	Index int // Position in the animation, from 0.
}

// FrameReader decodes an animated GIF one frame at a time.
// Frames are produced in order and can't be rewound; open a new reader to start over.
// It is not safe for concurrent use.
type FrameReader struct {
	ctx    *decodeContext
	d      *gifDecoder
	err    error
	closed bool
}

// NewFrameReader reads the GIF header from r. Frames are decoded by Next.
func NewFrameReader(r io.Reader, opts ...*Options) (*FrameReader, error) {
	return newFrameReader(newStreamReader(r), opts)
}

// NewFrameReaderBytes is NewFrameReader for an in-memory GIF.
func NewFrameReaderBytes(data []byte, opts ...*Options) (*FrameReader, error) {
	return newFrameReader(newBytesReader(data), opts)
}

func newFrameReader(rd *reader, opts []*Options) (fr *FrameReader, err error) {
	opt, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	ctx := &decodeContext{r: rd, opts: opt}

	defer func() {
		if err != nil {
			ctx.a.release()
		}
	}()
	defer catch(&err, &ctx.format)

	if f := sniff(rd); f != FormatGIF {
		failf(ErrUnrecognizedFormat, "%s is not an animation format", f)
	}

	ctx.format = FormatGIF

	d := newGIFDecoder(ctx)
	d.canvas = ctx.a.bytes(d.width * d.height * 4)

	return &FrameReader{ctx: ctx, d: d}, nil
}

// Config returns the logical screen size. Frames always have this size.
func (fr *FrameReader) Config() Config {
	return Config{Width: fr.d.width, Height: fr.d.height, Components: 4, Format: FormatGIF}
}

// Next decodes the next frame. It returns io.EOF after the last one.
// A failed reader keeps returning the same error. The decoding state is
// released as soon as Next returns an error, including io.EOF.
func (fr *FrameReader) Next() (f *Frame, err error) {
	if fr.err != nil {
		return nil, fr.err
	}

	defer func() {
		if err != nil {
			fr.err = err
			fr.release()
		}
	}()
	defer catch(&err, &fr.ctx.format)

	d := fr.d
	if !d.nextFrame() {
		return nil, io.EOF
	}

	pix := fr.ctx.a.output(len(d.canvas))
	copy(pix, d.canvas)

	img := fr.ctx.finish(&rawImage{w: d.width, h: d.height, comp: 4, pix: pix})

	return &Frame{Image: img, Delay: d.lastDelay, Index: d.frames - 1}, nil
}

// All returns an iterator over the remaining frames.
// Iteration stops after the last frame or after yielding an error.
func (fr *FrameReader) All() iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		for {
			f, err := fr.Next()
			if err == io.EOF {
				return
			}

			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the decoding state. It is safe to call more than once.
func (fr *FrameReader) Close() error {
	if fr.closed {
		return nil
	}

	fr.closed = true
	fr.release()

	if fr.err == nil {
		fr.err = errClosed
	}

	return nil
}

func (fr *FrameReader) release() {
	fr.ctx.a.release()
	fr.d.canvas, fr.d.snapshot, fr.d.codes, fr.d.stack = nil, nil, nil, nil
}
