package rawimage

import "bytes"

// sniffLen is the longest signature window any format needs (PIC has "PICT" at offset 88).
const sniffLen = 92

var (
	pngSignature = []byte("\x89PNG\r\n\x1a\n")
	picMagic     = []byte{0x53, 0x80, 0xf6, 0x34}
)

// sniff detects the format at the reader position without consuming input.
func sniff(r *reader) Format {
	f := Sniff(r.peek(sniffLen))
	if f == FormatUnknown {
		fail(ErrUnrecognizedFormat, "unknown signature")
	}

	return f
}

// Sniff returns the format of an image from its first bytes, or FormatUnknown.
// Passing at least 92 bytes is enough for every format.
func Sniff(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, pngSignature):
		return FormatPNG
	case len(header) >= 2 && header[0] == 0xff && header[1] == 0xd8:
		return FormatJPEG
	case bytes.HasPrefix(header, []byte("GIF87a")), bytes.HasPrefix(header, []byte("GIF89a")):
		return FormatGIF
	case isBMP(header):
		return FormatBMP
	case bytes.HasPrefix(header, []byte("8BPS")):
		return FormatPSD
	case bytes.HasPrefix(header, []byte("#?RADIANCE\n")), bytes.HasPrefix(header, []byte("#?RGBE\n")):
		return FormatHDR
	case len(header) >= sniffLen && bytes.HasPrefix(header, picMagic) && string(header[88:92]) == "PICT":
		return FormatPIC
	case isTGA(header):
		return FormatTGA
	}

	return FormatUnknown
}

// isBMP checks the file magic and that the DIB header size is one of the published variants.
// It accepts sizes decodeBMP rejects, so those files fail as unsupported, not unrecognized.
func isBMP(h []byte) bool {
	if len(h) < 18 || h[0] != 'B' || h[1] != 'M' {
		return false
	}

	switch uint32(h[14]) | uint32(h[15])<<8 | uint32(h[16])<<16 | uint32(h[17])<<24 {
	case 12, 16, 40, 52, 56, 64, 108, 124:
		return true
	}

	return false
}

// isTGA probes the 18-byte TGA header, which has no magic number.
func isTGA(h []byte) bool {
	if len(h) < 18 {
		return false
	}

	cmapType, imageType := h[1], h[2]
	switch cmapType {
	case 0:
		switch imageType {
		case 2, 3, 10, 11:
		default:
			return false
		}
	case 1:
		if imageType != 1 && imageType != 9 {
			return false
		}

		switch h[7] {
		case 8, 15, 16, 24, 32:
		default:
			return false
		}
	default:
		return false
	}

	width := int(h[12]) | int(h[13])<<8
	height := int(h[14]) | int(h[15])<<8
	if width < 1 || height < 1 {
		return false
	}

	bpp := h[16]
	if cmapType == 1 && bpp != 8 && bpp != 16 {
		return false
	}

	switch bpp {
	case 8, 15, 16, 24, 32:
		return true
	}

	return false
}
