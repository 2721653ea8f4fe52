package rawimage

const (
	tagOrientation    = 0x0112
	typeUnsignedShort = 3
)

// exifReader wraps the TIFF payload of an APP1 segment.
// Reads outside the payload return 0.
type exifReader struct {
	data         []byte
	littleEndian bool
}

func (r *exifReader) uint16(offset int) uint16 {
	if offset < 0 || offset+1 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint16(r.data[offset]) | (uint16(r.data[offset+1]) << 8)
	}

	return (uint16(r.data[offset]) << 8) | uint16(r.data[offset+1])
}

func (r *exifReader) uint32(offset int) uint32 {
	if offset < 0 || offset+3 >= len(r.data) {
		return 0
	}

	if r.littleEndian {
		return uint32(r.data[offset]) | (uint32(r.data[offset+1]) << 8) |
			(uint32(r.data[offset+2]) << 16) | (uint32(r.data[offset+3]) << 24)
	}

	return (uint32(r.data[offset]) << 24) | (uint32(r.data[offset+1]) << 16) |
		(uint32(r.data[offset+2]) << 8) | uint32(r.data[offset+3])
}

// exifOrientation returns the orientation tag (1-8) of IFD0 in a TIFF structure, or 0.
// Malformed EXIF data is ignored rather than failing the decode.
func exifOrientation(data []byte) int {
	if len(data) < 8 {
		return 0
	}

	r := &exifReader{data: data}

	switch {
	case data[0] == 'I' && data[1] == 'I':
		r.littleEndian = true
	case data[0] == 'M' && data[1] == 'M':
	default:
		return 0
	}

	if r.uint16(2) != 42 {
		return 0
	}

	ifdOffset := int(r.uint32(4))
	if ifdOffset < 8 || ifdOffset+2 > len(data) {
		return 0
	}

	// Entries are 12 bytes; clip the count to what the payload holds.
	numEntries := int(r.uint16(ifdOffset))
	if maxEntries := (len(data) - ifdOffset - 2) / 12; numEntries > maxEntries {
		numEntries = maxEntries
	}

	entryOffset := ifdOffset + 2
	for i := 0; i < numEntries; i++ {
		if r.uint16(entryOffset) == tagOrientation {
			if r.uint16(entryOffset+2) != typeUnsignedShort || r.uint32(entryOffset+4) != 1 {
				return 0
			}

			// The value sits in the first 2 bytes of the offset field.
			if o := int(r.uint16(entryOffset + 8)); o >= 1 && o <= 8 {
				return o
			}

			return 0
		}

		entryOffset += 12
	}

	return 0
}
