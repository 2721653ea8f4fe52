package rawimage

import (
	"errors"
	"fmt"
)

// Error kinds. Every decoding failure wraps exactly one of them, so callers can test with [errors.Is].
var (
	// ErrEndOfInput means the source ended before a required field.
	ErrEndOfInput = errors.New("unexpected end of input")
	// ErrInvalidHeader means declared dimensions, channels or signature are inconsistent or out of bounds.
	ErrInvalidHeader = errors.New("invalid header")
	// ErrUnrecognizedFormat means no decoder accepted the input.
	ErrUnrecognizedFormat = errors.New("unrecognized image format")
	// ErrUnsupported means a structurally valid file uses a feature that is not implemented.
	ErrUnsupported = errors.New("unsupported format variant")
	// ErrCorruptData means a checksum or structural invariant was violated mid-stream.
	ErrCorruptData = errors.New("corrupt data")
)

// FormatError describes a decoding failure.
type FormatError struct {
	Format Format // Format being decoded, FormatUnknown if sniffing failed.
	Kind   error  // One of the Err* kinds.
	Reason string // Human-readable detail.
}

func (e *FormatError) Error() string {
	if e.Format == FormatUnknown {
		return fmt.Sprintf("rawimage: %s: %v", e.Reason, e.Kind)
	}

	return fmt.Sprintf("rawimage: %s: %s: %v", e.Format, e.Reason, e.Kind)
}

// Unwrap returns the error kind.
func (e *FormatError) Unwrap() error {
	return e.Kind
}

// errDecode is used for internal panics during decoding.
type errDecode struct{ error }

// fail aborts the current decode with the given kind and reason.
func fail(kind error, reason string) {
	panic(errDecode{&FormatError{Kind: kind, Reason: reason}})
}

// failf is fail with formatting.
func failf(kind error, format string, args ...any) {
	panic(errDecode{&FormatError{Kind: kind, Reason: fmt.Sprintf(format, args...)}})
}

// catch recovers a decode panic into *err and stamps the format on it.
// Other panics (e.g. runtime errors) are propagated.
func catch(err *error, format *Format) {
	r := recover()
	if r == nil {
		return
	}

	de, ok := r.(errDecode)
	if !ok {
		panic(r)
	}

	var fe *FormatError
	if errors.As(de.error, &fe) && fe.Format == FormatUnknown {
		fe.Format = *format
	}

	*err = de.error
}
