package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when no codec handles the requested
	// kind or direction, or a file name matches no descriptor.
	ErrUnsupportedFormat = errors.New("codec: unsupported format")

	// ErrMalformedInput is returned when decode input is structurally invalid.
	// Decoding never returns partial content alongside it.
	ErrMalformedInput = errors.New("codec: malformed input")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fmt.Sprintf(format, args...))
}
