package wire

import (
	"errors"
	"fmt"
)

// CodecError reports a malformed envelope: truncated input, an unknown
// tag or dtype, an array whose byte length disagrees with its declared
// shape, or invalid UTF-8 where a string is required.
type CodecError struct {
	Offset int
	Msg    string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("wire: %s (offset %d)", e.Msg, e.Offset)
}

// IsCodecError reports whether err is (or wraps) a CodecError.
func IsCodecError(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce)
}
