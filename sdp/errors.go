package sdp

import "errors"

// Sentinel errors for session descriptor parsing.
// These errors enable reliable error classification using errors.Is().
var (
	// ErrMalformedDescriptor indicates the session description is missing a
	// required line or a line could not be parsed. Parsing is all-or-nothing,
	// so no partial session is ever returned alongside this error.
	ErrMalformedDescriptor = errors.New("malformed session descriptor")

	// ErrUnsupportedFormat indicates the format mapping names an encoding
	// that is not one of the supported linear PCM formats.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)
