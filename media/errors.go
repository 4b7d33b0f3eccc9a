package media

import "errors"

// ErrUnknownSampleFormat indicates an encoding name that is not one of the
// supported linear PCM formats.
var ErrUnknownSampleFormat = errors.New("unknown sample format")
