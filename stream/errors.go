package stream

import "errors"

// Sentinel errors for stream descriptor validation. All of these surface at
// creation time; a failed create leaves no instance behind.
var (
	// ErrNoSession indicates a receiver descriptor without a parsed session.
	ErrNoSession = errors.New("descriptor has no session")

	// ErrUnsupportedSampleRate indicates a sample rate the engine cannot
	// service.
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")

	// ErrUnsupportedBitDepth indicates a sample format the engine cannot
	// service.
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

	// ErrInvalidChannelCount indicates a channel count outside 1..64.
	ErrInvalidChannelCount = errors.New("invalid channel count")

	// ErrUnsupportedPacketTime indicates a packet time that is not one of
	// the AES67 packet times.
	ErrUnsupportedPacketTime = errors.New("unsupported packet time")

	// ErrInvalidLinkOffset indicates a non-positive link offset or one that
	// exceeds the buffer time.
	ErrInvalidLinkOffset = errors.New("invalid link offset")

	// ErrNoDestination indicates a sender descriptor without a destination
	// address.
	ErrNoDestination = errors.New("descriptor has no destination")
)
