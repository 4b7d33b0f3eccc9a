package stream

import (
	"fmt"
	"net"

	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/sdp"
)

const (
	// DefaultBufferTime is the buffer capacity in milliseconds when the
	// descriptor does not specify one.
	DefaultBufferTime = 20.0

	// DefaultMuteWindow is the number of service cycles silence is
	// substituted for after an underrun before real data is surfaced again.
	DefaultMuteWindow = 200
)

// RxDescriptor parameterizes a receiver instance. Format and transport come
// from the session description; timing parameters come from the caller's
// own configuration.
type RxDescriptor struct {
	// ID is the caller-chosen identifier of the receiver.
	ID string

	// Session carries transport address, payload type and audio format.
	Session *sdp.Session

	// LinkOffset is the buffering depth in milliseconds a receiver waits
	// before beginning playout, absorbing network jitter.
	LinkOffset float64

	// BufferTime is the total buffer capacity in milliseconds. Zero selects
	// DefaultBufferTime.
	BufferTime float64

	// InterfaceIP selects the local interface used to join the multicast
	// group. Nil lets the kernel choose.
	InterfaceIP net.IP

	// MuteWindow is the underrun recovery window in service cycles. Zero
	// selects DefaultMuteWindow.
	MuteWindow int
}

// Format returns the negotiated audio format.
func (d RxDescriptor) Format() media.AudioFormat {
	return d.Session.Format
}

// Validate checks the descriptor for internal consistency. Format and
// channel count are immutable once the instance is running, so everything
// is checked up front and a failed create leaves no instance behind.
func (d RxDescriptor) Validate() error {
	if d.Session == nil {
		return ErrNoSession
	}
	if err := validateFormat(d.Session.Format); err != nil {
		return err
	}
	if !media.PacketTimeSupported(d.Session.PacketTime) {
		return fmt.Errorf("%w: %v ms", ErrUnsupportedPacketTime, d.Session.PacketTime)
	}
	return validateTiming(d.LinkOffset, d.bufferTime())
}

func (d RxDescriptor) bufferTime() float64 {
	if d.BufferTime <= 0 {
		return DefaultBufferTime
	}
	return d.BufferTime
}

func (d RxDescriptor) muteWindow() int {
	if d.MuteWindow <= 0 {
		return DefaultMuteWindow
	}
	return d.MuteWindow
}

// TxDescriptor parameterizes a sender instance. Senders are configured
// explicitly rather than from a session description.
type TxDescriptor struct {
	// ID is the caller-chosen identifier of the sender.
	ID string

	// Format is the audio format of the outgoing stream.
	Format media.AudioFormat

	// PacketTime is the packet time in milliseconds.
	PacketTime float64

	// PayloadType is the dynamic RTP payload type to stamp on outgoing
	// packets.
	PayloadType uint8

	// Destination is the target address, usually a multicast group.
	Destination *net.UDPAddr

	// BufferTime is the total buffer capacity in milliseconds. Zero selects
	// DefaultBufferTime.
	BufferTime float64

	// InterfaceIP selects the local interface packets egress on. Nil lets
	// the kernel choose.
	InterfaceIP net.IP

	// TTL is the multicast TTL. Zero selects 15, which keeps AES67 media
	// confined to the local network hierarchy.
	TTL int
}

// Validate checks the descriptor for internal consistency.
func (d TxDescriptor) Validate() error {
	if err := validateFormat(d.Format); err != nil {
		return err
	}
	if !media.PacketTimeSupported(d.PacketTime) {
		return fmt.Errorf("%w: %v ms", ErrUnsupportedPacketTime, d.PacketTime)
	}
	if d.Destination == nil || d.Destination.IP == nil {
		return ErrNoDestination
	}
	return nil
}

func (d TxDescriptor) bufferTime() float64 {
	if d.BufferTime <= 0 {
		return DefaultBufferTime
	}
	return d.BufferTime
}

func (d TxDescriptor) ttl() int {
	if d.TTL <= 0 {
		return 15
	}
	return d.TTL
}

func validateFormat(f media.AudioFormat) error {
	if !media.SampleRateSupported(f.SampleRate) {
		return fmt.Errorf("%w: %d", ErrUnsupportedSampleRate, f.SampleRate)
	}
	if f.FrameFormat.SampleFormat.BytesPerSample() == 0 {
		return fmt.Errorf("%w: %v", ErrUnsupportedBitDepth, f.FrameFormat.SampleFormat)
	}
	if f.FrameFormat.Channels < 1 || f.FrameFormat.Channels > media.MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannelCount, f.FrameFormat.Channels)
	}
	return nil
}

func validateTiming(linkOffset, bufferTime float64) error {
	if linkOffset <= 0 {
		return fmt.Errorf("%w: %v ms", ErrInvalidLinkOffset, linkOffset)
	}
	if linkOffset > bufferTime {
		return fmt.Errorf("%w: link offset %v ms exceeds buffer time %v ms", ErrInvalidLinkOffset, linkOffset, bufferTime)
	}
	return nil
}
