// Package media defines the audio format model and the media clock for the
// AES67 virtual sound card.
//
// Every stream is parameterized by an AudioFormat: a sample rate plus a
// FrameFormat (channel count and wire sample format). All buffer sizing,
// packet sizing and clock arithmetic in the engine is derived from these
// values, so they live in one place.
//
// Media time is the join key between the network and the local audio
// service: an unsigned count of frames since the PTP epoch, obtained by
// projecting the synchronized wall clock onto the stream's sample rate.
package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SampleFormat identifies the wire encoding of a single audio sample.
// AES67 media payloads are big-endian linear PCM.
type SampleFormat int

const (
	// L16 is 16-bit big-endian linear PCM.
	L16 SampleFormat = iota
	// L24 is 24-bit big-endian linear PCM.
	L24
)

// SupportedSampleRates lists the sample rates the engine can service.
var SupportedSampleRates = []int{44100, 48000, 96000}

// MaxChannels is the highest channel count a stream descriptor may request.
const MaxChannels = 64

// SupportedPacketTimes lists the AES67 packet times (in milliseconds) the
// engine can service.
var SupportedPacketTimes = []float64{0.125, 0.25, 1.0, 2.0, 4.0}

// ParseSampleFormat parses an SDP rtpmap encoding name into a SampleFormat.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "L16":
		return L16, nil
	case "L24":
		return L24, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSampleFormat, s)
	}
}

// String returns the SDP encoding name of the sample format.
func (f SampleFormat) String() string {
	switch f {
	case L16:
		return "L16"
	case L24:
		return "L24"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
}

// BytesPerSample returns the wire size of one sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case L16:
		return 2
	case L24:
		return 3
	default:
		return 0
	}
}

// BitDepth returns the number of significant bits per sample.
func (f SampleFormat) BitDepth() int {
	return f.BytesPerSample() * 8
}

// ReadFloat decodes one big-endian PCM sample from buf into a float32 in
// [-1, 1]. buf must hold at least BytesPerSample bytes.
func (f SampleFormat) ReadFloat(buf []byte) float32 {
	switch f {
	case L16:
		v := int16(uint16(buf[0])<<8 | uint16(buf[1]))
		return float32(v) / float32(math.MaxInt16)
	case L24:
		v := int32(uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]))
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float32(v) / float32(0x7FFFFF)
	default:
		return 0
	}
}

// PutFloat encodes sample (clamped to [-1, 1]) as big-endian PCM into buf.
// buf must hold at least BytesPerSample bytes.
func (f SampleFormat) PutFloat(buf []byte, sample float32) {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	switch f {
	case L16:
		v := int16(sample * float32(math.MaxInt16))
		buf[0] = byte(uint16(v) >> 8)
		buf[1] = byte(uint16(v))
	case L24:
		v := int32(sample * float32(0x7FFFFF))
		buf[0] = byte(uint32(v) >> 16)
		buf[1] = byte(uint32(v) >> 8)
		buf[2] = byte(uint32(v))
	}
}

// FrameFormat describes the shape of one interleaved audio frame.
type FrameFormat struct {
	Channels     int
	SampleFormat SampleFormat
}

// BytesPerFrame returns the wire size of one interleaved frame.
func (f FrameFormat) BytesPerFrame() int {
	return f.Channels * f.SampleFormat.BytesPerSample()
}

// AudioFormat fully describes a stream's audio parameters.
type AudioFormat struct {
	SampleRate  int
	FrameFormat FrameFormat
}

// String renders the format in SDP rtpmap notation, e.g. "L24/48000/2".
func (a AudioFormat) String() string {
	return fmt.Sprintf("%s/%d/%d", a.FrameFormat.SampleFormat, a.SampleRate, a.FrameFormat.Channels)
}

// ParseAudioFormat parses rtpmap notation such as "L24/48000/2". The
// channel count defaults to 1 when omitted. It is the inverse of
// [AudioFormat.String].
func ParseAudioFormat(s string) (AudioFormat, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) < 2 || len(parts) > 3 {
		return AudioFormat{}, fmt.Errorf("invalid audio format %q", s)
	}

	sampleFormat, err := ParseSampleFormat(parts[0])
	if err != nil {
		return AudioFormat{}, err
	}

	sampleRate, err := strconv.Atoi(parts[1])
	if err != nil {
		return AudioFormat{}, fmt.Errorf("invalid sample rate in %q: %w", s, err)
	}

	channels := 1
	if len(parts) == 3 {
		channels, err = strconv.Atoi(parts[2])
		if err != nil {
			return AudioFormat{}, fmt.Errorf("invalid channel count in %q: %w", s, err)
		}
	}

	return AudioFormat{
		SampleRate:  sampleRate,
		FrameFormat: FrameFormat{Channels: channels, SampleFormat: sampleFormat},
	}, nil
}

// SampleRateSupported reports whether rate is one of the supported rates.
func SampleRateSupported(rate int) bool {
	for _, r := range SupportedSampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// PacketTimeSupported reports whether pt (milliseconds) is one of the
// supported AES67 packet times.
func PacketTimeSupported(pt float64) bool {
	for _, p := range SupportedPacketTimes {
		if p == pt {
			return true
		}
	}
	return false
}

// FramesPerPacket returns the number of frames in one RTP packet at the
// given packet time in milliseconds.
func (a AudioFormat) FramesPerPacket(packetTime float64) int {
	return int(math.Ceil(float64(a.SampleRate) * packetTime / 1000.0))
}

// FramesPerDuration returns the number of frames spanning the given number
// of milliseconds, rounded up.
func (a AudioFormat) FramesPerDuration(ms float64) int {
	return int(math.Ceil(float64(a.SampleRate) * ms / 1000.0))
}

// SamplesPerPacket returns the number of individual samples (frames times
// channels) in one RTP packet at the given packet time.
func (a AudioFormat) SamplesPerPacket(packetTime float64) int {
	return a.FrameFormat.Channels * a.FramesPerPacket(packetTime)
}

// PayloadSize returns the RTP payload size in bytes for one packet at the
// given packet time.
func (a AudioFormat) PayloadSize(packetTime float64) int {
	return a.FramesPerPacket(packetTime) * a.FrameFormat.BytesPerFrame()
}

// FramesToDuration converts a frame count at this format's sample rate into
// a wall-clock duration.
func (a AudioFormat) FramesToDuration(frames uint64) time.Duration {
	return time.Duration(frames * uint64(time.Second) / uint64(a.SampleRate))
}
