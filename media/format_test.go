package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleFormat(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    SampleFormat
		expectError bool
	}{
		{name: "L16", input: "L16", expected: L16},
		{name: "L24", input: "L24", expected: L24},
		{name: "L20 is not supported", input: "L20", expectError: true},
		{name: "Opus is not PCM", input: "opus", expectError: true},
		{name: "Empty string", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := ParseSampleFormat(tt.input)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, format)
			}
		})
	}
}

func TestSampleFormatSizes(t *testing.T) {
	assert.Equal(t, 2, L16.BytesPerSample())
	assert.Equal(t, 3, L24.BytesPerSample())
	assert.Equal(t, 16, L16.BitDepth())
	assert.Equal(t, 24, L24.BitDepth())
}

func TestSampleRoundTripL16(t *testing.T) {
	buf := make([]byte, 2)
	for _, sample := range []float32{0, 0.5, -0.5, 1, -1} {
		L16.PutFloat(buf, sample)
		decoded := L16.ReadFloat(buf)
		assert.InDelta(t, sample, decoded, 1.0/32767.0)
	}
}

func TestSampleRoundTripL24(t *testing.T) {
	buf := make([]byte, 3)
	for _, sample := range []float32{0, 0.25, -0.25, 0.999, -0.999} {
		L24.PutFloat(buf, sample)
		decoded := L24.ReadFloat(buf)
		assert.InDelta(t, sample, decoded, 1.0/8388607.0)
	}
}

func TestPutFloatClamps(t *testing.T) {
	buf := make([]byte, 2)
	L16.PutFloat(buf, 2.0)
	assert.InDelta(t, 1.0, float64(L16.ReadFloat(buf)), 0.001)
	L16.PutFloat(buf, -2.0)
	assert.InDelta(t, -1.0, float64(L16.ReadFloat(buf)), 0.001)
}

func TestL24SignExtension(t *testing.T) {
	// 0xFFFFFF is -1 in 24-bit two's complement, the smallest negative step.
	v := L24.ReadFloat([]byte{0xFF, 0xFF, 0xFF})
	assert.Less(t, v, float32(0))
	assert.InDelta(t, 0, float64(v), 1.0/8388607.0*2)
}

func TestFramesPerPacket(t *testing.T) {
	tests := []struct {
		name       string
		format     AudioFormat
		packetTime float64
		expected   int
	}{
		{
			name:       "48k 1ms",
			format:     AudioFormat{SampleRate: 48000, FrameFormat: FrameFormat{Channels: 2, SampleFormat: L24}},
			packetTime: 1.0,
			expected:   48,
		},
		{
			name:       "48k 125us",
			format:     AudioFormat{SampleRate: 48000, FrameFormat: FrameFormat{Channels: 8, SampleFormat: L16}},
			packetTime: 0.125,
			expected:   6,
		},
		{
			name:       "96k 4ms",
			format:     AudioFormat{SampleRate: 96000, FrameFormat: FrameFormat{Channels: 1, SampleFormat: L24}},
			packetTime: 4.0,
			expected:   384,
		},
		{
			name:       "44.1k 1ms rounds up",
			format:     AudioFormat{SampleRate: 44100, FrameFormat: FrameFormat{Channels: 2, SampleFormat: L16}},
			packetTime: 1.0,
			expected:   45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.format.FramesPerPacket(tt.packetTime))
		})
	}
}

func TestFramesPerDuration(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, FrameFormat: FrameFormat{Channels: 2, SampleFormat: L24}}
	assert.Equal(t, 192, format.FramesPerDuration(4.0))
}

func TestPayloadSize(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, FrameFormat: FrameFormat{Channels: 2, SampleFormat: L24}}
	// 48 frames * 2 channels * 3 bytes
	assert.Equal(t, 288, format.PayloadSize(1.0))
}

func TestFormatString(t *testing.T) {
	format := AudioFormat{SampleRate: 48000, FrameFormat: FrameFormat{Channels: 2, SampleFormat: L24}}
	assert.Equal(t, "L24/48000/2", format.String())
}

func TestSupportedParameters(t *testing.T) {
	assert.True(t, SampleRateSupported(48000))
	assert.True(t, SampleRateSupported(96000))
	assert.False(t, SampleRateSupported(22050))
	assert.True(t, PacketTimeSupported(0.125))
	assert.False(t, PacketTimeSupported(0.5))
}

func TestParseAudioFormat(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expect      AudioFormat
		expectError bool
	}{
		{
			name:  "stereo L24",
			input: "L24/48000/2",
			expect: AudioFormat{
				SampleRate:  48000,
				FrameFormat: FrameFormat{Channels: 2, SampleFormat: L24},
			},
		},
		{
			name:  "channel count defaults to one",
			input: "L16/44100",
			expect: AudioFormat{
				SampleRate:  44100,
				FrameFormat: FrameFormat{Channels: 1, SampleFormat: L16},
			},
		},
		{
			name:        "unknown encoding",
			input:       "L20/48000/2",
			expectError: true,
		},
		{
			name:        "garbage sample rate",
			input:       "L24/fast/2",
			expectError: true,
		},
		{
			name:        "too few fields",
			input:       "L24",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAudioFormat(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expect, got)
		})
	}
}
