package stream

import (
	"net"
	"testing"
	"time"

	"github.com/babymotte/aes67-vsc-2/buffer"
	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoopbackSender creates a sender pointed at a local listening socket so
// tests can inspect what goes on the wire.
func newLoopbackSender(t *testing.T) (*Sender, *net.UDPConn) {
	t.Helper()

	lc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { lc.Close() })

	s, err := NewSender(TxDescriptor{
		ID: "test-tx",
		Format: media.AudioFormat{
			SampleRate:  48000,
			FrameFormat: media.FrameFormat{Channels: 2, SampleFormat: media.L24},
		},
		PacketTime:  1.0,
		PayloadType: 98,
		Destination: lc.LocalAddr().(*net.UDPAddr),
		BufferTime:  20,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)

	return s, lc
}

func TestSenderTransmits(t *testing.T) {
	s, lc := newLoopbackSender(t)

	// 10 ms of audio, written in service-cycle sized chunks.
	for i := 0; i < 10; i++ {
		require.Equal(t, StatusOK, s.Send(media.MediaTime(i*48), frames(48, 0.5)))
	}

	require.NoError(t, lc.SetReadDeadline(time.Now().Add(2*time.Second)))

	recvBuf := make([]byte, 2048)
	var packets []rtp.Packet
	for len(packets) < 5 {
		n, err := lc.Read(recvBuf)
		require.NoError(t, err, "expected packets on the wire")

		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(append([]byte(nil), recvBuf[:n]...)))
		packets = append(packets, pkt)
	}

	first := packets[0]
	assert.Equal(t, uint8(98), first.PayloadType)
	assert.Equal(t, uint32(0), first.Timestamp)
	assert.Len(t, first.Payload, 48*2*3)
	assert.InDelta(t, 0.5, float64(media.L24.ReadFloat(first.Payload)), 1e-6)

	for i := 1; i < len(packets); i++ {
		assert.Equal(t, packets[i-1].SequenceNumber+1, packets[i].SequenceNumber)
		assert.Equal(t, packets[i-1].Timestamp+48, packets[i].Timestamp)
		assert.Equal(t, first.SSRC, packets[i].SSRC)
	}
}

func TestSenderStateMachine(t *testing.T) {
	s, _ := newLoopbackSender(t)

	assert.Equal(t, StateCreated, s.State())

	// Senders need no warm-up.
	assert.Equal(t, StatusOK, s.Send(0, frames(480, 0.5)))
	assert.Equal(t, StateStreaming, s.State())

	// Retrying the same cycle is allowed, going backward is not.
	assert.Equal(t, StatusOK, s.Send(960, frames(48, 0.5)))
	assert.Equal(t, StatusOK, s.Send(960, frames(48, 0.5)))
	assert.Equal(t, StatusClockFault, s.Send(100, frames(48, 0.5)))
	assert.Equal(t, StateClockFault, s.State())
	assert.Equal(t, StatusClockFault, s.Send(2000, frames(48, 0.5)))
}

func TestSenderDestroy(t *testing.T) {
	s, _ := newLoopbackSender(t)

	s.Destroy()
	assert.Equal(t, StateDestroyed, s.State())
	assert.Equal(t, StatusDestroyed, s.Send(0, frames(48, 0.5)))
	s.Destroy()
}

func TestResyncTarget(t *testing.T) {
	format := media.AudioFormat{
		SampleRate:  48000,
		FrameFormat: media.FrameFormat{Channels: 2, SampleFormat: media.L24},
	}
	b := buffer.New(format, 20.0) // 960 frames

	// Empty buffer: nowhere to resume.
	_, ok := resyncTarget(b, 0)
	assert.False(t, ok)

	// Young buffer, nothing evicted yet. Resuming would underflow the
	// oldest-frame computation.
	b.WriteFrames(0, frames(48, 0.5))
	_, ok = resyncTarget(b, 0)
	assert.False(t, ok)

	// Writer far ahead: resume at the oldest retained frame.
	b.WriteFrames(9600, frames(48, 0.5))
	oldest, ok := resyncTarget(b, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(9648-960), oldest)

	// Already at or past the oldest retained frame: no forward skip.
	_, ok = resyncTarget(b, oldest)
	assert.False(t, ok)
}

func TestSendRejectsMisalignedBuffer(t *testing.T) {
	s, _ := newLoopbackSender(t)

	assert.Panics(t, func() { s.Send(0, make([]float32, 97)) })
	assert.Panics(t, func() { s.Send(0, nil) })
}
