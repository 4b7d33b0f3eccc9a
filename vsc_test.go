package aes67

import (
	"net"
	"testing"

	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/sdp"
	"github.com/babymotte/aes67-vsc-2/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRxDescriptor(id string) stream.RxDescriptor {
	return stream.RxDescriptor{
		ID: id,
		Session: &sdp.Session{
			DestIP:      net.ParseIP("127.0.0.1"),
			Port:        0,
			PayloadType: 98,
			Format: media.AudioFormat{
				SampleRate:  48000,
				FrameFormat: media.FrameFormat{Channels: 2, SampleFormat: media.L24},
			},
			PacketTime: 1.0,
		},
		LinkOffset: 5,
	}
}

func testTxDescriptor(t *testing.T, id string) (stream.TxDescriptor, *net.UDPConn) {
	t.Helper()

	lc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { lc.Close() })

	return stream.TxDescriptor{
		ID: id,
		Format: media.AudioFormat{
			SampleRate:  48000,
			FrameFormat: media.FrameFormat{Channels: 2, SampleFormat: media.L24},
		},
		PacketTime:  1.0,
		PayloadType: 98,
		Destination: lc.LocalAddr().(*net.UDPAddr),
	}, lc
}

func newTestVSC(t *testing.T) *VirtualSoundCard {
	t.Helper()
	v := New("test-card", WithClock(media.NewManualClock(48000, 0)))
	t.Cleanup(v.Close)
	return v
}

func TestReceiverLifecycle(t *testing.T) {
	v := newTestVSC(t)

	r, err := v.CreateReceiver(testRxDescriptor("rx-1"))
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "rx-1", r.ID())

	got, err := v.Receiver("rx-1")
	require.NoError(t, err)
	assert.Same(t, r, got)

	_, err = v.CreateReceiver(testRxDescriptor("rx-1"))
	assert.ErrorIs(t, err, ErrReceiverExists)

	require.NoError(t, v.DestroyReceiver("rx-1"))
	assert.Equal(t, stream.StateDestroyed, r.State())

	_, err = v.Receiver("rx-1")
	assert.ErrorIs(t, err, ErrReceiverNotFound)
	assert.ErrorIs(t, v.DestroyReceiver("rx-1"), ErrReceiverNotFound)
}

func TestSenderLifecycle(t *testing.T) {
	v := newTestVSC(t)

	desc, _ := testTxDescriptor(t, "tx-1")
	s, err := v.CreateSender(desc)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", s.ID())

	got, err := v.Sender("tx-1")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = v.CreateSender(desc)
	assert.ErrorIs(t, err, ErrSenderExists)

	require.NoError(t, v.DestroySender("tx-1"))
	assert.Equal(t, stream.StateDestroyed, s.State())

	_, err = v.Sender("tx-1")
	assert.ErrorIs(t, err, ErrSenderNotFound)
}

func TestCreateValidation(t *testing.T) {
	v := newTestVSC(t)

	tests := []struct {
		name        string
		create      func() error
		expectError error
	}{
		{
			name: "empty receiver id",
			create: func() error {
				_, err := v.CreateReceiver(testRxDescriptor(""))
				return err
			},
			expectError: ErrEmptyID,
		},
		{
			name: "missing session",
			create: func() error {
				desc := testRxDescriptor("rx-x")
				desc.Session = nil
				_, err := v.CreateReceiver(desc)
				return err
			},
			expectError: stream.ErrNoSession,
		},
		{
			name: "invalid link offset",
			create: func() error {
				desc := testRxDescriptor("rx-x")
				desc.LinkOffset = -1
				_, err := v.CreateReceiver(desc)
				return err
			},
			expectError: stream.ErrInvalidLinkOffset,
		},
		{
			name: "empty sender id",
			create: func() error {
				desc, _ := testTxDescriptor(t, "")
				_, err := v.CreateSender(desc)
				return err
			},
			expectError: ErrEmptyID,
		},
		{
			name: "sender without destination",
			create: func() error {
				desc, _ := testTxDescriptor(t, "tx-x")
				desc.Destination = nil
				_, err := v.CreateSender(desc)
				return err
			},
			expectError: stream.ErrNoDestination,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.create()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expectError)
		})
	}

	// Failed creates leave nothing behind.
	assert.Empty(t, v.ReceiverIDs())
	assert.Empty(t, v.SenderIDs())
}

func TestEnumeration(t *testing.T) {
	v := newTestVSC(t)

	for _, id := range []string{"rx-b", "rx-a", "rx-c"} {
		_, err := v.CreateReceiver(testRxDescriptor(id))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"rx-a", "rx-b", "rx-c"}, v.ReceiverIDs())
	assert.Empty(t, v.SenderIDs())
}

func TestClose(t *testing.T) {
	v := New("test-card", WithClock(media.NewManualClock(48000, 0)))

	r, err := v.CreateReceiver(testRxDescriptor("rx-1"))
	require.NoError(t, err)

	v.Close()
	assert.Equal(t, stream.StateDestroyed, r.State())
	assert.Empty(t, v.ReceiverIDs())

	_, err = v.CreateReceiver(testRxDescriptor("rx-2"))
	assert.ErrorIs(t, err, ErrClosed)

	// Idempotent.
	v.Close()
}
