package stream

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/babymotte/aes67-vsc-2/buffer"
	"github.com/babymotte/aes67-vsc-2/media"
	"github.com/babymotte/aes67-vsc-2/monitoring"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// rtpHeaderSize is the size of an RTP header without CSRCs or extensions,
// which is all an AES67 media stream ever carries.
const rtpHeaderSize = 12

// Sender is a stream instance that accepts clock-addressed audio writes and
// transmits them as an AES67 RTP stream.
//
// The caller's service cycle calls Send; a dedicated egress goroutine
// drains complete packets off the buffer and puts them on the wire. Send is
// lock-free and allocation-free.
type Sender struct {
	desc    TxDescriptor
	buf     *buffer.Buffer
	stats   *monitoring.StreamStats
	log     *logrus.Entry
	created time.Time

	state     atomic.Int32
	lastCycle atomic.Uint64 // write time of the last serviced cycle, plus one

	framesPerPacket uint64
	conn            *net.UDPConn
	done            chan struct{}
}

// NewSender validates the descriptor, allocates the stream buffer, opens
// the egress socket and starts the packetizer goroutine. Unlike receivers,
// senders need no reference to the media clock: outgoing RTP timestamps are
// derived from the write times the caller supplies.
//
// stats may be nil, in which case no metrics are recorded.
func NewSender(desc TxDescriptor, stats *monitoring.StreamStats) (*Sender, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	conn, err := openTxConn(&desc)
	if err != nil {
		return nil, err
	}

	s := &Sender{
		desc:            desc,
		buf:             buffer.New(desc.Format, desc.bufferTime()),
		stats:           stats,
		log:             logrus.WithFields(logrus.Fields{"sender": desc.ID}),
		created:         time.Now(),
		framesPerPacket: uint64(desc.Format.FramesPerPacket(desc.PacketTime)),
		conn:            conn,
		done:            make(chan struct{}),
	}
	s.state.Store(int32(StateCreated))

	go s.txLoop()

	stats.StreamOpened()
	s.log.WithFields(logrus.Fields{
		"format":      desc.Format.String(),
		"destination": desc.Destination.String(),
		"packet_time": desc.PacketTime,
	}).Info("Sender created")

	return s, nil
}

// ID returns the caller-chosen identifier of the sender.
func (s *Sender) ID() string {
	return s.desc.ID
}

// Descriptor returns the descriptor the sender was created with.
func (s *Sender) Descriptor() TxDescriptor {
	return s.desc
}

// State returns the current lifecycle state.
func (s *Sender) State() State {
	return State(s.state.Load())
}

// CreatedAt returns the instance creation time.
func (s *Sender) CreatedAt() time.Time {
	return s.created
}

// Send places len(in)/channels interleaved frames into the outgoing stream
// at the given media time. Senders need no warm-up: the first successful
// write moves the instance to streaming. Writes too old to be packetized
// are dropped without failing the call; the packetizer has already passed
// that part of the timeline. Send never blocks and never allocates.
//
// len(in) must be a non-zero multiple of the channel count; violating this
// is a programming error, not a runtime condition, and panics.
func (s *Sender) Send(writeTime media.MediaTime, in []float32) Status {
	channels := s.desc.Format.FrameFormat.Channels
	if len(in) == 0 || len(in)%channels != 0 {
		panic(fmt.Sprintf("send buffer length %d is not a positive multiple of channel count %d", len(in), channels))
	}

	switch s.State() {
	case StateDestroyed:
		return StatusDestroyed
	case StateClockFault:
		return StatusClockFault
	case StateCreated:
		s.state.Store(int32(StateStreaming))
		s.log.Info("Sender streaming")
	}

	last := s.lastCycle.Load()
	if last != 0 && uint64(writeTime) < last-1 {
		s.fault(writeTime, "write time moved backward")
		return StatusClockFault
	}

	if !s.buf.WriteFrames(writeTime, in) {
		s.stats.LateWrite()
	}
	s.lastCycle.Store(uint64(writeTime) + 1)
	return StatusOK
}

// Destroy tears the sender down: the packetizer exits, the socket is closed
// and every subsequent data-path call fails. Buffered audio that has not
// been packetized yet is discarded. It is invoked by the owning registry.
func (s *Sender) Destroy() {
	if State(s.state.Swap(int32(StateDestroyed))) == StateDestroyed {
		return
	}
	close(s.done)
	s.conn.Close()
	s.stats.StreamClosed()
	s.log.Info("Sender destroyed")
}

// fault enters the terminal clock-fault state.
func (s *Sender) fault(writeTime media.MediaTime, reason string) {
	if s.State() == StateClockFault {
		return
	}
	s.state.Store(int32(StateClockFault))
	s.stats.ClockFault()
	s.log.WithFields(logrus.Fields{
		"write_time": uint64(writeTime),
		"reason":     reason,
	}).Error("Clock fault, instance must be recreated")
}

// txLoop drains complete packets off the buffer once per packet time. The
// pace is set by the writer filling the buffer, not by the wall clock: a
// slow writer simply yields fewer packets per wakeup and a bursty one is
// smoothed out by draining everything that has become complete.
func (s *Sender) txLoop() {
	interval := time.Duration(s.desc.PacketTime * float64(time.Millisecond))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	payload := make([]byte, s.desc.Format.PayloadSize(s.desc.PacketTime))
	wire := make([]byte, rtpHeaderSize+len(payload))
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: s.desc.PayloadType,
			SSRC:        randomUint32(),
		},
		Payload: payload,
	}
	seq := uint16(randomUint32())

	var next uint64
	primed := false

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		end, ok := s.buf.End()
		if !ok {
			continue
		}
		if !primed {
			start, _ := s.buf.Start()
			next = uint64(start)
			primed = true
		}

		for next+s.framesPerPacket <= uint64(end) {
			if s.buf.ReadPCM(media.MediaTime(next), payload) != buffer.Ready {
				// The writer has lapped us. Resume at the oldest frame that
				// is still retained.
				oldest, ok := resyncTarget(s.buf, next)
				if !ok {
					break
				}
				s.log.WithFields(logrus.Fields{
					"behind": oldest - next,
				}).Warn("Packetizer fell behind, resynchronizing")
				next = oldest
				continue
			}

			pkt.Header.SequenceNumber = seq
			pkt.Header.Timestamp = uint32(next)
			n, err := pkt.MarshalTo(wire)
			if err != nil {
				s.log.WithError(err).Error("Failed to marshal RTP packet")
				return
			}
			if _, err := s.conn.Write(wire[:n]); err != nil {
				if s.State() == StateDestroyed {
					return
				}
				s.log.WithError(err).Warn("Failed to send RTP packet")
			} else {
				s.stats.PacketSent()
			}

			seq++
			next += s.framesPerPacket
		}
	}
}

// resyncTarget returns the oldest retained frame to resume draining from
// after the writer lapped the packetizer. The high-water mark is re-read
// here: the one captured before the drain loop may be stale, and the
// buffer may still be too young to have evicted anything.
func resyncTarget(buf *buffer.Buffer, next uint64) (uint64, bool) {
	end, ok := buf.End()
	if !ok || uint64(end) <= buf.Frames() {
		return 0, false
	}
	oldest := uint64(end) - buf.Frames()
	if oldest <= next {
		return 0, false
	}
	return oldest, true
}

// randomUint32 draws SSRC and initial sequence values. RFC 3550 wants both
// unpredictable.
func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
