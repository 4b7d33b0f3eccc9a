package stream

import (
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

// rtpTimestampWrap is the modulus of the 32-bit RTP timestamp space.
const rtpTimestampWrap = uint64(1) << 32

// Receiver is a stream instance that subscribes to an AES67 session and
// surfaces its audio through clock-addressed reads.
//
// Three execution contexts touch a receiver: the network goroutine started
// by NewReceiver writes arriving RTP payloads into the buffer, the host's
// real-time service cycle calls Receive, and the owning registry calls
// Destroy. Receive is lock-free and allocation-free; all coordination goes
// through the buffer's atomic markers and the atomic state word.
type Receiver struct {
	desc    RxDescriptor
	clock   media.Clock
	buf     *buffer.Buffer
	stats   *monitoring.StreamStats
	log     *logrus.Entry
	created time.Time

	state     atomic.Int32
	muteLeft  atomic.Int64
	lastCycle atomic.Uint64 // playout time of the last serviced cycle, plus one

	linkOffsetFrames uint64
	framesPerPacket  uint32

	conn *net.UDPConn

	// Ingress state below is owned exclusively by the network goroutine.
	hasLast  bool
	lastSeq  uint16
	lastTS   uint32
	tsOffset uint64
	delay    delayTracker
}

// NewReceiver validates the descriptor, allocates the stream buffer, opens
// the session's socket and starts the ingress goroutine.
//
// stats may be nil, in which case no metrics are recorded.
func NewReceiver(desc RxDescriptor, clock media.Clock, stats *monitoring.StreamStats) (*Receiver, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	conn, err := openRxConn(desc.Session, desc.InterfaceIP)
	if err != nil {
		return nil, err
	}

	format := desc.Format()
	r := &Receiver{
		desc:             desc,
		clock:            clock,
		buf:              buffer.New(format, desc.bufferTime()),
		stats:            stats,
		log:              logrus.WithFields(logrus.Fields{"receiver": desc.ID}),
		created:          time.Now(),
		linkOffsetFrames: uint64(format.FramesPerDuration(desc.LinkOffset)),
		framesPerPacket:  uint32(format.FramesPerPacket(desc.Session.PacketTime)),
		conn:             conn,
		delay:            newDelayTracker(desc.Session.PacketTime),
	}
	r.state.Store(int32(StateCreated))

	go r.rxLoop()

	stats.StreamOpened()
	r.log.WithFields(logrus.Fields{
		"format":      format.String(),
		"session":     desc.Session.Addr().String(),
		"link_offset": desc.LinkOffset,
		"buffer_time": desc.bufferTime(),
	}).Info("Receiver created")

	return r, nil
}

// ID returns the caller-chosen identifier of the receiver.
func (r *Receiver) ID() string {
	return r.desc.ID
}

// Descriptor returns the descriptor the receiver was created with.
func (r *Receiver) Descriptor() RxDescriptor {
	return r.desc
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	return State(r.state.Load())
}

// CreatedAt returns the instance creation time.
func (r *Receiver) CreatedAt() time.Time {
	return r.created
}

// Receive copies len(out)/channels interleaved frames beginning at the
// given playout time into out and reports the outcome. It never blocks,
// never allocates and is safe to call from a real-time service cycle.
//
// len(out) must be a non-zero multiple of the channel count; violating this
// is a programming error, not a runtime condition, and panics.
func (r *Receiver) Receive(playoutTime media.MediaTime, out []float32) Status {
	channels := r.desc.Format().FrameFormat.Channels
	if len(out) == 0 || len(out)%channels != 0 {
		panic(fmt.Sprintf("receive buffer length %d is not a positive multiple of channel count %d", len(out), channels))
	}

	switch r.State() {
	case StateDestroyed:
		return StatusDestroyed
	case StateClockFault:
		return StatusClockFault
	case StateCreated, StateWarmingUp:
		if r.buf.Written() < r.linkOffsetFrames {
			r.state.Store(int32(StateWarmingUp))
			return StatusNotReadyYet
		}
		r.state.Store(int32(StateStreaming))
		r.log.Info("Warm-up complete, streaming")
	}

	// Time running backward relative to the last serviced cycle means the
	// caller's clock and ours have diverged. Retrying the same playout time
	// is allowed; regressing past it is not.
	last := r.lastCycle.Load()
	if last != 0 && uint64(playoutTime) < last-1 {
		r.fault(playoutTime, "playout time moved backward")
		return StatusClockFault
	}

	// Bridge the underrun recovery window with silence. The countdown
	// decrements exactly once per serviced cycle.
	if r.muteLeft.Load() > 0 {
		r.muteLeft.Add(-1)
		zero(out)
		r.lastCycle.Store(uint64(playoutTime) + 1)
		return StatusUnderrun
	}

	switch r.buf.ReadFrames(playoutTime, out) {
	case buffer.Ready:
		if r.State() == StateMuted {
			r.state.Store(int32(StateStreaming))
			r.log.Info("Fresh data observed, mute off")
		}
		r.lastCycle.Store(uint64(playoutTime) + 1)
		return StatusOK
	case buffer.Wait:
		return StatusNoData
	case buffer.Missed:
		r.mute("requested data has already been evicted")
		r.muteLeft.Add(-1) // the entering cycle counts toward the window
		zero(out)
		r.lastCycle.Store(uint64(playoutTime) + 1)
		return StatusUnderrun
	default: // buffer.SyncError
		r.fault(playoutTime, "playout time is behind the buffer by more than its capacity")
		return StatusClockFault
	}
}

// SignalUnderrun reports an underrun detected by the local consumer (e.g.
// the audio backend ran dry). The receiver substitutes silence for the
// configured mute window before surfacing real data again.
func (r *Receiver) SignalUnderrun() {
	if s := r.State(); s == StateStreaming || s == StateMuted {
		r.mute("consumer signaled underrun")
	}
}

// Destroy tears the receiver down: the socket is closed, the ingress
// goroutine exits and every subsequent data-path call fails. Destruction is
// immediate and does not wait for a graceful stream drain. It is invoked by
// the owning registry; the buffer's memory is released once the last
// in-flight access has completed.
func (r *Receiver) Destroy() {
	if State(r.state.Swap(int32(StateDestroyed))) == StateDestroyed {
		return
	}
	r.conn.Close()
	r.stats.StreamClosed()
	r.log.Info("Receiver destroyed")
}

// mute enters the muted state and arms the recovery countdown. The
// transition is logged exactly once.
func (r *Receiver) mute(reason string) {
	if r.State() != StateMuted {
		r.log.WithFields(logrus.Fields{"reason": reason}).Warn("Mute on")
		r.stats.Underrun()
	}
	r.state.Store(int32(StateMuted))
	r.muteLeft.Store(int64(r.desc.muteWindow()))
}

// fault enters the terminal clock-fault state. The instance must be
// destroyed and recreated; repeated faults point at a misconfigured or
// failed upstream clock source.
func (r *Receiver) fault(playoutTime media.MediaTime, reason string) {
	if r.State() == StateClockFault {
		return
	}
	r.state.Store(int32(StateClockFault))
	r.stats.ClockFault()
	end, _ := r.buf.End()
	r.log.WithFields(logrus.Fields{
		"playout_time": uint64(playoutTime),
		"buffer_end":   uint64(end),
		"reason":       reason,
	}).Error("Clock fault, instance must be recreated")
}

// rxLoop reads datagrams off the socket until the receiver is destroyed.
func (r *Receiver) rxLoop() {
	recvBuf := make([]byte, 65536)
	pkt := &rtp.Packet{}

	for {
		n, addr, err := r.conn.ReadFromUDP(recvBuf)
		if err != nil {
			if r.State() != StateDestroyed {
				r.log.WithError(err).Warn("Receive socket failed")
			}
			return
		}
		r.packetReceived(recvBuf[:n], addr, pkt)
	}
}

// packetReceived validates one datagram and writes its payload into the
// stream buffer at the media time derived from its RTP timestamp.
func (r *Receiver) packetReceived(data []byte, addr *net.UDPAddr, pkt *rtp.Packet) {
	if origin := r.desc.Session.OriginIP; origin != nil && !addr.IP.Equal(origin) {
		r.log.WithFields(logrus.Fields{"source": addr.String()}).Warn("Dropping packet from wrong sender")
		return
	}

	if err := pkt.Unmarshal(data); err != nil {
		r.log.WithError(err).Warn("Received malformed RTP packet")
		return
	}

	if pkt.PayloadType != r.desc.Session.PayloadType {
		return
	}

	if !r.trackSequence(pkt) {
		return
	}

	ingressTime := int64(pkt.Timestamp) - int64(r.desc.Session.RTPOffset) + int64(r.tsOffset)
	if ingressTime < 0 {
		r.log.WithFields(logrus.Fields{"timestamp": pkt.Timestamp}).Warn("Dropping packet with pre-epoch media time")
		return
	}

	r.observeDelay(ingressTime)

	if r.buf.WritePCM(media.MediaTime(ingressTime), pkt.Payload) {
		r.stats.PacketsReceived(1)
	} else {
		// The data is unrecoverably late. Expected under network jitter.
		r.stats.LateWrite()
	}
}

// trackSequence validates sequence/timestamp consistency and maintains the
// 64-bit timestamp offset across 32-bit RTP timestamp wraps. It reports
// whether the packet should be written to the buffer.
func (r *Receiver) trackSequence(pkt *rtp.Packet) bool {
	seq, ts := pkt.SequenceNumber, pkt.Timestamp

	if !r.hasLast {
		r.calibrate(ts)
		r.hasLast = true
		r.lastSeq, r.lastTS = seq, ts
		return true
	}

	if expected := r.lastSeq + 1; seq != expected {
		r.stats.SequenceGap()
		diff := int16(seq - expected)
		consistentTS := r.lastTS + r.framesPerPacket + uint32(int32(r.framesPerPacket)*int32(diff))
		if ts != consistentTS {
			r.log.WithFields(logrus.Fields{
				"sequence":  seq,
				"expected":  expected,
				"timestamp": ts,
			}).Warn("Out-of-order packet with inconsistent timestamp, discarding")
			return false
		}
		r.log.WithFields(logrus.Fields{
			"sequence": seq,
			"expected": expected,
		}).Info("Out-of-order packet is consistent with its timestamp, queuing for playout")
	}

	// A timestamp that jumped back by more than half the 32-bit range is a
	// wrap, not reordering.
	if ts < r.lastTS && r.lastTS-ts > 1<<31 {
		r.tsOffset += rtpTimestampWrap
		r.log.WithFields(logrus.Fields{"offset": r.tsOffset}).Info("RTP timestamp wrapped")
	}

	r.lastSeq, r.lastTS = seq, ts
	return true
}

// calibrate derives the 64-bit timestamp offset from the current media
// clock: the offset is the media time of the last 32-bit wrap, so that
// offset + rtp timestamp yields an unwrapped media clock time.
func (r *Receiver) calibrate(ts uint32) {
	mediaNow := uint64(r.clock.Now())
	offset := (mediaNow / rtpTimestampWrap) * rtpTimestampWrap

	if mediaNow%rtpTimestampWrap < uint64(ts) && offset >= rtpTimestampWrap {
		// The clock has wrapped past the timestamp; the packet belongs to
		// the previous wrap period.
		offset -= rtpTimestampWrap
	}

	r.tsOffset = offset
	r.log.WithFields(logrus.Fields{
		"rtp_timestamp": ts,
		"offset":        offset,
	}).Info("Calibrated RTP timestamp offset")
}

// observeDelay feeds the rolling network delay average and reports it once
// per full window.
func (r *Receiver) observeDelay(ingressTime int64) {
	d := int64(r.clock.Now()) - ingressTime
	if avg, ok := r.delay.update(d); ok {
		seconds := float64(avg) / float64(r.desc.Format().SampleRate)
		r.stats.NetworkDelay(seconds)
		r.log.WithFields(logrus.Fields{
			"frames": avg,
			"micros": int64(seconds * 1e6),
		}).Debug("Network delay")
	}
}

func zero(out []float32) {
	for i := range out {
		out[i] = 0
	}
}

// delayTracker computes a rolling average over roughly one second's worth
// of packet delays.
type delayTracker struct {
	window []int64
	idx    int
}

func newDelayTracker(packetTime float64) delayTracker {
	n := int(1000.0 / packetTime)
	if n < 1 {
		n = 1
	}
	return delayTracker{window: make([]int64, n)}
}

func (d *delayTracker) update(v int64) (int64, bool) {
	d.window[d.idx] = v
	d.idx++
	if d.idx < len(d.window) {
		return 0, false
	}
	d.idx = 0
	var sum int64
	for _, w := range d.window {
		sum += w
	}
	return sum / int64(len(d.window)), true
}
