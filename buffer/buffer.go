// Package buffer implements the clock-addressed stream buffer shared by all
// sender and receiver instances.
//
// The buffer is a fixed-capacity ring of interleaved float32 frames in which
// every slot is addressed by media time: frame t lives at index t modulo the
// buffer's capacity. Writes are keyed by the media time of the data they
// carry, which makes them tolerant of out-of-order arrival, and reads are
// keyed by the caller's playout or send time, which decouples them from
// network timing entirely.
//
// Design principles:
// - No locks and no allocation on either the read or the write path
// - Writes never block and never move the high-water mark backward
// - Reads never block; absence of data is reported as a status, not awaited
// - One buffer per stream instance, owned exclusively by that instance
//
// Readers and writers coordinate only through the atomic high-water mark:
// a reader only touches slots strictly below it and a writer only touches
// slots it has not yet published. When caller timelines diverge far enough
// for the two regions to overlap, the read is reported as Missed or
// SyncError before any data is copied.
package buffer

import (
	"fmt"
	"sync/atomic"

	"github.com/babymotte/aes67-vsc-2/media"
)

// DataState is the outcome of a buffer access.
type DataState int

const (
	// Ready means the requested window was present and has been copied.
	Ready DataState = iota
	// Wait means the requested window has not been written yet; the caller
	// is ahead of the data and should retry later.
	Wait
	// Missed means the requested window has already been evicted but lies
	// within one buffer capacity of the retained data; the caller fell
	// behind and lost data, but can catch up.
	Missed
	// SyncError means the requested window lies behind the retained data by
	// more than the buffer capacity; the caller's timeline can never catch
	// up to data that has already been evicted.
	SyncError
)

func (s DataState) String() string {
	switch s {
	case Ready:
		return "ready"
	case Wait:
		return "wait"
	case Missed:
		return "missed"
	case SyncError:
		return "sync error"
	default:
		return fmt.Sprintf("DataState(%d)", int(s))
	}
}

// Buffer is a clock-addressed circular frame store.
type Buffer struct {
	format media.AudioFormat
	frames uint64
	data   []float32

	// end is the media time one past the newest frame ever written, zero
	// until the first write. It only moves forward.
	end atomic.Uint64

	// start is the media time of the first frame ever written, offset by
	// one so that zero can mean "nothing written yet".
	start atomic.Uint64
}

// New creates a buffer holding bufferTime milliseconds of audio in the
// given format.
func New(format media.AudioFormat, bufferTime float64) *Buffer {
	frames := uint64(format.FramesPerDuration(bufferTime))
	if frames == 0 {
		frames = 1
	}
	return &Buffer{
		format: format,
		frames: frames,
		data:   make([]float32, frames*uint64(format.FrameFormat.Channels)),
	}
}

// Format returns the audio format the buffer was created with.
func (b *Buffer) Format() media.AudioFormat {
	return b.format
}

// Frames returns the buffer capacity in frames.
func (b *Buffer) Frames() uint64 {
	return b.frames
}

// End returns the media time one past the newest written frame and whether
// anything has been written yet.
func (b *Buffer) End() (media.MediaTime, bool) {
	end := b.end.Load()
	return media.MediaTime(end), end != 0
}

// Start returns the media time of the very first write and whether anything
// has been written yet.
func (b *Buffer) Start() (media.MediaTime, bool) {
	s := b.start.Load()
	if s == 0 {
		return 0, false
	}
	return media.MediaTime(s - 1), true
}

// Written returns the cumulative number of frames between the first write
// and the newest write. Gaps count as written; this is a measure of how far
// the stream has progressed, used for warm-up tracking.
func (b *Buffer) Written() uint64 {
	s := b.start.Load()
	if s == 0 {
		return 0
	}
	return b.end.Load() - (s - 1)
}

// WritePCM decodes interleaved big-endian PCM into the slots starting at
// media time t. Writes older than the retention window are silently
// dropped and reported as false; this is expected under network jitter,
// not an error. Trailing bytes that do not fill a whole frame are ignored.
func (b *Buffer) WritePCM(t media.MediaTime, payload []byte) bool {
	bpf := b.format.FrameFormat.BytesPerFrame()
	n := uint64(len(payload) / bpf)
	if n == 0 {
		return false
	}
	if b.late(uint64(t)) {
		return false
	}

	channels := uint64(b.format.FrameFormat.Channels)
	sf := b.format.FrameFormat.SampleFormat
	bps := sf.BytesPerSample()

	for i := uint64(0); i < n; i++ {
		slot := (uint64(t) + i) % b.frames
		base := slot * channels
		off := int(i) * bpf
		for c := uint64(0); c < channels; c++ {
			b.data[base+c] = sf.ReadFloat(payload[off+int(c)*bps:])
		}
	}

	b.publish(uint64(t), n)
	return true
}

// WriteFrames places interleaved float32 frames at media time t. Same
// retention semantics as WritePCM. len(in) must be a multiple of the
// channel count.
func (b *Buffer) WriteFrames(t media.MediaTime, in []float32) bool {
	channels := uint64(b.format.FrameFormat.Channels)
	n := uint64(len(in)) / channels
	if n == 0 {
		return false
	}
	if b.late(uint64(t)) {
		return false
	}

	start := (uint64(t) % b.frames) * channels
	end := start + uint64(len(in))
	total := uint64(len(b.data))
	if end <= total {
		copy(b.data[start:end], in)
	} else {
		pivot := total - start
		copy(b.data[start:], in[:pivot])
		copy(b.data[:end-total], in[pivot:])
	}

	b.publish(uint64(t), n)
	return true
}

// ReadFrames copies len(out)/channels interleaved frames beginning at media
// time t into out. It never blocks and never allocates. len(out) must be a
// non-zero multiple of the channel count; this is a caller contract, not a
// runtime condition.
func (b *Buffer) ReadFrames(t media.MediaTime, out []float32) DataState {
	channels := uint64(b.format.FrameFormat.Channels)
	n := uint64(len(out)) / channels

	if state := b.locate(uint64(t), n); state != Ready {
		return state
	}

	start := (uint64(t) % b.frames) * channels
	end := start + uint64(len(out))
	total := uint64(len(b.data))
	if end <= total {
		copy(out, b.data[start:end])
	} else {
		pivot := total - start
		copy(out[:pivot], b.data[start:])
		copy(out[pivot:], b.data[:end-total])
	}

	return Ready
}

// ReadPCM encodes len(out)/bytesPerFrame interleaved frames beginning at
// media time t into out as big-endian PCM. Used by the sender's egress path
// to fill RTP payloads without intermediate copies.
func (b *Buffer) ReadPCM(t media.MediaTime, out []byte) DataState {
	bpf := b.format.FrameFormat.BytesPerFrame()
	n := uint64(len(out) / bpf)

	if state := b.locate(uint64(t), n); state != Ready {
		return state
	}

	channels := uint64(b.format.FrameFormat.Channels)
	sf := b.format.FrameFormat.SampleFormat
	bps := sf.BytesPerSample()

	for i := uint64(0); i < n; i++ {
		slot := (uint64(t) + i) % b.frames
		base := slot * channels
		off := int(i) * bpf
		for c := uint64(0); c < channels; c++ {
			sf.PutFloat(out[off+int(c)*bps:], b.data[base+c])
		}
	}

	return Ready
}

// late reports whether a write starting at time t begins before the
// retention window and must be dropped. A write straddling the boundary is
// dropped whole: its head would land on the ring slots holding the newest
// retained frames.
func (b *Buffer) late(t uint64) bool {
	end := b.end.Load()
	return end > b.frames && t < end-b.frames
}

// locate classifies a read of n frames at time t against the current
// retention window.
func (b *Buffer) locate(t, n uint64) DataState {
	end := b.end.Load()
	if end == 0 || t+n > end {
		return Wait
	}
	if end > b.frames {
		oldest := end - b.frames
		if t < oldest {
			if oldest-t > b.frames {
				return SyncError
			}
			return Missed
		}
	}
	return Ready
}

// publish advances the high-water mark past the written frames. The mark
// never moves backward, so late out-of-order writes do not shrink the
// readable window.
func (b *Buffer) publish(t, n uint64) {
	b.start.CompareAndSwap(0, t+1)
	end := t + n
	for {
		cur := b.end.Load()
		if end <= cur {
			return
		}
		if b.end.CompareAndSwap(cur, end) {
			return
		}
	}
}
