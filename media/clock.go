package media

import "sync/atomic"

// MediaTime is an unsigned count of frames since the PTP epoch at a fixed
// sample rate. It is the sole join key between network packet arrival and
// the local audio service cycle.
type MediaTime uint64

// Clock projects a synchronized wall clock onto a stream's sample-indexed
// timeline. Implementations must be safe for concurrent use; Now must not
// allocate so that it can be called from the real-time service cycle.
type Clock interface {
	// Now returns the current media time. The projection truncates, so
	// under a monotonic source the returned value never decreases.
	Now() MediaTime

	// WallNanos returns the current wall-clock time in nanoseconds since
	// the PTP epoch. Used for delay measurements and logging, never for
	// buffer addressing.
	WallNanos() uint64
}

// SystemClock derives media time from the operating system's TAI clock.
// On hosts where PTP time is steered into CLOCK_TAI (e.g. by ptp4l/phc2sys)
// this yields a network-synchronized media clock; elsewhere it degrades to
// the realtime clock shifted by the current TAI-UTC offset.
type SystemClock struct {
	sampleRate uint64
}

// NewSystemClock creates a system media clock for the given sample rate.
func NewSystemClock(sampleRate int) *SystemClock {
	return &SystemClock{sampleRate: uint64(sampleRate)}
}

func (c *SystemClock) Now() MediaTime {
	sec, nsec := taiNow()
	return MediaTime(uint64(sec)*c.sampleRate + uint64(nsec)*c.sampleRate/1_000_000_000)
}

func (c *SystemClock) WallNanos() uint64 {
	sec, nsec := taiNow()
	return uint64(sec)*1_000_000_000 + uint64(nsec)
}

// ManualClock is a Clock whose time is advanced explicitly by the caller.
// It exists for deterministic tests of time-dependent behavior.
type ManualClock struct {
	sampleRate uint64
	now        atomic.Uint64
}

// NewManualClock creates a manual clock starting at the given media time.
func NewManualClock(sampleRate int, start MediaTime) *ManualClock {
	c := &ManualClock{sampleRate: uint64(sampleRate)}
	c.now.Store(uint64(start))
	return c
}

func (c *ManualClock) Now() MediaTime {
	return MediaTime(c.now.Load())
}

func (c *ManualClock) WallNanos() uint64 {
	return c.now.Load() * 1_000_000_000 / c.sampleRate
}

// Set moves the clock to the given media time.
func (c *ManualClock) Set(t MediaTime) {
	c.now.Store(uint64(t))
}

// Advance moves the clock forward by the given number of frames.
func (c *ManualClock) Advance(frames uint64) {
	c.now.Add(frames)
}
